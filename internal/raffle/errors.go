package raffle

import "errors"

var (
	ErrInvalidTicketCount   = errors.New("invalid ticket count")
	ErrInvalidTicketPrice   = errors.New("invalid ticket price")
	ErrInvalidFeePercent    = errors.New("invalid fee percent")
	ErrInvalidStakePercent  = errors.New("invalid stake percent")
	ErrRaffleNotFound       = errors.New("raffle not found")
	ErrRaffleClosed         = errors.New("raffle is closed")
	ErrNoTicketsAvailable   = errors.New("no tickets available")
	ErrAlreadyParticipating = errors.New("already participating")
	ErrNotOrganizer         = errors.New("caller is not the organizer")
	ErrNoTicketsSold        = errors.New("no tickets sold")
	ErrNotWinner            = errors.New("caller is not the winner")
	ErrTransferFailed       = errors.New("transfer failed")
	ErrEntropyUnavailable   = errors.New("entropy unavailable")

	// ErrRaffleNotClosed is returned by claims on open raffles. It also
	// matches ErrRaffleClosed so callers keyed on the older kind keep working.
	ErrRaffleNotClosed error = notClosedError{}
)

type notClosedError struct{}

func (notClosedError) Error() string { return "raffle is not closed" }

func (notClosedError) Is(target error) bool { return target == ErrRaffleClosed }

// order matters: ErrRaffleNotClosed must be checked before ErrRaffleClosed
var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidTicketCount, "InvalidTicketCount"},
	{ErrInvalidTicketPrice, "InvalidTicketPrice"},
	{ErrInvalidFeePercent, "InvalidFeePercent"},
	{ErrInvalidStakePercent, "InvalidStakePercent"},
	{ErrRaffleNotFound, "RaffleNotFound"},
	{ErrRaffleNotClosed, "RaffleNotClosed"},
	{ErrRaffleClosed, "RaffleClosed"},
	{ErrNoTicketsAvailable, "NoTicketsAvailable"},
	{ErrAlreadyParticipating, "AlreadyParticipating"},
	{ErrNotOrganizer, "NotOrganizer"},
	{ErrNoTicketsSold, "NoTicketsSold"},
	{ErrNotWinner, "NotWinner"},
	{ErrTransferFailed, "TransferFailed"},
	{ErrEntropyUnavailable, "EntropyUnavailable"},
}

// Kind returns the stable name of the error kind carried by err, "Internal"
// for errors outside the taxonomy and "" for nil.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "Internal"
}

// Sentinel returns the taxonomy error carried by err, or nil when err is
// outside the taxonomy.
func Sentinel(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.err
		}
	}
	return nil
}
