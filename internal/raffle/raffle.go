package raffle

import (
	"fmt"

	"raffle/internal/storage"

	"github.com/tonkeeper/tongo/ton"
)

type RaffleID = uint32

// Balance is an amount in base units (nanotons).
type Balance = uint64

const (
	MaxTicketsLimit            = 10_000
	MinTicketPrice     Balance = 1_000_000_000
	MaxFeePercent              = 20
	MaxStakePercent            = 50
	MaxCombinedPercent         = 70
)

type OptAccount struct {
	Value ton.AccountID
	Set   bool
}

func NewOptAccount(v ton.AccountID) OptAccount {
	return OptAccount{Value: v, Set: true}
}

func (o OptAccount) Get() (ton.AccountID, bool) {
	return o.Value, o.Set
}

type Raffle struct {
	ID           RaffleID
	Organizer    ton.AccountID
	MaxTickets   uint32
	TicketPrice  Balance
	FeePercent   uint8
	StakePercent uint8
	TicketsSold  uint32
	Winner       OptAccount
	IsClosed     bool
	TotalStake   Balance
}

// Params are the organizer supplied settings of a new raffle.
type Params struct {
	MaxTickets   uint32
	TicketPrice  Balance
	FeePercent   uint8
	StakePercent uint8
}

// Platform holds the accounts fixed at construction. Escrow is the account
// credited with attached payments and debited by every payout.
type Platform struct {
	Authority  ton.AccountID
	FeeAccount ton.AccountID
	Escrow     ton.AccountID
}

type Status = storage.RaffleStatus

const (
	StatusAny    = storage.AnyRaffleStatus
	StatusOpen   = storage.OpenRaffleStatus
	StatusClosed = storage.ClosedRaffleStatus
)

type Filter struct {
	Organizer OptAccount
	Status    Status
}

type Payout struct {
	ID              string
	RaffleID        RaffleID
	Source          ton.AccountID
	Destination     ton.AccountID
	Amount          Balance
	Reason          storage.PayoutReason
	Status          storage.PayoutStatus
	TransactionHash string
}

func toRecord(r Raffle) *storage.Raffle {
	record := &storage.Raffle{
		ID:           r.ID,
		Organizer:    r.Organizer.ToRaw(),
		MaxTickets:   r.MaxTickets,
		TicketPrice:  r.TicketPrice,
		FeePercent:   r.FeePercent,
		StakePercent: r.StakePercent,
		TicketsSold:  r.TicketsSold,
		IsClosed:     r.IsClosed,
		TotalStake:   r.TotalStake,
	}
	if winner, ok := r.Winner.Get(); ok {
		record.Winner = winner.ToRaw()
	}
	return record
}

func fromRecord(record *storage.Raffle) (Raffle, error) {
	organizer, err := ton.ParseAccountID(record.Organizer)
	if err != nil {
		return Raffle{}, fmt.Errorf("raffle %d: parse organizer: %w", record.ID, err)
	}

	r := Raffle{
		ID:           record.ID,
		Organizer:    organizer,
		MaxTickets:   record.MaxTickets,
		TicketPrice:  record.TicketPrice,
		FeePercent:   record.FeePercent,
		StakePercent: record.StakePercent,
		TicketsSold:  record.TicketsSold,
		IsClosed:     record.IsClosed,
		TotalStake:   record.TotalStake,
	}
	if record.Winner != "" {
		winner, err := ton.ParseAccountID(record.Winner)
		if err != nil {
			return Raffle{}, fmt.Errorf("raffle %d: parse winner: %w", record.ID, err)
		}
		r.Winner = NewOptAccount(winner)
	}
	return r, nil
}

func fromPayoutRecord(record *storage.Payout) (Payout, error) {
	source, err := ton.ParseAccountID(record.Source)
	if err != nil {
		return Payout{}, fmt.Errorf("payout %s: parse source: %w", record.ID, err)
	}
	destination, err := ton.ParseAccountID(record.Destination)
	if err != nil {
		return Payout{}, fmt.Errorf("payout %s: parse destination: %w", record.ID, err)
	}

	return Payout{
		ID:              record.ID,
		RaffleID:        record.RaffleID,
		Source:          source,
		Destination:     destination,
		Amount:          record.Amount,
		Reason:          record.Reason,
		Status:          record.Status,
		TransactionHash: record.TransactionHash,
	}, nil
}
