package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Reader is the read side shared by the store and its transactions.
type Reader interface {
	GetRaffle(ctx context.Context, raffleID uint32) (*Raffle, error)
	GetRaffles(ctx context.Context, filter RaffleFilter) ([]*Raffle, error)
	GetParticipants(ctx context.Context, raffleID uint32) ([]string, error)
	GetBalance(ctx context.Context, address string) (uint64, error)
	GetEvents(ctx context.Context, raffleID uint32) ([]*Event, error)
	GetPayouts(ctx context.Context, raffleID uint32) ([]*Payout, error)
}

// Tx is the unit of work handed to RunInTx. Nothing it writes is visible
// outside the transaction until the callback returns nil.
type Tx interface {
	Reader

	AllocateRaffleID(ctx context.Context) (uint32, error)
	UpdateRaffle(ctx context.Context, raffle *Raffle) error
	AppendParticipant(ctx context.Context, raffleID uint32, address string) error

	// balance ledger
	Deposit(ctx context.Context, address string, amount uint64) error
	Transfer(ctx context.Context, payout *Payout) error

	AppendEvent(ctx context.Context, event *Event) error
}

type Storage interface {
	Reader

	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	// payout settlement: pending -> sending -> settled, sending -> pending on release
	GetPendingPayouts(ctx context.Context, limit int) ([]*Payout, error)
	GetSendingPayouts(ctx context.Context) ([]*Payout, error)
	MarkPayoutSending(ctx context.Context, payoutID string) error
	ReleasePayout(ctx context.Context, payoutID string) error
	MarkPayoutSettled(ctx context.Context, payoutID string, transactionHash string) error
}

type RaffleFilter struct {
	Organizer string
	Status    RaffleStatus
}

type RaffleStatus = string

const (
	AnyRaffleStatus    RaffleStatus = ""
	OpenRaffleStatus   RaffleStatus = "open"
	ClosedRaffleStatus RaffleStatus = "closed"
)

type PayoutReason = string

const (
	FeePayoutReason       PayoutReason = "fee"
	OrganizerPayoutReason PayoutReason = "organizer"
	PrizePayoutReason     PayoutReason = "prize"
)

type PayoutStatus = string

const (
	PendingPayoutStatus PayoutStatus = "pending"
	SendingPayoutStatus PayoutStatus = "sending"
	SettledPayoutStatus PayoutStatus = "settled"
)

type EventKind = string

const (
	RaffleCreatedEventKind   EventKind = "RaffleCreated"
	TicketPurchasedEventKind EventKind = "TicketPurchased"
	RaffleClosedEventKind    EventKind = "RaffleClosed"
)

const nextRaffleIDCounter = "next_raffle_id"

func (f RaffleFilter) matches(raffle *Raffle) bool {
	if f.Organizer != "" && raffle.Organizer != f.Organizer {
		return false
	}
	switch f.Status {
	case OpenRaffleStatus:
		return !raffle.IsClosed
	case ClosedRaffleStatus:
		return raffle.IsClosed
	}
	return true
}
