package raffle

import (
	"context"
	"fmt"
	"time"

	"raffle/internal/logger"
	"raffle/internal/storage"

	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"
)

type EventKind = storage.EventKind

const (
	RaffleCreatedEvent   = storage.RaffleCreatedEventKind
	TicketPurchasedEvent = storage.TicketPurchasedEventKind
	RaffleClosedEvent    = storage.RaffleClosedEventKind
)

// Event is a notification about a committed state change. Account is the
// organizer of a created raffle, the buyer of a ticket or the drawn winner.
type Event struct {
	Sequence    uint64
	RaffleID    RaffleID
	Kind        EventKind
	Account     ton.AccountID
	TicketsSold uint32
	MaxTickets  uint32
	TicketPrice Balance
	CreatedAt   time.Time
}

// Publisher receives events after their transaction has committed.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, event Event) {
	logger.Info(
		"events: "+event.Kind,
		zap.Uint32("raffle id", event.RaffleID),
		zap.String("account", event.Account.ToRaw()),
		zap.Uint32("tickets sold", event.TicketsSold),
		zap.Uint32("max tickets", event.MaxTickets),
		zap.Uint64("ticket price", event.TicketPrice),
	)
}

func appendEvent(ctx context.Context, tx storage.Tx, event Event) (Event, error) {
	record := &storage.Event{
		RaffleID:    event.RaffleID,
		Kind:        event.Kind,
		Account:     event.Account.ToRaw(),
		TicketsSold: event.TicketsSold,
		MaxTickets:  event.MaxTickets,
		TicketPrice: event.TicketPrice,
	}
	if err := tx.AppendEvent(ctx, record); err != nil {
		return Event{}, fmt.Errorf("append %s event: %w", event.Kind, err)
	}

	event.Sequence = record.Sequence
	event.CreatedAt = record.CreatedAt
	return event, nil
}

func fromEventRecord(record *storage.Event) (Event, error) {
	account, err := ton.ParseAccountID(record.Account)
	if err != nil {
		return Event{}, fmt.Errorf("event %d: parse account: %w", record.Sequence, err)
	}
	return Event{
		Sequence:    record.Sequence,
		RaffleID:    record.RaffleID,
		Kind:        record.Kind,
		Account:     account,
		TicketsSold: record.TicketsSold,
		MaxTickets:  record.MaxTickets,
		TicketPrice: record.TicketPrice,
		CreatedAt:   record.CreatedAt,
	}, nil
}
