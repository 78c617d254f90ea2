package raffle

import (
	"context"
	"errors"
	"fmt"

	"raffle/internal/logger"
	"raffle/internal/storage"

	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"
)

// Validate checks params in a fixed order and returns the first violation.
func (p Params) Validate() error {
	if p.MaxTickets == 0 || p.MaxTickets > MaxTicketsLimit {
		return ErrInvalidTicketCount
	}
	if p.TicketPrice < MinTicketPrice {
		return ErrInvalidTicketPrice
	}
	if p.FeePercent > MaxFeePercent {
		return ErrInvalidFeePercent
	}
	if p.StakePercent > MaxStakePercent {
		return ErrInvalidStakePercent
	}
	if uint16(p.FeePercent)+uint16(p.StakePercent) > MaxCombinedPercent {
		return ErrInvalidFeePercent
	}
	return nil
}

func createRaffle(ctx context.Context, tx storage.Tx, organizer ton.AccountID, params Params) (Raffle, error) {
	if err := params.Validate(); err != nil {
		return Raffle{}, err
	}

	id, err := tx.AllocateRaffleID(ctx)
	if err != nil {
		return Raffle{}, err
	}

	r := Raffle{
		ID:           id,
		Organizer:    organizer,
		MaxTickets:   params.MaxTickets,
		TicketPrice:  params.TicketPrice,
		FeePercent:   params.FeePercent,
		StakePercent: params.StakePercent,
	}
	if err := tx.UpdateRaffle(ctx, toRecord(r)); err != nil {
		return Raffle{}, fmt.Errorf("store raffle %d: %w", id, err)
	}

	logger.Debug("registry: raffle stored", zap.Uint32("raffle id", id), zap.String("organizer", organizer.ToRaw()))
	return r, nil
}

func getRaffle(ctx context.Context, r storage.Reader, id RaffleID) (Raffle, error) {
	record, err := r.GetRaffle(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return Raffle{}, ErrRaffleNotFound
	}
	if err != nil {
		return Raffle{}, fmt.Errorf("load raffle %d: %w", id, err)
	}
	return fromRecord(record)
}

func saveRaffle(ctx context.Context, tx storage.Tx, r Raffle) error {
	if err := tx.UpdateRaffle(ctx, toRecord(r)); err != nil {
		return fmt.Errorf("store raffle %d: %w", r.ID, err)
	}
	return nil
}

func listRaffles(ctx context.Context, r storage.Reader, filter Filter) ([]Raffle, error) {
	query := storage.RaffleFilter{Status: filter.Status}
	if organizer, ok := filter.Organizer.Get(); ok {
		query.Organizer = organizer.ToRaw()
	}

	records, err := r.GetRaffles(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list raffles: %w", err)
	}

	raffles := make([]Raffle, 0, len(records))
	for _, record := range records {
		raffle, err := fromRecord(record)
		if err != nil {
			return nil, err
		}
		raffles = append(raffles, raffle)
	}
	return raffles, nil
}
