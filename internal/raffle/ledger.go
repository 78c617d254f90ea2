package raffle

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"raffle/internal/storage"

	"github.com/tonkeeper/tongo/ton"
)

// addParticipant appends account to the raffle's entry sequence. The scan
// is linear, tickets are capped at MaxTicketsLimit.
func addParticipant(ctx context.Context, tx storage.Tx, id RaffleID, account ton.AccountID) error {
	address := account.ToRaw()

	participants, err := tx.GetParticipants(ctx, id)
	if err != nil {
		return fmt.Errorf("load participants of raffle %d: %w", id, err)
	}
	if slices.Contains(participants, address) {
		return ErrAlreadyParticipating
	}

	err = tx.AppendParticipant(ctx, id, address)
	if errors.Is(err, storage.ErrConflict) {
		return ErrAlreadyParticipating
	}
	if err != nil {
		return fmt.Errorf("append participant to raffle %d: %w", id, err)
	}
	return nil
}

func listParticipants(ctx context.Context, r storage.Reader, id RaffleID) ([]ton.AccountID, error) {
	addresses, err := r.GetParticipants(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load participants of raffle %d: %w", id, err)
	}

	participants := make([]ton.AccountID, 0, len(addresses))
	for _, address := range addresses {
		account, err := ton.ParseAccountID(address)
		if err != nil {
			return nil, fmt.Errorf("raffle %d: parse participant %s: %w", id, address, err)
		}
		participants = append(participants, account)
	}
	return participants, nil
}
