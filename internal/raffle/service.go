package raffle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"raffle/internal/logger"
	"raffle/internal/storage"

	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"
)

// EntropySource supplies the value a winner is drawn with.
type EntropySource interface {
	Entropy(ctx context.Context, raffleID RaffleID) (uint64, error)
}

// Recorder receives operation metrics.
type Recorder interface {
	RaffleCreated()
	TicketSold(amount Balance)
	RaffleClosed()
	PrizeClaimed(amount Balance)
	OperationFailed(operation string, kind string)
	ObserveOperation(operation string, duration time.Duration)
}

const (
	createOperation = "create_raffle"
	buyOperation    = "buy_ticket"
	closeOperation  = "close_raffle"
	claimOperation  = "claim_prize"
)

type Service struct {
	platform  Platform
	store     storage.Storage
	entropy   EntropySource
	publisher Publisher
	metrics   Recorder
}

type Option func(*Service)

func WithPublisher(publisher Publisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

func WithMetrics(metrics Recorder) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

func New(platform Platform, store storage.Storage, entropy EntropySource, opts ...Option) *Service {
	s := &Service{
		platform:  platform,
		store:     store,
		entropy:   entropy,
		publisher: LogPublisher{},
		metrics:   nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Platform() Platform {
	return s.platform
}

// CreateRaffle registers a raffle organized by caller and returns its id.
func (s *Service) CreateRaffle(ctx context.Context, caller ton.AccountID, params Params) (id RaffleID, err error) {
	started := time.Now()
	defer func() { s.observe(createOperation, started, err) }()

	var event Event
	err = s.store.RunInTx(ctx, func(tx storage.Tx) error {
		created, err := createRaffle(ctx, tx, caller, params)
		if err != nil {
			return err
		}
		id = created.ID

		event, err = appendEvent(ctx, tx, Event{
			RaffleID:    created.ID,
			Kind:        RaffleCreatedEvent,
			Account:     caller,
			MaxTickets:  created.MaxTickets,
			TicketPrice: created.TicketPrice,
		})
		return err
	})
	if err != nil {
		return 0, err
	}

	logger.Info("raffle: raffle created", zap.Uint32("raffle id", id), zap.String("organizer", caller.ToRaw()))
	s.metrics.RaffleCreated()
	s.publisher.Publish(ctx, event)
	return id, nil
}

// BuyTicket sells one ticket to caller, who must attach exactly the ticket
// price. The fee and organizer shares leave the escrow immediately, the
// stake stays in it as the prize pool.
func (s *Service) BuyTicket(ctx context.Context, raffleID RaffleID, caller ton.AccountID, paid Balance) (err error) {
	started := time.Now()
	defer func() { s.observe(buyOperation, started, err) }()

	var event Event
	err = s.store.RunInTx(ctx, func(tx storage.Tx) error {
		r, err := getRaffle(ctx, tx, raffleID)
		if err != nil {
			return err
		}
		if r.IsClosed {
			return ErrRaffleClosed
		}
		if r.TicketsSold >= r.MaxTickets {
			return ErrNoTicketsAvailable
		}
		if paid != r.TicketPrice {
			return ErrInvalidTicketPrice
		}
		if err := addParticipant(ctx, tx, raffleID, caller); err != nil {
			return err
		}
		r.TicketsSold++

		split := SplitPayment(paid, r.FeePercent, r.StakePercent)
		if err := tx.Deposit(ctx, s.platform.Escrow.ToRaw(), paid); err != nil {
			return fmt.Errorf("%w: deposit %d to escrow: %w", ErrTransferFailed, paid, err)
		}
		if split.Fee > 0 {
			if err := s.transfer(ctx, tx, raffleID, storage.FeePayoutReason, s.platform.FeeAccount, split.Fee); err != nil {
				return err
			}
		}
		if split.Organizer > 0 {
			if err := s.transfer(ctx, tx, raffleID, storage.OrganizerPayoutReason, r.Organizer, split.Organizer); err != nil {
				return err
			}
		}

		if r.TotalStake+split.Stake < r.TotalStake {
			return fmt.Errorf("%w: prize pool of raffle %d overflows", ErrTransferFailed, raffleID)
		}
		r.TotalStake += split.Stake

		if err := saveRaffle(ctx, tx, r); err != nil {
			return err
		}

		event, err = appendEvent(ctx, tx, Event{
			RaffleID:    raffleID,
			Kind:        TicketPurchasedEvent,
			Account:     caller,
			TicketsSold: r.TicketsSold,
		})
		return err
	})
	if err != nil {
		return err
	}

	logger.Info("raffle: ticket purchased", zap.Uint32("raffle id", raffleID), zap.String("buyer", caller.ToRaw()), zap.Uint32("tickets sold", event.TicketsSold))
	s.metrics.TicketSold(paid)
	s.publisher.Publish(ctx, event)
	return nil
}

// CloseRaffle draws the winner. Only the organizer may close a raffle and
// only once at least one ticket has been sold. Entropy is requested after
// the checks pass and outside the transaction, since a beacon source blocks
// until its next round.
func (s *Service) CloseRaffle(ctx context.Context, raffleID RaffleID, caller ton.AccountID) (err error) {
	started := time.Now()
	defer func() { s.observe(closeOperation, started, err) }()

	r, err := getRaffle(ctx, s.store, raffleID)
	if err != nil {
		return err
	}
	if err := checkClosable(r, caller); err != nil {
		return err
	}

	value, err := s.entropy.Entropy(ctx, raffleID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEntropyUnavailable, err)
	}

	var event Event
	err = s.store.RunInTx(ctx, func(tx storage.Tx) error {
		r, err := getRaffle(ctx, tx, raffleID)
		if err != nil {
			return err
		}
		if err := checkClosable(r, caller); err != nil {
			return err
		}

		participants, err := listParticipants(ctx, tx, raffleID)
		if err != nil {
			return err
		}

		winner, ok := Pick(participants, value)
		if !ok {
			return ErrNoTicketsSold
		}
		r.Winner = NewOptAccount(winner)
		r.IsClosed = true

		if err := saveRaffle(ctx, tx, r); err != nil {
			return err
		}

		event, err = appendEvent(ctx, tx, Event{
			RaffleID:    raffleID,
			Kind:        RaffleClosedEvent,
			Account:     winner,
			TicketsSold: r.TicketsSold,
		})
		return err
	})
	if err != nil {
		return err
	}

	logger.Info("raffle: raffle closed", zap.Uint32("raffle id", raffleID), zap.String("winner", event.Account.ToRaw()))
	s.metrics.RaffleClosed()
	s.publisher.Publish(ctx, event)
	return nil
}

func checkClosable(r Raffle, caller ton.AccountID) error {
	if caller != r.Organizer {
		return ErrNotOrganizer
	}
	if r.IsClosed {
		return ErrRaffleClosed
	}
	if r.TicketsSold == 0 {
		return ErrNoTicketsSold
	}
	return nil
}

// ClaimPrize pays the prize pool to the winner. Claiming an already paid
// prize succeeds without moving funds.
func (s *Service) ClaimPrize(ctx context.Context, raffleID RaffleID, caller ton.AccountID) (err error) {
	started := time.Now()
	defer func() { s.observe(claimOperation, started, err) }()

	var prize Balance
	err = s.store.RunInTx(ctx, func(tx storage.Tx) error {
		r, err := getRaffle(ctx, tx, raffleID)
		if err != nil {
			return err
		}
		if !r.IsClosed {
			return ErrRaffleNotClosed
		}
		if winner, ok := r.Winner.Get(); !ok || winner != caller {
			return ErrNotWinner
		}
		if r.TotalStake == 0 {
			return nil
		}

		prize = r.TotalStake
		r.TotalStake = 0
		if err := saveRaffle(ctx, tx, r); err != nil {
			return err
		}
		return s.transfer(ctx, tx, raffleID, storage.PrizePayoutReason, caller, prize)
	})
	if err != nil {
		return err
	}

	if prize == 0 {
		logger.Debug("raffle: prize already claimed", zap.Uint32("raffle id", raffleID))
		return nil
	}

	logger.Info("raffle: prize claimed", zap.Uint32("raffle id", raffleID), zap.String("winner", caller.ToRaw()), zap.Uint64("amount", prize))
	s.metrics.PrizeClaimed(prize)
	return nil
}

// GetRaffleInfo returns the raffle and whether it exists.
func (s *Service) GetRaffleInfo(ctx context.Context, raffleID RaffleID) (Raffle, bool, error) {
	r, err := getRaffle(ctx, s.store, raffleID)
	if errors.Is(err, ErrRaffleNotFound) {
		return Raffle{}, false, nil
	}
	if err != nil {
		return Raffle{}, false, err
	}
	return r, true, nil
}

// GetParticipants returns the entry sequence in purchase order, empty for
// unknown raffles.
func (s *Service) GetParticipants(ctx context.Context, raffleID RaffleID) ([]ton.AccountID, error) {
	return listParticipants(ctx, s.store, raffleID)
}

func (s *Service) ListRaffles(ctx context.Context, filter Filter) ([]Raffle, error) {
	return listRaffles(ctx, s.store, filter)
}

func (s *Service) GetEvents(ctx context.Context, raffleID RaffleID) ([]Event, error) {
	records, err := s.store.GetEvents(ctx, raffleID)
	if err != nil {
		return nil, fmt.Errorf("load events of raffle %d: %w", raffleID, err)
	}

	events := make([]Event, 0, len(records))
	for _, record := range records {
		event, err := fromEventRecord(record)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func (s *Service) GetPayouts(ctx context.Context, raffleID RaffleID) ([]Payout, error) {
	records, err := s.store.GetPayouts(ctx, raffleID)
	if err != nil {
		return nil, fmt.Errorf("load payouts of raffle %d: %w", raffleID, err)
	}

	payouts := make([]Payout, 0, len(records))
	for _, record := range records {
		payout, err := fromPayoutRecord(record)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, payout)
	}
	return payouts, nil
}

func (s *Service) GetBalance(ctx context.Context, account ton.AccountID) (Balance, error) {
	balance, err := s.store.GetBalance(ctx, account.ToRaw())
	if err != nil {
		return 0, fmt.Errorf("load balance of %s: %w", account.ToRaw(), err)
	}
	return balance, nil
}

// transfer moves amount out of the escrow and queues the payout for settlement.
func (s *Service) transfer(ctx context.Context, tx storage.Tx, raffleID RaffleID, reason storage.PayoutReason, destination ton.AccountID, amount Balance) error {
	err := tx.Transfer(ctx, &storage.Payout{
		RaffleID:    raffleID,
		Source:      s.platform.Escrow.ToRaw(),
		Destination: destination.ToRaw(),
		Amount:      amount,
		Reason:      reason,
	})
	if err != nil {
		return fmt.Errorf("%w: %s payout of %d to %s: %w", ErrTransferFailed, reason, amount, destination.ToRaw(), err)
	}
	return nil
}

func (s *Service) observe(operation string, started time.Time, err error) {
	s.metrics.ObserveOperation(operation, time.Since(started))
	if err == nil {
		return
	}

	kind := Kind(err)
	s.metrics.OperationFailed(operation, kind)
	if kind == "Internal" {
		logger.Error("raffle: operation failed", zap.String("operation", operation), zap.Error(err))
		return
	}
	logger.Debug("raffle: operation rejected", zap.String("operation", operation), zap.String("kind", kind), zap.Error(err))
}

type nopRecorder struct{}

func (nopRecorder) RaffleCreated()                         {}
func (nopRecorder) TicketSold(Balance)                     {}
func (nopRecorder) RaffleClosed()                          {}
func (nopRecorder) PrizeClaimed(Balance)                   {}
func (nopRecorder) OperationFailed(string, string)         {}
func (nopRecorder) ObserveOperation(string, time.Duration) {}
