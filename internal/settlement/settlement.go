package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"raffle/internal/logger"
	"raffle/internal/metrics"
	"raffle/internal/storage"

	"go.uber.org/zap"
)

// DefaultInFlightExpiry is how long a payout stays in flight before the
// chain is checked for it.
const DefaultInFlightExpiry = 5 * time.Minute

var ErrNoVerifier = errors.New("payout in flight and no verifier configured")

// Sender performs the on-chain transfer of a payout and returns its hash.
type Sender interface {
	Send(ctx context.Context, payout *storage.Payout) (string, error)
}

// Verifier looks a payout up on chain and returns the hash that delivered it.
type Verifier interface {
	FindPayout(ctx context.Context, payout *storage.Payout) (string, bool, error)
}

// Settler drains committed payouts to the chain in sequence order. A payout
// is marked sending before it leaves, so a send whose outcome was not
// recorded is looked up on chain instead of being sent again.
type Settler struct {
	storage  storage.Storage
	sender   Sender
	verifier Verifier
	metrics  *metrics.Metrics
	interval time.Duration
	batch    int
	expiry   time.Duration
}

type Option func(*Settler)

func WithVerifier(verifier Verifier) Option {
	return func(s *Settler) {
		s.verifier = verifier
	}
}

func WithInFlightExpiry(expiry time.Duration) Option {
	return func(s *Settler) {
		s.expiry = expiry
	}
}

func NewSettler(store storage.Storage, sender Sender, m *metrics.Metrics, interval time.Duration, batch int, opts ...Option) *Settler {
	s := &Settler{
		storage:  store,
		sender:   sender,
		metrics:  m,
		interval: interval,
		batch:    batch,
		expiry:   DefaultInFlightExpiry,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run settles pending payouts every interval until ctx is done.
func (s *Settler) Run(ctx context.Context) {
	logger.Info("settlement: started", zap.Duration("interval", s.interval), zap.Int("batch", s.batch), zap.Bool("verifier", s.verifier != nil))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("settlement: tick failed, retrying next interval", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			logger.Info("settlement: stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick reconciles payouts left in flight and then sends one batch of pending
// payouts. Anything unresolved stops the tick so later payouts never
// overtake an earlier one.
func (s *Settler) Tick(ctx context.Context) (int, error) {
	settled, done, err := s.reconcile(ctx)
	if err != nil || !done {
		return settled, err
	}

	payouts, err := s.storage.GetPendingPayouts(ctx, s.batch)
	if err != nil {
		return settled, fmt.Errorf("load pending payouts: %w", err)
	}
	if len(payouts) == 0 {
		return settled, nil
	}

	logger.Debug("settlement: settling payouts...", zap.Int("count", len(payouts)))

	for _, payout := range payouts {
		if err := ctx.Err(); err != nil {
			return settled, err
		}

		if err := s.storage.MarkPayoutSending(ctx, payout.ID); err != nil {
			return settled, fmt.Errorf("mark payout %s sending: %w", payout.ID, err)
		}

		hash, err := s.sender.Send(ctx, payout)
		if err != nil {
			s.metrics.PayoutFailed()
			return settled, fmt.Errorf("payout %s: %w", payout.ID, err)
		}

		if err := s.storage.MarkPayoutSettled(ctx, payout.ID, hash); err != nil {
			logger.Error("settlement: payout sent but not marked settled, left in flight", zap.String("payout id", payout.ID), zap.String("hash", hash), zap.Error(err))
			return settled, fmt.Errorf("mark payout %s settled: %w", payout.ID, err)
		}

		s.settled(payout, hash)
		settled++
	}

	logger.Debug("settlement: settling payouts... done", zap.Int("settled", settled))
	return settled, nil
}

// reconcile resolves payouts marked sending. done is false while one of them
// is still inside its expiry window.
func (s *Settler) reconcile(ctx context.Context) (settled int, done bool, err error) {
	inFlight, err := s.storage.GetSendingPayouts(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("load in flight payouts: %w", err)
	}

	for _, payout := range inFlight {
		if payout.AttemptedAt != nil && time.Since(*payout.AttemptedAt) < s.expiry {
			logger.Debug("settlement: payout in flight, waiting", zap.String("payout id", payout.ID))
			return settled, false, nil
		}
		if s.verifier == nil {
			logger.Error("settlement: payout in flight needs manual reconciliation", zap.String("payout id", payout.ID))
			return settled, false, fmt.Errorf("payout %s: %w", payout.ID, ErrNoVerifier)
		}

		hash, found, err := s.verifier.FindPayout(ctx, payout)
		if err != nil {
			return settled, false, fmt.Errorf("look up payout %s: %w", payout.ID, err)
		}

		if !found {
			logger.Warn("settlement: in flight payout not on chain, releasing", zap.String("payout id", payout.ID))
			if err := s.storage.ReleasePayout(ctx, payout.ID); err != nil {
				return settled, false, fmt.Errorf("release payout %s: %w", payout.ID, err)
			}
			continue
		}

		if err := s.storage.MarkPayoutSettled(ctx, payout.ID, hash); err != nil {
			return settled, false, fmt.Errorf("mark payout %s settled: %w", payout.ID, err)
		}
		s.settled(payout, hash)
		settled++
	}
	return settled, true, nil
}

func (s *Settler) settled(payout *storage.Payout, hash string) {
	s.metrics.PayoutSettled()
	logger.Info("settlement: payout settled",
		zap.String("payout id", payout.ID),
		zap.Uint32("raffle id", payout.RaffleID),
		zap.String("reason", payout.Reason),
		zap.String("destination", payout.Destination),
		zap.Uint64("amount", payout.Amount),
		zap.String("hash", hash),
	)
}
