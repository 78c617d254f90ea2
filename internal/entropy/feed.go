package entropy

import (
	"context"
	"slices"
	"sync"

	"raffle/internal/logger"

	"go.dedis.ch/kyber/v4"
	"go.uber.org/zap"
)

// MemoryFeed keeps the latest verified round published to it and wakes
// readers waiting for the next one.
type MemoryFeed struct {
	public kyber.Point

	mu        sync.RWMutex
	latest    Round
	set       bool
	published chan struct{}
}

func NewMemoryFeed(public kyber.Point) *MemoryFeed {
	return &MemoryFeed{
		public:    public,
		published: make(chan struct{}),
	}
}

// Publish accepts round if its signature verifies and it is newer than the
// current one.
func (f *MemoryFeed) Publish(round Round) error {
	if err := VerifyRound(f.public, round); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.set && round.Number <= f.latest.Number {
		return ErrStaleRound
	}
	f.latest = Round{
		Number:     round.Number,
		Randomness: slices.Clone(round.Randomness),
		Signature:  slices.Clone(round.Signature),
	}
	f.set = true

	close(f.published)
	f.published = make(chan struct{})

	logger.Debug("beacon feed: round published", zap.Uint64("round", round.Number))
	return nil
}

func (f *MemoryFeed) Latest(ctx context.Context) (Round, error) {
	if err := ctx.Err(); err != nil {
		return Round{}, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.set {
		return Round{}, ErrNoRound
	}
	return f.latest, nil
}

func (f *MemoryFeed) Next(ctx context.Context) (Round, error) {
	f.mu.RLock()
	published := f.published
	f.mu.RUnlock()

	select {
	case <-published:
	case <-ctx.Done():
		return Round{}, ctx.Err()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest, nil
}
