package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage keeps everything in maps. Transactions are serialised by a
// single mutex and write into an overlay that is merged on success.
type MemoryStorage struct {
	txMu sync.Mutex

	mu             sync.RWMutex
	raffles        map[uint32]Raffle
	participants   map[uint32][]string
	balances       map[string]uint64
	payouts        []Payout
	events         []Event
	nextRaffleID   uint32
	payoutSequence uint64
	eventSequence  uint64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		raffles:      make(map[uint32]Raffle),
		participants: make(map[uint32][]string),
		balances:     make(map[string]uint64),
		nextRaffleID: 1,
	}
}

func (s *MemoryStorage) GetRaffle(_ context.Context, raffleID uint32) (*Raffle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raffle, ok := s.raffles[raffleID]
	if !ok {
		return nil, ErrNotFound
	}
	return &raffle, nil
}

func (s *MemoryStorage) GetRaffles(_ context.Context, filter RaffleFilter) ([]*Raffle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return filterRaffles(s.raffles, nil, filter), nil
}

func (s *MemoryStorage) GetParticipants(_ context.Context, raffleID uint32) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.participants[raffleID]), nil
}

func (s *MemoryStorage) GetBalance(_ context.Context, address string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.balances[address], nil
}

func (s *MemoryStorage) GetEvents(_ context.Context, raffleID uint32) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events = make([]*Event, 0)
	for i := range s.events {
		if s.events[i].RaffleID == raffleID {
			event := s.events[i]
			events = append(events, &event)
		}
	}
	return events, nil
}

func (s *MemoryStorage) GetPayouts(_ context.Context, raffleID uint32) ([]*Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payouts = make([]*Payout, 0)
	for i := range s.payouts {
		if s.payouts[i].RaffleID == raffleID {
			payout := s.payouts[i]
			payouts = append(payouts, &payout)
		}
	}
	return payouts, nil
}

func (s *MemoryStorage) GetPendingPayouts(_ context.Context, limit int) ([]*Payout, error) {
	return s.payoutsWithStatus(PendingPayoutStatus, limit), nil
}

func (s *MemoryStorage) GetSendingPayouts(_ context.Context) ([]*Payout, error) {
	return s.payoutsWithStatus(SendingPayoutStatus, 0), nil
}

func (s *MemoryStorage) MarkPayoutSending(_ context.Context, payoutID string) error {
	return s.transitionPayout(payoutID, []PayoutStatus{PendingPayoutStatus}, func(payout *Payout) {
		attemptedAt := time.Now().UTC()
		payout.Status = SendingPayoutStatus
		payout.AttemptedAt = &attemptedAt
	})
}

func (s *MemoryStorage) ReleasePayout(_ context.Context, payoutID string) error {
	return s.transitionPayout(payoutID, []PayoutStatus{SendingPayoutStatus}, func(payout *Payout) {
		payout.Status = PendingPayoutStatus
	})
}

func (s *MemoryStorage) MarkPayoutSettled(_ context.Context, payoutID string, transactionHash string) error {
	return s.transitionPayout(payoutID, []PayoutStatus{PendingPayoutStatus, SendingPayoutStatus}, func(payout *Payout) {
		settledAt := time.Now().UTC()
		payout.Status = SettledPayoutStatus
		payout.TransactionHash = transactionHash
		payout.SettledAt = &settledAt
	})
}

func (s *MemoryStorage) payoutsWithStatus(status PayoutStatus, limit int) []*Payout {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payouts = make([]*Payout, 0)
	for i := range s.payouts {
		if limit > 0 && len(payouts) >= limit {
			break
		}
		if s.payouts[i].Status == status {
			payout := s.payouts[i]
			payouts = append(payouts, &payout)
		}
	}
	return payouts
}

func (s *MemoryStorage) transitionPayout(payoutID string, from []PayoutStatus, apply func(*Payout)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.payouts {
		if s.payouts[i].ID != payoutID {
			continue
		}
		if !slices.Contains(from, s.payouts[i].Status) {
			return ErrConflict
		}
		apply(&s.payouts[i])
		return nil
	}
	return ErrNotFound
}

func (s *MemoryStorage) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memoryTx{
		base:         s,
		raffles:      make(map[uint32]Raffle),
		participants: make(map[uint32][]string),
		balances:     make(map[string]uint64),
	}

	if err := fn(tx); err != nil {
		return err
	}

	s.commit(tx)
	return nil
}

func (s *MemoryStorage) commit(tx *memoryTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, raffle := range tx.raffles {
		s.raffles[id] = raffle
	}
	for id, appended := range tx.participants {
		s.participants[id] = append(s.participants[id], appended...)
	}
	for address, amount := range tx.balances {
		s.balances[address] = amount
	}
	if tx.nextRaffleID != 0 {
		s.nextRaffleID = tx.nextRaffleID
	}
	s.payouts = append(s.payouts, tx.payouts...)
	s.payoutSequence += uint64(len(tx.payouts))
	s.events = append(s.events, tx.events...)
	s.eventSequence += uint64(len(tx.events))
}

type memoryTx struct {
	base *MemoryStorage

	raffles      map[uint32]Raffle
	participants map[uint32][]string
	balances     map[string]uint64
	payouts      []Payout
	events       []Event
	nextRaffleID uint32
}

func (t *memoryTx) GetRaffle(ctx context.Context, raffleID uint32) (*Raffle, error) {
	if raffle, ok := t.raffles[raffleID]; ok {
		return &raffle, nil
	}
	return t.base.GetRaffle(ctx, raffleID)
}

func (t *memoryTx) GetRaffles(_ context.Context, filter RaffleFilter) ([]*Raffle, error) {
	t.base.mu.RLock()
	defer t.base.mu.RUnlock()

	return filterRaffles(t.base.raffles, t.raffles, filter), nil
}

func (t *memoryTx) GetParticipants(ctx context.Context, raffleID uint32) ([]string, error) {
	participants, err := t.base.GetParticipants(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	return append(participants, t.participants[raffleID]...), nil
}

func (t *memoryTx) GetBalance(ctx context.Context, address string) (uint64, error) {
	if amount, ok := t.balances[address]; ok {
		return amount, nil
	}
	return t.base.GetBalance(ctx, address)
}

func (t *memoryTx) GetEvents(ctx context.Context, raffleID uint32) ([]*Event, error) {
	events, err := t.base.GetEvents(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	for i := range t.events {
		if t.events[i].RaffleID == raffleID {
			event := t.events[i]
			events = append(events, &event)
		}
	}
	return events, nil
}

func (t *memoryTx) GetPayouts(ctx context.Context, raffleID uint32) ([]*Payout, error) {
	payouts, err := t.base.GetPayouts(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	for i := range t.payouts {
		if t.payouts[i].RaffleID == raffleID {
			payout := t.payouts[i]
			payouts = append(payouts, &payout)
		}
	}
	return payouts, nil
}

func (t *memoryTx) AllocateRaffleID(_ context.Context) (uint32, error) {
	next := t.nextRaffleID
	if next == 0 {
		t.base.mu.RLock()
		next = t.base.nextRaffleID
		t.base.mu.RUnlock()
	}
	if next == 0 {
		return 0, fmt.Errorf("allocate raffle id: counter exhausted: %w", ErrConflict)
	}
	t.nextRaffleID = next + 1
	return next, nil
}

func (t *memoryTx) UpdateRaffle(_ context.Context, raffle *Raffle) error {
	t.raffles[raffle.ID] = *raffle
	return nil
}

func (t *memoryTx) AppendParticipant(ctx context.Context, raffleID uint32, address string) error {
	participants, err := t.GetParticipants(ctx, raffleID)
	if err != nil {
		return err
	}
	if slices.Contains(participants, address) {
		return ErrConflict
	}
	t.participants[raffleID] = append(t.participants[raffleID], address)
	return nil
}

func (t *memoryTx) Deposit(ctx context.Context, address string, amount uint64) error {
	balance, err := t.GetBalance(ctx, address)
	if err != nil {
		return err
	}
	if balance+amount < balance {
		return fmt.Errorf("deposit to %s overflows: %w", address, ErrConflict)
	}
	t.balances[address] = balance + amount
	return nil
}

func (t *memoryTx) Transfer(ctx context.Context, payout *Payout) error {
	sourceBalance, err := t.GetBalance(ctx, payout.Source)
	if err != nil {
		return err
	}
	if sourceBalance < payout.Amount {
		return ErrInsufficientFunds
	}
	t.balances[payout.Source] = sourceBalance - payout.Amount

	if err := t.Deposit(ctx, payout.Destination, payout.Amount); err != nil {
		return err
	}

	preparePayout(payout)
	payout.Sequence = t.base.sequences().payout + uint64(len(t.payouts)) + 1
	t.payouts = append(t.payouts, *payout)
	return nil
}

func (t *memoryTx) AppendEvent(_ context.Context, event *Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.Sequence = t.base.sequences().event + uint64(len(t.events)) + 1
	t.events = append(t.events, *event)
	return nil
}

type memorySequences struct {
	payout uint64
	event  uint64
}

// sequences returns the last committed payout and event sequence numbers.
func (s *MemoryStorage) sequences() memorySequences {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return memorySequences{payout: s.payoutSequence, event: s.eventSequence}
}

func preparePayout(payout *Payout) {
	if payout.ID == "" {
		payout.ID = uuid.NewString()
	}
	payout.Status = PendingPayoutStatus
	if payout.CreatedAt.IsZero() {
		payout.CreatedAt = time.Now().UTC()
	}
}

func filterRaffles(base map[uint32]Raffle, overlay map[uint32]Raffle, filter RaffleFilter) []*Raffle {
	merged := make(map[uint32]Raffle, len(base)+len(overlay))
	for id, raffle := range base {
		merged[id] = raffle
	}
	for id, raffle := range overlay {
		merged[id] = raffle
	}

	var raffles = make([]*Raffle, 0, len(merged))
	for _, raffle := range merged {
		if filter.matches(&raffle) {
			raffles = append(raffles, &raffle)
		}
	}
	sort.Slice(raffles, func(i, j int) bool { return raffles[i].ID < raffles[j].ID })
	return raffles
}
