package raffle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"raffle/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tonkeeper/tongo/ton"
)

var (
	organizer  = testAccount(0xA0)
	authority  = testAccount(0xAA)
	feeAccount = testAccount(0xF0)
	escrow     = testAccount(0xE0)

	scenarioParams = Params{MaxTickets: 10, TicketPrice: 1_000_000_000, FeePercent: 10, StakePercent: 20}
)

func testAccount(b byte) ton.AccountID {
	return ton.AccountID{Workchain: 0, Address: [32]byte{b}}
}

type fixedEntropy uint64

func (e fixedEntropy) Entropy(context.Context, RaffleID) (uint64, error) {
	return uint64(e), nil
}

type failingEntropy struct{}

func (failingEntropy) Entropy(context.Context, RaffleID) (uint64, error) {
	return 0, errors.New("beacon round missing")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) kinds() []EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]EventKind, 0, len(p.events))
	for _, event := range p.events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

type recordingMetrics struct {
	nopRecorder
	failures []string
	claimed  Balance
}

func (m *recordingMetrics) OperationFailed(operation string, kind string) {
	m.failures = append(m.failures, operation+"/"+kind)
}

func (m *recordingMetrics) PrizeClaimed(amount Balance) {
	m.claimed += amount
}

// rejectingStorage fails every transfer towards one destination.
type rejectingStorage struct {
	storage.Storage
	destination string
}

func (s *rejectingStorage) RunInTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.Storage.RunInTx(ctx, func(tx storage.Tx) error {
		return fn(&rejectingTx{Tx: tx, destination: s.destination})
	})
}

type rejectingTx struct {
	storage.Tx
	destination string
}

func (t *rejectingTx) Transfer(ctx context.Context, payout *storage.Payout) error {
	if payout.Destination == t.destination {
		return errors.New("destination rejected transfer")
	}
	return t.Tx.Transfer(ctx, payout)
}

func testPlatform() Platform {
	return Platform{Authority: authority, FeeAccount: feeAccount, Escrow: escrow}
}

func newTestService(t *testing.T, entropy EntropySource, opts ...Option) *Service {
	t.Helper()
	return New(testPlatform(), storage.NewMemoryStorage(), entropy, opts...)
}

func storages(t *testing.T) map[string]func() storage.Storage {
	return map[string]func() storage.Storage{
		"memory": func() storage.Storage { return storage.NewMemoryStorage() },
		"sqlite": func() storage.Storage {
			store, err := storage.NewSqliteStorage(filepath.Join(t.TempDir(), "raffle.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

func requireBalance(t *testing.T, svc *Service, account ton.AccountID, want Balance) {
	t.Helper()
	got, err := svc.GetBalance(context.Background(), account)
	require.NoError(t, err)
	require.Equal(t, want, got, "balance of %s", account.ToRaw())
}

func requireRaffle(t *testing.T, svc *Service, id RaffleID) Raffle {
	t.Helper()
	r, ok, err := svc.GetRaffleInfo(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok, "raffle %d must exist", id)
	return r
}

func TestServiceScenario(t *testing.T) {
	for name, newStorage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			publisher := &recordingPublisher{}
			svc := New(testPlatform(), newStorage(), fixedEntropy(987654321), WithPublisher(publisher))
			buyer := testAccount(0x01)

			id, err := svc.CreateRaffle(ctx, organizer, scenarioParams)
			require.NoError(t, err)
			require.Equal(t, RaffleID(1), id)

			created := requireRaffle(t, svc, id)
			assert.Equal(t, organizer, created.Organizer)
			assert.Zero(t, created.TicketsSold)
			assert.False(t, created.Winner.Set)
			assert.False(t, created.IsClosed)
			assert.Zero(t, created.TotalStake)

			require.NoError(t, svc.BuyTicket(ctx, id, buyer, 1_000_000_000))
			requireBalance(t, svc, feeAccount, 100_000_000)
			requireBalance(t, svc, organizer, 700_000_000)
			requireBalance(t, svc, escrow, 200_000_000)

			bought := requireRaffle(t, svc, id)
			assert.Equal(t, uint32(1), bought.TicketsSold)
			assert.Equal(t, Balance(200_000_000), bought.TotalStake)

			err = svc.BuyTicket(ctx, id, buyer, 1_000_000_000)
			require.ErrorIs(t, err, ErrAlreadyParticipating)
			assert.Equal(t, uint32(1), requireRaffle(t, svc, id).TicketsSold)

			require.NoError(t, svc.CloseRaffle(ctx, id, organizer))
			closed := requireRaffle(t, svc, id)
			assert.True(t, closed.IsClosed)
			winner, ok := closed.Winner.Get()
			require.True(t, ok)
			assert.Equal(t, buyer, winner)

			require.NoError(t, svc.ClaimPrize(ctx, id, buyer))
			requireBalance(t, svc, buyer, 200_000_000)
			requireBalance(t, svc, escrow, 0)
			assert.Zero(t, requireRaffle(t, svc, id).TotalStake)

			require.NoError(t, svc.ClaimPrize(ctx, id, buyer))
			requireBalance(t, svc, buyer, 200_000_000)

			payouts, err := svc.GetPayouts(ctx, id)
			require.NoError(t, err)
			require.Len(t, payouts, 3)
			assert.Equal(t, storage.FeePayoutReason, payouts[0].Reason)
			assert.Equal(t, storage.OrganizerPayoutReason, payouts[1].Reason)
			assert.Equal(t, storage.PrizePayoutReason, payouts[2].Reason)
			assert.Equal(t, buyer, payouts[2].Destination)
			assert.Equal(t, Balance(200_000_000), payouts[2].Amount)

			participants, err := svc.GetParticipants(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, []ton.AccountID{buyer}, participants)

			events, err := svc.GetEvents(ctx, id)
			require.NoError(t, err)
			require.Len(t, events, 3)
			assert.Equal(t, RaffleCreatedEvent, events[0].Kind)
			assert.Equal(t, organizer, events[0].Account)
			assert.Equal(t, Balance(1_000_000_000), events[0].TicketPrice)
			assert.Equal(t, TicketPurchasedEvent, events[1].Kind)
			assert.Equal(t, uint32(1), events[1].TicketsSold)
			assert.Equal(t, RaffleClosedEvent, events[2].Kind)
			assert.Equal(t, buyer, events[2].Account)

			assert.Equal(t, []EventKind{RaffleCreatedEvent, TicketPurchasedEvent, RaffleClosedEvent}, publisher.kinds())
		})
	}
}

func TestCreateRaffle(t *testing.T) {
	ctx := context.Background()

	t.Run("validates in order", func(t *testing.T) {
		tests := []struct {
			name   string
			params Params
			want   error
		}{
			{"zero tickets", Params{MaxTickets: 0, TicketPrice: 1}, ErrInvalidTicketCount},
			{"too many tickets", Params{MaxTickets: MaxTicketsLimit + 1, TicketPrice: MinTicketPrice}, ErrInvalidTicketCount},
			{"cheap ticket", Params{MaxTickets: 1, TicketPrice: MinTicketPrice - 1, FeePercent: 99}, ErrInvalidTicketPrice},
			{"fee too high", Params{MaxTickets: 1, TicketPrice: MinTicketPrice, FeePercent: 21, StakePercent: 99}, ErrInvalidFeePercent},
			{"stake too high", Params{MaxTickets: 1, TicketPrice: MinTicketPrice, FeePercent: 20, StakePercent: 51}, ErrInvalidStakePercent},
		}

		svc := newTestService(t, fixedEntropy(0))
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.CreateRaffle(ctx, organizer, tt.params)
				require.ErrorIs(t, err, tt.want)
			})
		}

		raffles, err := svc.ListRaffles(ctx, Filter{})
		require.NoError(t, err)
		assert.Empty(t, raffles)
	})

	t.Run("accepts boundary values", func(t *testing.T) {
		svc := newTestService(t, fixedEntropy(0))
		valid := []Params{
			{MaxTickets: 1, TicketPrice: MinTicketPrice},
			{MaxTickets: MaxTicketsLimit, TicketPrice: MinTicketPrice, FeePercent: MaxFeePercent, StakePercent: MaxStakePercent},
			{MaxTickets: 500, TicketPrice: 5 * MinTicketPrice, FeePercent: 0, StakePercent: 50},
		}

		for i, params := range valid {
			id, err := svc.CreateRaffle(ctx, organizer, params)
			require.NoError(t, err)
			require.Equal(t, RaffleID(i+1), id)

			r := requireRaffle(t, svc, id)
			assert.Equal(t, params.MaxTickets, r.MaxTickets)
			assert.Equal(t, params.TicketPrice, r.TicketPrice)
			assert.Zero(t, r.TicketsSold)
			assert.False(t, r.Winner.Set)
			assert.False(t, r.IsClosed)
			assert.Zero(t, r.TotalStake)
		}
	})

	t.Run("lists by organizer and status", func(t *testing.T) {
		svc := newTestService(t, fixedEntropy(0))
		other := testAccount(0xB0)

		first, err := svc.CreateRaffle(ctx, organizer, scenarioParams)
		require.NoError(t, err)
		second, err := svc.CreateRaffle(ctx, other, scenarioParams)
		require.NoError(t, err)

		require.NoError(t, svc.BuyTicket(ctx, second, testAccount(1), scenarioParams.TicketPrice))
		require.NoError(t, svc.CloseRaffle(ctx, second, other))

		open, err := svc.ListRaffles(ctx, Filter{Status: StatusOpen})
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, first, open[0].ID)

		mine, err := svc.ListRaffles(ctx, Filter{Organizer: NewOptAccount(other)})
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, second, mine[0].ID)
		assert.True(t, mine[0].IsClosed)
	})
}

func TestBuyTicket(t *testing.T) {
	ctx := context.Background()
	price := scenarioParams.TicketPrice

	t.Run("unknown raffle", func(t *testing.T) {
		svc := newTestService(t, fixedEntropy(0))
		require.ErrorIs(t, svc.BuyTicket(ctx, 7, testAccount(1), price), ErrRaffleNotFound)
	})

	t.Run("closed raffle wins over a wrong price", func(t *testing.T) {
		svc := newTestService(t, fixedEntropy(0))
		id, err := svc.CreateRaffle(ctx, organizer, scenarioParams)
		require.NoError(t, err)
		require.NoError(t, svc.BuyTicket(ctx, id, testAccount(1), price))
		require.NoError(t, svc.CloseRaffle(ctx, id, organizer))

		require.ErrorIs(t, svc.BuyTicket(ctx, id, testAccount(2), price), ErrRaffleClosed)
		require.ErrorIs(t, svc.BuyTicket(ctx, id, testAccount(2), price+1), ErrRaffleClosed)
	})

	t.Run("sold out", func(t *testing.T) {
		svc := newTestService(t, fixedEntropy(0))
		params := scenarioParams
		params.MaxTickets = 3
		id, err := svc.CreateRaffle(ctx, organizer, params)
		require.NoError(t, err)

		for i := byte(1); i <= 3; i++ {
			require.NoError(t, svc.BuyTicket(ctx, id, testAccount(i), price))
		}
		require.ErrorIs(t, svc.BuyTicket(ctx, id, testAccount(4), price), ErrNoTicketsAvailable)
		require.ErrorIs(t, svc.BuyTicket(ctx, id, testAccount(4), price-1), ErrNoTicketsAvailable)

		participants, err := svc.GetParticipants(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []ton.AccountID{testAccount(1), testAccount(2), testAccount(3)}, participants)
		assert.Equal(t, uint32(3), requireRaffle(t, svc, id).TicketsSold)
	})

	t.Run("exact price only", func(t *testing.T) {
		svc := newTestService(t, fixedEntropy(0))
		id, err := svc.CreateRaffle(ctx, organizer, scenarioParams)
		require.NoError(t, err)

		require.ErrorIs(t, svc.BuyTicket(ctx, id, testAccount(1), price-1), ErrInvalidTicketPrice)
		require.ErrorIs(t, svc.BuyTicket(ctx, id, testAccount(1), price+1), ErrInvalidTicketPrice)
		require.ErrorIs(t, svc.BuyTicket(ctx, id, testAccount(1), 0), ErrInvalidTicketPrice)
		requireBalance(t, svc, escrow, 0)
	})

	t.Run("skips zero shares", func(t *testing.T) {
		svc := newTestService(t, fixedEntropy(0))
		params := scenarioParams
		params.FeePercent = 0
		id, err := svc.CreateRaffle(ctx, organizer, params)
		require.NoError(t, err)

		require.NoError(t, svc.BuyTicket(ctx, id, testAccount(1), price))

		payouts, err := svc.GetPayouts(ctx, id)
		require.NoError(t, err)
		require.Len(t, payouts, 1)
		assert.Equal(t, storage.OrganizerPayoutReason, payouts[0].Reason)
		assert.Equal(t, Balance(800_000_000), payouts[0].Amount)
		requireBalance(t, svc, feeAccount, 0)
	})

	t.Run("participants match tickets sold", func(t *testing.T) {
		svc := newTestService(t, fixedEntropy(0))
		id, err := svc.CreateRaffle(ctx, organizer, scenarioParams)
		require.NoError(t, err)

		for i := byte(1); i <= 5; i++ {
			require.NoError(t, svc.BuyTicket(ctx, id, testAccount(i), price))
			require.ErrorIs(t, svc.BuyTicket(ctx, id, testAccount(i), price), ErrAlreadyParticipating)

			participants, err := svc.GetParticipants(ctx, id)
			require.NoError(t, err)
			require.Len(t, participants, int(requireRaffle(t, svc, id).TicketsSold))
		}
		assert.Equal(t, Balance(5*200_000_000), requireRaffle(t, svc, id).TotalStake)
		requireBalance(t, svc, escrow, 5*200_000_000)
	})
}

func TestCloseRaffle(t *testing.T) {
	ctx := context.Background()
	price := scenarioParams.TicketPrice

	t.Run("unknown raffle", func(t *testing.T) {
		svc := newTestService(t, fixedEntropy(0))
		require.ErrorIs(t, svc.CloseRaffle(ctx, 1, organizer), ErrRaffleNotFound)
	})

	t.Run("guards", func(t *testing.T) {
		svc := newTestService(t, fixedEntropy(0))
		id, err := svc.CreateRaffle(ctx, organizer, scenarioParams)
		require.NoError(t, err)

		require.ErrorIs(t, svc.CloseRaffle(ctx, id, testAccount(1)), ErrNotOrganizer)
		require.ErrorIs(t, svc.CloseRaffle(ctx, id, organizer), ErrNoTicketsSold)

		require.NoError(t, svc.BuyTicket(ctx, id, testAccount(1), price))
		require.NoError(t, svc.CloseRaffle(ctx, id, organizer))
		require.ErrorIs(t, svc.CloseRaffle(ctx, id, organizer), ErrRaffleClosed)
		require.ErrorIs(t, svc.CloseRaffle(ctx, id, testAccount(1)), ErrNotOrganizer)
	})

	t.Run("draws entropy modulo participant count", func(t *testing.T) {
		svc := newTestService(t, fixedEntropy(5))
		id, err := svc.CreateRaffle(ctx, organizer, scenarioParams)
		require.NoError(t, err)
		for i := byte(1); i <= 3; i++ {
			require.NoError(t, svc.BuyTicket(ctx, id, testAccount(i), price))
		}

		require.NoError(t, svc.CloseRaffle(ctx, id, organizer))
		winner, ok := requireRaffle(t, svc, id).Winner.Get()
		require.True(t, ok)
		assert.Equal(t, testAccount(3), winner)
	})

	t.Run("entropy failure keeps the raffle open", func(t *testing.T) {
		publisher := &recordingPublisher{}
		svc := newTestService(t, failingEntropy{}, WithPublisher(publisher))
		id, err := svc.CreateRaffle(ctx, organizer, scenarioParams)
		require.NoError(t, err)
		require.NoError(t, svc.BuyTicket(ctx, id, testAccount(1), price))

		err = svc.CloseRaffle(ctx, id, organizer)
		require.ErrorIs(t, err, ErrEntropyUnavailable)
		assert.Equal(t, "EntropyUnavailable", Kind(err))

		r := requireRaffle(t, svc, id)
		assert.False(t, r.IsClosed)
		assert.False(t, r.Winner.Set)
		assert.Equal(t, []EventKind{RaffleCreatedEvent, TicketPurchasedEvent}, publisher.kinds())
	})
}

func TestClaimPrize(t *testing.T) {
	ctx := context.Background()
	price := scenarioParams.TicketPrice

	t.Run("unknown raffle", func(t *testing.T) {
		svc := newTestService(t, fixedEntropy(0))
		require.ErrorIs(t, svc.ClaimPrize(ctx, 3, testAccount(1)), ErrRaffleNotFound)
	})

	t.Run("open raffle", func(t *testing.T) {
		svc := newTestService(t, fixedEntropy(0))
		id, err := svc.CreateRaffle(ctx, organizer, scenarioParams)
		require.NoError(t, err)
		require.NoError(t, svc.BuyTicket(ctx, id, testAccount(1), price))

		err = svc.ClaimPrize(ctx, id, testAccount(1))
		require.ErrorIs(t, err, ErrRaffleNotClosed)
		require.ErrorIs(t, err, ErrRaffleClosed)
		assert.Equal(t, "RaffleNotClosed", Kind(err))
	})

	t.Run("only the winner", func(t *testing.T) {
		m := &recordingMetrics{}
		svc := newTestService(t, fixedEntropy(1), WithMetrics(m))
		id, err := svc.CreateRaffle(ctx, organizer, scenarioParams)
		require.NoError(t, err)
		require.NoError(t, svc.BuyTicket(ctx, id, testAccount(1), price))
		require.NoError(t, svc.BuyTicket(ctx, id, testAccount(2), price))
		require.NoError(t, svc.CloseRaffle(ctx, id, organizer))

		require.ErrorIs(t, svc.ClaimPrize(ctx, id, testAccount(1)), ErrNotWinner)
		require.ErrorIs(t, svc.ClaimPrize(ctx, id, organizer), ErrNotWinner)

		require.NoError(t, svc.ClaimPrize(ctx, id, testAccount(2)))
		requireBalance(t, svc, testAccount(2), 400_000_000)
		require.NoError(t, svc.ClaimPrize(ctx, id, testAccount(2)))
		requireBalance(t, svc, testAccount(2), 400_000_000)

		assert.Equal(t, Balance(400_000_000), m.claimed)
		assert.Equal(t, []string{"claim_prize/NotWinner", "claim_prize/NotWinner"}, m.failures)
	})
}

func TestTransferFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	price := scenarioParams.TicketPrice

	t.Run("organizer share", func(t *testing.T) {
		publisher := &recordingPublisher{}
		store := &rejectingStorage{Storage: storage.NewMemoryStorage(), destination: organizer.ToRaw()}
		svc := New(testPlatform(), store, fixedEntropy(0), WithPublisher(publisher))

		id, err := svc.CreateRaffle(ctx, organizer, scenarioParams)
		require.NoError(t, err)

		err = svc.BuyTicket(ctx, id, testAccount(1), price)
		require.ErrorIs(t, err, ErrTransferFailed)
		assert.Equal(t, "TransferFailed", Kind(err))

		r := requireRaffle(t, svc, id)
		assert.Zero(t, r.TicketsSold)
		assert.Zero(t, r.TotalStake)

		participants, err := svc.GetParticipants(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, participants)

		requireBalance(t, svc, feeAccount, 0)
		requireBalance(t, svc, escrow, 0)

		payouts, err := svc.GetPayouts(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, payouts)

		assert.Equal(t, []EventKind{RaffleCreatedEvent}, publisher.kinds())
	})

	t.Run("prize", func(t *testing.T) {
		winner := testAccount(1)
		store := &rejectingStorage{Storage: storage.NewMemoryStorage(), destination: winner.ToRaw()}
		svc := New(testPlatform(), store, fixedEntropy(0))

		id, err := svc.CreateRaffle(ctx, organizer, scenarioParams)
		require.NoError(t, err)
		require.NoError(t, svc.BuyTicket(ctx, id, winner, price))
		require.NoError(t, svc.CloseRaffle(ctx, id, organizer))

		require.ErrorIs(t, svc.ClaimPrize(ctx, id, winner), ErrTransferFailed)
		assert.Equal(t, Balance(200_000_000), requireRaffle(t, svc, id).TotalStake)
		requireBalance(t, svc, escrow, 200_000_000)
		requireBalance(t, svc, winner, 0)
	})
}

func TestConcurrentPurchases(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, fixedEntropy(0))

	params := scenarioParams
	params.MaxTickets = 20
	id, err := svc.CreateRaffle(ctx, organizer, params)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- svc.BuyTicket(ctx, id, testAccount(byte(i+1)), params.TicketPrice)
		}(i)
	}
	wg.Wait()
	close(errs)

	var sold, soldOut int
	for err := range errs {
		switch {
		case err == nil:
			sold++
		case errors.Is(err, ErrNoTicketsAvailable):
			soldOut++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 20, sold)
	assert.Equal(t, 20, soldOut)

	participants, err := svc.GetParticipants(ctx, id)
	require.NoError(t, err)
	assert.Len(t, participants, 20)
	requireBalance(t, svc, escrow, 20*200_000_000)
}

func TestGetRaffleInfoUnknown(t *testing.T) {
	svc := newTestService(t, fixedEntropy(0))

	_, ok, err := svc.GetRaffleInfo(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, ok)

	participants, err := svc.GetParticipants(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, participants)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "Internal", Kind(errors.New("disk full")))
	assert.Equal(t, "RaffleClosed", Kind(ErrRaffleClosed))
	assert.Equal(t, "RaffleNotClosed", Kind(fmt.Errorf("claim: %w", ErrRaffleNotClosed)))
	assert.Equal(t, "TransferFailed", Kind(fmt.Errorf("%w: %w", ErrTransferFailed, storage.ErrInsufficientFunds)))
	assert.False(t, errors.Is(ErrRaffleClosed, ErrRaffleNotClosed))

	assert.Nil(t, Sentinel(errors.New("disk full")))
	assert.Equal(t, ErrRaffleNotClosed, Sentinel(fmt.Errorf("claim: %w", ErrRaffleNotClosed)))
	assert.Equal(t, ErrTransferFailed, Sentinel(fmt.Errorf("%w: %w", ErrTransferFailed, storage.ErrInsufficientFunds)))
}

func TestMaximumTicketPrice(t *testing.T) {
	params := Params{MaxTickets: 2, TicketPrice: math.MaxUint64, FeePercent: 10, StakePercent: 20}
	split := SplitPayment(math.MaxUint64, params.FeePercent, params.StakePercent)

	for name, newStorage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc := New(testPlatform(), newStorage(), fixedEntropy(0))

			id, err := svc.CreateRaffle(ctx, organizer, params)
			require.NoError(t, err)
			assert.Equal(t, Balance(math.MaxUint64), requireRaffle(t, svc, id).TicketPrice)

			require.NoError(t, svc.BuyTicket(ctx, id, testAccount(1), math.MaxUint64))
			requireBalance(t, svc, feeAccount, split.Fee)
			requireBalance(t, svc, organizer, split.Organizer)
			requireBalance(t, svc, escrow, split.Stake)

			require.NoError(t, svc.CloseRaffle(ctx, id, organizer))
			require.NoError(t, svc.ClaimPrize(ctx, id, testAccount(1)))
			requireBalance(t, svc, testAccount(1), split.Stake)
			requireBalance(t, svc, escrow, 0)
		})
	}
}

func TestPublishedEventsCarrySequences(t *testing.T) {
	for name, newStorage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			publisher := &recordingPublisher{}
			svc := New(testPlatform(), newStorage(), fixedEntropy(0), WithPublisher(publisher))

			id, err := svc.CreateRaffle(ctx, organizer, scenarioParams)
			require.NoError(t, err)
			require.NoError(t, svc.BuyTicket(ctx, id, testAccount(1), scenarioParams.TicketPrice))
			require.NoError(t, svc.CloseRaffle(ctx, id, organizer))

			stored, err := svc.GetEvents(ctx, id)
			require.NoError(t, err)
			require.Len(t, stored, 3)
			require.Len(t, publisher.events, 3)
			for i := range stored {
				assert.NotZero(t, publisher.events[i].Sequence)
				assert.Equal(t, stored[i].Sequence, publisher.events[i].Sequence)
			}
		})
	}
}

type countingEntropy struct {
	mu    sync.Mutex
	calls int
}

func (e *countingEntropy) Entropy(context.Context, RaffleID) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return 0, nil
}

func TestCloseChecksBeforeEntropy(t *testing.T) {
	ctx := context.Background()
	source := &countingEntropy{}
	svc := newTestService(t, source)

	id, err := svc.CreateRaffle(ctx, organizer, scenarioParams)
	require.NoError(t, err)

	require.ErrorIs(t, svc.CloseRaffle(ctx, id, organizer), ErrNoTicketsSold)
	require.NoError(t, svc.BuyTicket(ctx, id, testAccount(1), scenarioParams.TicketPrice))
	require.ErrorIs(t, svc.CloseRaffle(ctx, id, testAccount(1)), ErrNotOrganizer)
	require.ErrorIs(t, svc.CloseRaffle(ctx, 99, organizer), ErrRaffleNotFound)
	assert.Zero(t, source.calls)

	require.NoError(t, svc.CloseRaffle(ctx, id, organizer))
	require.ErrorIs(t, svc.CloseRaffle(ctx, id, organizer), ErrRaffleClosed)
	assert.Equal(t, 1, source.calls)
}

func TestObserveRecordsDuration(t *testing.T) {
	m := &durationMetrics{}
	svc := newTestService(t, fixedEntropy(0), WithMetrics(m))

	_, err := svc.CreateRaffle(context.Background(), organizer, scenarioParams)
	require.NoError(t, err)
	_, err = svc.CreateRaffle(context.Background(), organizer, Params{})
	require.ErrorIs(t, err, ErrInvalidTicketCount)

	assert.Equal(t, []string{createOperation, createOperation}, m.operations)
	assert.Equal(t, 1, m.created)
}

type durationMetrics struct {
	nopRecorder
	operations []string
	created    int
}

func (m *durationMetrics) RaffleCreated() { m.created++ }

func (m *durationMetrics) ObserveOperation(operation string, duration time.Duration) {
	m.operations = append(m.operations, operation)
}
