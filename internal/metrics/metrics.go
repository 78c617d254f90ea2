package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for raffle operations and payout settlement.
type Metrics struct {
	RafflesCreated prometheus.Counter
	TicketsSold    prometheus.Counter
	TicketVolume   prometheus.Counter
	RafflesClosed  prometheus.Counter
	PrizesClaimed  prometheus.Counter
	PrizeVolume    prometheus.Counter

	// Rejected or failed operations by operation and error kind
	OperationFailures *prometheus.CounterVec

	OperationLatency *prometheus.HistogramVec

	PayoutsSettled prometheus.Counter
	PayoutFailures prometheus.Counter
}

// New registers all raffle metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RafflesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "raffle_created_total",
			Help: "Total raffles created",
		}),
		TicketsSold: factory.NewCounter(prometheus.CounterOpts{
			Name: "raffle_tickets_sold_total",
			Help: "Total tickets sold across all raffles",
		}),
		TicketVolume: factory.NewCounter(prometheus.CounterOpts{
			Name: "raffle_ticket_volume_nanotons_total",
			Help: "Sum of ticket payments in nanotons",
		}),
		RafflesClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "raffle_closed_total",
			Help: "Total raffles closed with a drawn winner",
		}),
		PrizesClaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "raffle_prizes_claimed_total",
			Help: "Total prize claims that moved funds",
		}),
		PrizeVolume: factory.NewCounter(prometheus.CounterOpts{
			Name: "raffle_prize_volume_nanotons_total",
			Help: "Sum of claimed prizes in nanotons",
		}),
		OperationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_operation_failures_total",
			Help: "Failed raffle operations by operation and error kind",
		}, []string{"operation", "kind"}),
		OperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "raffle_operation_duration_seconds",
			Help:    "Duration of raffle operations including the storage transaction",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		PayoutsSettled: factory.NewCounter(prometheus.CounterOpts{
			Name: "raffle_payouts_settled_total",
			Help: "Payouts sent on chain and marked settled",
		}),
		PayoutFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "raffle_payout_failures_total",
			Help: "Payout send attempts that failed",
		}),
	}
}

func (m *Metrics) RaffleCreated() {
	if m != nil {
		m.RafflesCreated.Inc()
	}
}

func (m *Metrics) TicketSold(amount uint64) {
	if m != nil {
		m.TicketsSold.Inc()
		m.TicketVolume.Add(float64(amount))
	}
}

func (m *Metrics) RaffleClosed() {
	if m != nil {
		m.RafflesClosed.Inc()
	}
}

func (m *Metrics) PrizeClaimed(amount uint64) {
	if m != nil {
		m.PrizesClaimed.Inc()
		m.PrizeVolume.Add(float64(amount))
	}
}

func (m *Metrics) OperationFailed(operation string, kind string) {
	if m != nil {
		m.OperationFailures.WithLabelValues(operation, kind).Inc()
	}
}

func (m *Metrics) ObserveOperation(operation string, d time.Duration) {
	if m != nil {
		m.OperationLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

func (m *Metrics) PayoutSettled() {
	if m != nil {
		m.PayoutsSettled.Inc()
	}
}

func (m *Metrics) PayoutFailed() {
	if m != nil {
		m.PayoutFailures.Inc()
	}
}
