package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DataLayrMetrics tracks the protocol-level outcomes of the coordinator.
type DataLayrMetrics struct {
	operations    *prometheus.CounterVec
	confirmations prometheus.Counter
	quorumMisses  prometheus.Counter
	signedRatio   prometheus.Histogram
	challenges    *prometheus.CounterVec
	claims        prometheus.Counter
	claimedAmount prometheus.Counter
	blockHeight   prometheus.Gauge
	dropped       *prometheus.CounterVec
}

var (
	dataLayrOnce     sync.Once
	dataLayrRegistry *DataLayrMetrics
)

func DataLayr() *DataLayrMetrics {
	dataLayrOnce.Do(func() {
		dataLayrRegistry = &DataLayrMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "datalayr_operations_total",
				Help: "Count of coordinator operations by module, operation and outcome.",
			}, []string{"module", "operation", "outcome"}),
			confirmations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "datalayr_confirmations_total",
				Help: "Count of data store records confirmed.",
			}),
			quorumMisses: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "datalayr_quorum_not_met_total",
				Help: "Count of confirmations rejected for insufficient signed weight.",
			}),
			signedRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "datalayr_signed_weight_ratio",
				Help:    "Signed weight over total weight for confirmed records.",
				Buckets: []float64{0.5, 0.6, 0.66, 0.75, 0.8, 0.9, 0.95, 1},
			}),
			challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "datalayr_challenges_resolved_total",
				Help: "Count of resolved payment challenges by outcome.",
			}, []string{"outcome"}),
			claims: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "datalayr_payout_claims_total",
				Help: "Count of escrowed payments released to recipients.",
			}),
			claimedAmount: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "datalayr_payout_claimed_amount_total",
				Help: "Sum of escrowed amounts released, in base units.",
			}),
			blockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "datalayr_block_height",
				Help: "Height of the last committed state root.",
			}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "datalayr_events_dropped_total",
				Help: "Events not delivered to a slow consumer.",
			}, []string{"consumer"}),
		}
		prometheus.MustRegister(
			dataLayrRegistry.operations,
			dataLayrRegistry.confirmations,
			dataLayrRegistry.quorumMisses,
			dataLayrRegistry.signedRatio,
			dataLayrRegistry.challenges,
			dataLayrRegistry.claims,
			dataLayrRegistry.claimedAmount,
			dataLayrRegistry.blockHeight,
			dataLayrRegistry.dropped,
		)
	})
	return dataLayrRegistry
}

func (m *DataLayrMetrics) ObserveOperation(module, operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(module, operation, outcome).Inc()
}

func (m *DataLayrMetrics) ObserveConfirmation(ratio float64) {
	if m == nil {
		return
	}
	m.confirmations.Inc()
	m.signedRatio.Observe(ratio)
}

func (m *DataLayrMetrics) ObserveQuorumNotMet() {
	if m == nil {
		return
	}
	m.quorumMisses.Inc()
}

func (m *DataLayrMetrics) ObserveChallengeResolved(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.challenges.WithLabelValues(outcome).Inc()
}

// ObserveClaims records a claim call releasing count payments worth amount.
func (m *DataLayrMetrics) ObserveClaims(count int, amount float64) {
	if m == nil || count <= 0 {
		return
	}
	m.claims.Add(float64(count))
	if amount > 0 {
		m.claimedAmount.Add(amount)
	}
}

func (m *DataLayrMetrics) SetBlockHeight(height uint64) {
	if m == nil {
		return
	}
	m.blockHeight.Set(float64(height))
}

// ObserveDropped counts an event a consumer (indexer, websocket feed) could
// not keep up with.
func (m *DataLayrMetrics) ObserveDropped(consumer string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(consumer).Inc()
}
