package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Sync holds the counters for local mutations, remote saves and realtime
// reconciliation. A nil *Sync records nothing.
type Sync struct {
	mutations    *prometheus.CounterVec
	saves        *prometheus.CounterVec
	saveDuration prometheus.Histogram
	realtime     *prometheus.CounterVec
	ledgerClears prometheus.Counter
}

func New(registerer prometheus.Registerer) *Sync {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Sync{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stokku_mutations_total",
			Help: "Local mutations by operation and result.",
		}, []string{"operation", "result"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stokku_remote_saves_total",
			Help: "Whole-document saves to the remote store by result.",
		}, []string{"result"}),
		saveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stokku_remote_save_duration_seconds",
			Help:    "Latency of whole-document saves.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		realtime: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stokku_realtime_updates_total",
			Help: "Pushed documents by reconciler outcome and reason.",
		}, []string{"state", "reason"}),
		ledgerClears: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stokku_ledger_clears_total",
			Help: "Bulk clears of the idempotency ledger.",
		}),
	}
	registerer.MustRegister(m.mutations, m.saves, m.saveDuration, m.realtime, m.ledgerClears)
	return m
}

func (m *Sync) Mutation(operation string, err error) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(operation, result(err)).Inc()
}

func (m *Sync) Save(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(result(err)).Inc()
	m.saveDuration.Observe(elapsed.Seconds())
}

func (m *Sync) Realtime(state, reason string) {
	if m == nil {
		return
	}
	m.realtime.WithLabelValues(state, reason).Inc()
}

func (m *Sync) LedgerCleared() {
	if m == nil {
		return
	}
	m.ledgerClears.Inc()
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
