package lock

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts lock traffic by outcome.
type Metrics struct {
	acquires *prometheus.CounterVec
	releases *prometheus.CounterVec
	failures *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		acquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arrowhead",
			Subsystem: "objective_lock",
			Name:      "acquire_total",
			Help:      "Lock acquire attempts by outcome (acquired, renewed, locked).",
		}, []string{"outcome"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arrowhead",
			Subsystem: "objective_lock",
			Name:      "release_total",
			Help:      "Lock release attempts by outcome (released, not_found, forbidden).",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arrowhead",
			Subsystem: "objective_lock",
			Name:      "backend_errors_total",
			Help:      "Lock backend failures by operation.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.acquires, m.releases, m.failures)
	}
	return m
}

// ObserveActive exports the number of live locks held by a MemoryStore.
func (m *Metrics) ObserveActive(reg prometheus.Registerer, store *MemoryStore) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "arrowhead",
		Subsystem: "objective_lock",
		Name:      "active",
		Help:      "Live objective locks held in process memory.",
	}, func() float64 { return float64(store.Len()) }))
}

type instrumented struct {
	next    Store
	metrics *Metrics
}

// Instrument wraps next so every call is counted.
func Instrument(next Store, metrics *Metrics) Store {
	return &instrumented{next: next, metrics: metrics}
}

func (i *instrumented) Acquire(ctx context.Context, objectiveID, userID, teamMemberID string) (AcquireResult, error) {
	res, err := i.next.Acquire(ctx, objectiveID, userID, teamMemberID)
	if err != nil {
		i.metrics.failures.WithLabelValues("acquire").Inc()
		return res, err
	}
	i.metrics.acquires.WithLabelValues(res.Outcome.String()).Inc()
	return res, nil
}

func (i *instrumented) Release(ctx context.Context, objectiveID, userID string) (ReleaseOutcome, error) {
	out, err := i.next.Release(ctx, objectiveID, userID)
	if err != nil {
		i.metrics.failures.WithLabelValues("release").Inc()
		return out, err
	}
	i.metrics.releases.WithLabelValues(out.String()).Inc()
	return out, nil
}

func (i *instrumented) Peek(ctx context.Context, objectiveID, callerTeamMemberID string) (Status, error) {
	st, err := i.next.Peek(ctx, objectiveID, callerTeamMemberID)
	if err != nil {
		i.metrics.failures.WithLabelValues("peek").Inc()
	}
	return st, err
}

func (i *instrumented) Ping(ctx context.Context) error {
	return i.next.Ping(ctx)
}
