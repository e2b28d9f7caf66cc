package dbconn

import (
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics receives connection-lifecycle observations. Implementations must be
// safe for concurrent use; the pool connects and commits from many goroutines.
type Metrics interface {
	// ObserveConnect is called once per successfully established connection.
	ObserveConnect(driver string)
	// ObserveStatement is called once per executed statement.
	ObserveStatement(driver string)
	// ObserveCommit is called once per commit with the issuing connection's
	// lifetime statement count and whether that count is over budget.
	ObserveCommit(driver string, statements int, overBudget bool)
}

var expvarSeq uint64

// ExpvarMetrics publishes connection counters via expvar for deployments that
// prefer process-local metrics without external dependencies.
type ExpvarMetrics struct {
	name string
	mu   sync.Mutex
	per  map[string]*ExpvarCounters
}

// ExpvarCounters is the per-driver counter block within a snapshot.
type ExpvarCounters struct {
	Connects          int64 `json:"connects_total"`
	Statements        int64 `json:"statements_total"`
	Commits           int64 `json:"commits_total"`
	CommitsOverBudget int64 `json:"commits_over_budget_total"`
}

// ExpvarMetricsSnapshot captures a read-only view of the recorded counters,
// keyed by driver name.
type ExpvarMetricsSnapshot struct {
	Drivers    map[string]ExpvarCounters `json:"drivers"`
	RecordedAt time.Time                 `json:"recorded_at"`
}

// NewExpvarMetrics constructs an expvar-backed sink and publishes it under
// the supplied name. When name is empty, a unique identifier is generated.
func NewExpvarMetrics(name string) *ExpvarMetrics {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("dbconn_metrics_%d", id)
	}
	m := &ExpvarMetrics{
		name: name,
		per:  make(map[string]*ExpvarCounters),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return m.Snapshot()
	}))
	return m
}

// Name returns the expvar export name associated with the sink.
func (m *ExpvarMetrics) Name() string { return m.name }

// Snapshot returns an immutable copy of the counters.
func (m *ExpvarMetrics) Snapshot() ExpvarMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	drivers := make(map[string]ExpvarCounters, len(m.per))
	for name, c := range m.per {
		drivers[name] = *c
	}
	return ExpvarMetricsSnapshot{Drivers: drivers, RecordedAt: time.Now().UTC()}
}

func (m *ExpvarMetrics) counters(driver string) *ExpvarCounters {
	c, ok := m.per[driver]
	if !ok {
		c = &ExpvarCounters{}
		m.per[driver] = c
	}
	return c
}

// ObserveConnect implements Metrics.
func (m *ExpvarMetrics) ObserveConnect(driver string) {
	m.mu.Lock()
	m.counters(driver).Connects++
	m.mu.Unlock()
}

// ObserveStatement implements Metrics.
func (m *ExpvarMetrics) ObserveStatement(driver string) {
	m.mu.Lock()
	m.counters(driver).Statements++
	m.mu.Unlock()
}

// ObserveCommit implements Metrics.
func (m *ExpvarMetrics) ObserveCommit(driver string, _ int, overBudget bool) {
	m.mu.Lock()
	c := m.counters(driver)
	c.Commits++
	if overBudget {
		c.CommitsOverBudget++
	}
	m.mu.Unlock()
}

// PromMetrics exports connection counters through a Prometheus registry.
type PromMetrics struct {
	connects           *prometheus.CounterVec
	statements         *prometheus.CounterVec
	commits            *prometheus.CounterVec
	commitsOverBudget  *prometheus.CounterVec
	statementsAtCommit *prometheus.HistogramVec
}

// NewPromMetrics builds and registers the counter set. A nil registerer uses
// the default registry.
func NewPromMetrics(reg prometheus.Registerer) (*PromMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PromMetrics{
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbconn_connects_total",
			Help: "Connections established, by driver.",
		}, []string{"driver"}),
		statements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbconn_statements_total",
			Help: "Statements executed, by driver.",
		}, []string{"driver"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbconn_commits_total",
			Help: "Transactions committed, by driver.",
		}, []string{"driver"}),
		commitsOverBudget: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbconn_commits_over_budget_total",
			Help: "Commits on connections whose statement count exceeded the budget, by driver.",
		}, []string{"driver"}),
		statementsAtCommit: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dbconn_statements_at_commit",
			Help:    "Connection-lifetime statement count observed at commit, by driver.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"driver"}),
	}
	for _, c := range []prometheus.Collector{
		m.connects, m.statements, m.commits, m.commitsOverBudget, m.statementsAtCommit,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("dbconn: register metrics: %w", err)
		}
	}
	return m, nil
}

// ObserveConnect implements Metrics.
func (m *PromMetrics) ObserveConnect(driver string) {
	m.connects.WithLabelValues(driver).Inc()
}

// ObserveStatement implements Metrics.
func (m *PromMetrics) ObserveStatement(driver string) {
	m.statements.WithLabelValues(driver).Inc()
}

// ObserveCommit implements Metrics.
func (m *PromMetrics) ObserveCommit(driver string, statements int, overBudget bool) {
	m.commits.WithLabelValues(driver).Inc()
	if overBudget {
		m.commitsOverBudget.WithLabelValues(driver).Inc()
	}
	m.statementsAtCommit.WithLabelValues(driver).Observe(float64(statements))
}

var (
	_ Metrics = (*ExpvarMetrics)(nil)
	_ Metrics = (*PromMetrics)(nil)
)
