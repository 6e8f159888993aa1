// Package metrics exposes supervisor and reconciler counters to
// Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ppiankov/proxyvisor/internal/reconciler"
	"github.com/ppiankov/proxyvisor/internal/supervisor"
)

const namespace = "proxyvisor"

// Registry holds every proxyvisor collector plus the Go and process
// collectors.
var Registry = prometheus.NewRegistry()

var (
	reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Count of reconciliations by outcome.",
		},
		[]string{"outcome"},
	)
	actionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_action_failures_total",
			Help:      "Count of failed proxy start or restart attempts.",
		},
		[]string{"action"},
	)
	proxyStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_starts_total",
			Help:      "Count of proxy processes launched.",
		},
	)
	proxyStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_stops_total",
			Help:      "Count of completed proxy stops.",
		},
	)
	proxyRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "proxy_running",
			Help:      "1 while the supervisor considers the proxy running.",
		},
	)
	reconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Time spent applying one notification, including the proxy restart.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Notifications waiting to be reconciled.",
		},
	)
)

var registerMetrics sync.Once

// Register all metrics.
func Register() {
	registerMetrics.Do(func() {
		Registry.MustRegister(
			reconciliations,
			actionFailures,
			proxyStarts,
			proxyStops,
			proxyRunning,
			reconcileDuration,
			queueDepth,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// RecordReconcile records one reconciliation result.
func RecordReconcile(res reconciler.Result) {
	reconciliations.WithLabelValues(string(res.Outcome)).Inc()
	reconcileDuration.Observe(res.Duration.Seconds())
	if res.ActionErr != nil {
		actionFailures.WithLabelValues(string(res.Action)).Inc()
	}
}

// processTracker turns supervisor status snapshots into start and stop
// increments.
type processTracker struct {
	mu     sync.Mutex
	starts int
	stops  int
}

var tracker processTracker

// RecordProcess records a supervisor status change.
func RecordProcess(st supervisor.Status) {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()

	if d := st.Starts - tracker.starts; d > 0 {
		proxyStarts.Add(float64(d))
	}
	if d := st.Stops - tracker.stops; d > 0 {
		proxyStops.Add(float64(d))
	}
	tracker.starts, tracker.stops = st.Starts, st.Stops

	if st.Running {
		proxyRunning.Set(1)
	} else {
		proxyRunning.Set(0)
	}
}

// SetQueueDepth records the number of pending notifications.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
