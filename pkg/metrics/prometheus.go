// Package metrics provides Prometheus metrics for the popkomodo session client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultReverted = "reverted"
	ResultFailed   = "failed"
	ResultSkipped  = "skipped"
)

// Manager owns every collector exported by the client.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	registry       prometheus.Registerer

	// Local accumulation
	tapsRegistered prometheus.Counter
	tapsSaturated  prometheus.Counter
	pendingPops    prometheus.Gauge

	// Transactions
	teamChoices         *prometheus.CounterVec
	submissions         *prometheus.CounterVec
	popsSubmitted       prometheus.Counter
	confirmationLatency *prometheus.HistogramVec
	inFlight            *prometheus.GaugeVec

	// Contract reads
	reads       *prometheus.CounterVec
	readLatency *prometheus.HistogramVec
	teamScore   *prometheus.GaugeVec

	// Raw transport
	writes *prometheus.CounterVec

	// Session
	connected     prometheus.Gauge
	sessionEvents *prometheus.CounterVec

	// Dispatch
	dispatchQueueSize prometheus.Gauge
	dispatchActions   *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // registry without default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "popkomodo",
		subsystem:      "client",
		latencyBuckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		registry:       prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.tapsRegistered = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "taps_registered_total",
		Help:      "Total number of taps added to pending pops",
	})
	m.tapsSaturated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "taps_saturated_total",
		Help:      "Total number of taps dropped because pending pops was at the cap",
	})
	m.pendingPops = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pending_pops",
		Help:      "Current number of un-submitted pops",
	})

	m.teamChoices = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "team_choices_total",
		Help:      "chooseTeam transactions by team and result",
	}, []string{"team", "result"})
	m.submissions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "submissions_total",
		Help:      "popBy transactions by result",
	}, []string{"result"})
	m.popsSubmitted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pops_submitted_total",
		Help:      "Total number of pops confirmed on chain by this client",
	})
	m.confirmationLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "confirmation_latency_milliseconds",
		Help:      "Time from write to confirmation in milliseconds",
		Buckets:   m.latencyBuckets,
	}, []string{"operation"})
	m.inFlight = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "operations_in_flight",
		Help:      "Mutating operations currently waiting on the chain",
	}, []string{"operation"})

	m.reads = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "contract_reads_total",
		Help:      "Contract reads by function and result",
	}, []string{"function", "result"})
	m.readLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "contract_read_latency_milliseconds",
		Help:      "Contract read latency in milliseconds",
		Buckets:   m.latencyBuckets,
	}, []string{"function"})
	m.teamScore = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "team_score",
		Help:      "Last observed on-chain score per team",
	}, []string{"team"})

	m.writes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "contract_writes_total",
		Help:      "Transactions sent to the RPC endpoint by method and result",
	}, []string{"method", "result"})

	m.connected = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "wallet_connected",
		Help:      "1 while a wallet identity is connected",
	})
	m.sessionEvents = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "session_events_total",
		Help:      "Wallet connect and disconnect events",
	}, []string{"event"})

	m.dispatchQueueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "dispatch_queue_size",
		Help:      "Actions waiting for a dispatch worker",
	})
	m.dispatchActions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "dispatch_actions_total",
		Help:      "Actions handled by dispatch workers by kind and result",
	}, []string{"kind", "result"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by endpoint and method",
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "errors_total",
		Help:      "Errors by component and type",
	}, []string{"component", "error_type"})
}

// RecordTap counts a tap; saturated taps did not change pending pops.
func RecordTap(saturated bool) {
	if saturated {
		globalManager.tapsSaturated.Inc()
		return
	}
	globalManager.tapsRegistered.Inc()
}

// UpdatePendingPops sets the pending pops gauge.
func UpdatePendingPops(n int) {
	globalManager.pendingPops.Set(float64(n))
}

// RecordTeamChoice counts a chooseTeam outcome.
func RecordTeamChoice(team, result string) {
	globalManager.teamChoices.WithLabelValues(team, result).Inc()
}

// RecordSubmission counts a popBy outcome and, on success, the pops it carried.
func RecordSubmission(result string, amount int) {
	globalManager.submissions.WithLabelValues(result).Inc()
	if result == ResultSuccess && amount > 0 {
		globalManager.popsSubmitted.Add(float64(amount))
	}
}

// RecordConfirmationLatency observes how long an operation waited on the chain.
func RecordConfirmationLatency(operation string, latencyMs float64) {
	globalManager.confirmationLatency.WithLabelValues(operation).Observe(latencyMs)
}

// SetInFlight flags whether an operation is waiting on the chain.
func SetInFlight(operation string, inFlight bool) {
	v := 0.0
	if inFlight {
		v = 1
	}
	globalManager.inFlight.WithLabelValues(operation).Set(v)
}

// RecordRead counts a contract read and its latency.
func RecordRead(function, result string, latencyMs float64) {
	globalManager.reads.WithLabelValues(function, result).Inc()
	globalManager.readLatency.WithLabelValues(function).Observe(latencyMs)
}

// RecordWrite counts a transaction handed to the RPC endpoint.
func RecordWrite(method, result string) {
	globalManager.writes.WithLabelValues(method, result).Inc()
}

// UpdateTeamScore sets the last observed score of a team.
func UpdateTeamScore(team string, score uint64) {
	globalManager.teamScore.WithLabelValues(team).Set(float64(score))
}

// SetConnected records a wallet connect or disconnect.
func SetConnected(connected bool) {
	if connected {
		globalManager.connected.Set(1)
		globalManager.sessionEvents.WithLabelValues("connect").Inc()
		return
	}
	globalManager.connected.Set(0)
	globalManager.sessionEvents.WithLabelValues("disconnect").Inc()
}

// UpdateDispatchQueueSize sets the number of queued actions.
func UpdateDispatchQueueSize(size int) {
	globalManager.dispatchQueueSize.Set(float64(size))
}

// RecordDispatch counts an action handled by a dispatch worker.
func RecordDispatch(kind, result string) {
	globalManager.dispatchActions.WithLabelValues(kind, result).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
