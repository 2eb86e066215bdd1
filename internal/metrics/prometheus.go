package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"larkspur.is/curfew/internal/remote"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all controller metrics.
type Registry struct {
	// Toggle metrics
	Toggles        *prometheus.CounterVec
	ToggleRejected *prometheus.CounterVec

	// Exception metrics
	ExceptionsStarted *prometheus.CounterVec
	ExceptionsActive  *prometheus.GaugeVec
	Reconciliations   *prometheus.CounterVec

	// Remote API metrics
	RemoteRequests *prometheus.CounterVec
	RemoteErrors   *prometheus.CounterVec
	RemoteLatency  *prometheus.HistogramVec

	// Sync metrics
	RefreshRuns  *prometheus.CounterVec
	StaleRules   prometheus.Gauge
	TrackedRules prometheus.Gauge

	// Probe metrics
	GatewayReachable prometheus.Gauge
	ProbesTotal      *prometheus.CounterVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.Toggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curfew_toggles_total",
		Help: "Toggle operations by intent and outcome",
	}, []string{"intent", "outcome"})

	r.ToggleRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curfew_toggles_rejected_total",
		Help: "Toggle operations rejected while another was in flight",
	}, []string{"intent"})

	r.ExceptionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curfew_exceptions_started_total",
		Help: "Temporary exceptions started by kind",
	}, []string{"kind"})

	r.ExceptionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "curfew_exceptions_active",
		Help: "Currently active temporary exceptions by kind",
	}, []string{"kind"})

	r.Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curfew_reconciliations_total",
		Help: "Exception expiry reconciliation runs by outcome",
	}, []string{"kind", "outcome"})

	r.RemoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curfew_remote_requests_total",
		Help: "Requests sent to the rule API",
	}, []string{"op"})

	r.RemoteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curfew_remote_errors_total",
		Help: "Rule API failures by error class",
	}, []string{"op", "class"})

	r.RemoteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "curfew_remote_request_duration_seconds",
		Help:    "Rule API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	r.RefreshRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curfew_refresh_runs_total",
		Help: "Remote refresh cycles by status",
	}, []string{"status"})

	r.StaleRules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "curfew_stale_rules",
		Help: "Tracked rules whose remote copy is missing or diverged",
	})

	r.TrackedRules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "curfew_tracked_rules",
		Help: "Rules currently under management",
	})

	r.GatewayReachable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "curfew_gateway_reachable",
		Help: "1 if the last gateway probe succeeded, 0 otherwise",
	})

	r.ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curfew_probes_total",
		Help: "Gateway reachability probes by result",
	}, []string{"result"})

	return r
}

// RecordToggle records a toggle attempt.
func (r *Registry) RecordToggle(intent string, err error) {
	r.Toggles.WithLabelValues(intent, outcome(err)).Inc()
}

// RecordRemote records one rule API call.
func (r *Registry) RecordRemote(op string, duration float64, err error) {
	r.RemoteRequests.WithLabelValues(op).Inc()
	r.RemoteLatency.WithLabelValues(op).Observe(duration)
	if err != nil {
		r.RemoteErrors.WithLabelValues(op, errorClass(err)).Inc()
	}
}

// RecordProbe records a gateway reachability probe.
func (r *Registry) RecordProbe(reachable bool) {
	if reachable {
		r.GatewayReachable.Set(1)
		r.ProbesTotal.WithLabelValues("up").Inc()
	} else {
		r.GatewayReachable.Set(0)
		r.ProbesTotal.WithLabelValues("down").Inc()
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// errorClass maps a rule API error to its taxonomy class label.
func errorClass(err error) string {
	switch {
	case errors.Is(err, remote.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, remote.ErrNotFound):
		return "not_found"
	case errors.Is(err, remote.ErrBadRequest):
		return "bad_request"
	case errors.Is(err, remote.ErrUnreachable):
		return "unreachable"
	default:
		return "other"
	}
}
