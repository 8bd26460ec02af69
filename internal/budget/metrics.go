package budget

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for spend, calls and alerts
type Metrics struct {
	tokens       *prometheus.CounterVec
	credits      *prometheus.CounterVec
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	alerts       *prometheus.CounterVec
	firing       *prometheus.GaugeVec
	missions     *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the metrics registered with the global registry.
// The collectors are created once per process.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs metrics on the given registerer. Collectors that
// are already registered are reused; any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crew", Subsystem: "budget", Name: "tokens_total",
			Help: "Tokens consumed by worker calls.",
		}, []string{"worker", "kind"}),
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crew", Subsystem: "budget", Name: "credits_total",
			Help: "Credits spent by worker calls.",
		}, []string{"worker"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crew", Subsystem: "budget", Name: "calls_total",
			Help: "Worker execute calls by outcome.",
		}, []string{"worker", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crew", Subsystem: "budget", Name: "call_duration_seconds",
			Help: "Duration of worker execute calls.", Buckets: prometheus.DefBuckets,
		}, []string{"worker"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crew", Subsystem: "alerts", Name: "transitions_total",
			Help: "Alert rule transitions by event and severity.",
		}, []string{"event", "severity"}),
		firing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "crew", Subsystem: "alerts", Name: "firing",
			Help: "Alert rules currently firing by severity.",
		}, []string{"severity"}),
		missions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crew", Subsystem: "missions", Name: "finished_total",
			Help: "Missions that reached a terminal state.",
		}, []string{"state", "kind"}),
	}

	m.tokens = register(reg, m.tokens)
	m.credits = register(reg, m.credits)
	m.calls = register(reg, m.calls)
	m.callDuration = register(reg, m.callDuration)
	m.alerts = register(reg, m.alerts)
	m.firing = register(reg, m.firing)
	m.missions = register(reg, m.missions)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveCall records one worker call
func (m *Metrics) ObserveCall(worker string, promptTokens, completionTokens int, cost int64, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues(worker, "prompt").Add(float64(promptTokens))
	m.tokens.WithLabelValues(worker, "completion").Add(float64(completionTokens))
	m.credits.WithLabelValues(worker).Add(float64(cost))
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.calls.WithLabelValues(worker, outcome).Inc()
	m.callDuration.WithLabelValues(worker).Observe(d.Seconds())
}

// ObserveAlert records a fired or resolved transition
func (m *Metrics) ObserveAlert(event, severity string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(event, severity).Inc()
	switch event {
	case EventFired:
		m.firing.WithLabelValues(severity).Inc()
	case EventResolved:
		m.firing.WithLabelValues(severity).Dec()
	}
}

// ObserveMission records a terminal mission state with its failure kind
func (m *Metrics) ObserveMission(state, kind string) {
	if m == nil {
		return
	}
	m.missions.WithLabelValues(state, kind).Inc()
}
