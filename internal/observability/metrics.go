package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions prometheus.Gauge

	storeOpDuration *prometheus.HistogramVec
	storeErrors     *prometheus.CounterVec

	runTotal    *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	runsActive  prometheus.Gauge

	fanoutEvents      *prometheus.CounterVec
	fanoutDropped     prometheus.Counter
	liveSubscribers   prometheus.Gauge
	apiExchangeStatus *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current number of live sessions in the registry.",
				},
			),
			storeOpDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "store_operation_duration_seconds",
					Help:    "Durable store operation duration in seconds by operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"operation"},
			),
			storeErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "store_errors_total",
					Help: "Total durable store failures by operation.",
				},
				[]string{"operation"},
			),
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent runs by provider and status.",
				},
				[]string{"provider", "status"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent run duration in seconds by provider.",
					Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
				},
				[]string{"provider"},
			),
			runsActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "agent_runs_active",
					Help: "Agent runs currently executing.",
				},
			),
			fanoutEvents: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fanout_events_total",
					Help: "Events published to session subscribers by event type.",
				},
				[]string{"event"},
			),
			fanoutDropped: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "fanout_dropped_subscribers_total",
					Help: "Subscribers removed after a failed or overflowing delivery.",
				},
			),
			liveSubscribers: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "fanout_live_subscribers",
					Help: "Currently connected subscribers across all sessions.",
				},
			),
			apiExchangeStatus: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_api_exchanges_total",
					Help: "Provider API exchanges observed by the agent loop, by provider and status class.",
				},
				[]string{"provider", "class"},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.storeOpDuration,
			m.storeErrors,
			m.runTotal,
			m.runDuration,
			m.runsActive,
			m.fanoutEvents,
			m.fanoutDropped,
			m.liveSubscribers,
			m.apiExchangeStatus,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordStoreOp(operation string, duration time.Duration, err error) {
	m := getMetrics()
	m.storeOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storeErrors.WithLabelValues(operation).Inc()
	}
}

func RunStarted() {
	getMetrics().runsActive.Inc()
}

func RecordAgentRun(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.runsActive.Dec()
	m.runTotal.WithLabelValues(provider, status).Inc()
	m.runDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordFanoutEvent(event string) {
	getMetrics().fanoutEvents.WithLabelValues(event).Inc()
}

func RecordSubscriberDropped() {
	getMetrics().fanoutDropped.Inc()
}

func AddLiveSubscribers(delta int) {
	getMetrics().liveSubscribers.Add(float64(delta))
}

func RecordAPIExchange(provider string, statusCode int) {
	class := "error"
	switch {
	case statusCode >= 500:
		class = "5xx"
	case statusCode >= 400:
		class = "4xx"
	case statusCode >= 200:
		class = "2xx"
	}
	getMetrics().apiExchangeStatus.WithLabelValues(provider, class).Inc()
}
