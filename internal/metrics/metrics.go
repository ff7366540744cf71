// Package metrics holds the Prometheus collectors of the client.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the client exports. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	sessionTransitions *prometheus.CounterVec
	historyPolls       *prometheus.CounterVec
	historyRecords     prometheus.Gauge
	historyDiscarded   prometheus.Counter
	pricePolls         *prometheus.CounterVec
	ethUSD             prometheus.Gauge
	txSubmitted        *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpLatency        *prometheus.HistogramVec
	throttles          *prometheus.CounterVec
}

var (
	once     sync.Once
	registry *Metrics
)

// Default returns the lazily-initialised process-wide registry.
func Default() *Metrics {
	once.Do(func() {
		registry = newMetrics()
		prometheus.MustRegister(registry.collectors()...)
	})
	return registry
}

func newMetrics() *Metrics {
	return &Metrics{
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treasure",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Applied session transitions segmented by source and target phase.",
		}, []string{"from", "to"}),
		historyPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treasure",
			Subsystem: "history",
			Name:      "polls_total",
			Help:      "History refreshes segmented by result.",
		}, []string{"result"}),
		historyRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "treasure",
			Subsystem: "history",
			Name:      "records",
			Help:      "Outcome events currently retained.",
		}),
		historyDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "treasure",
			Subsystem: "history",
			Name:      "discarded_total",
			Help:      "Indexed records discarded because they failed to decode.",
		}),
		pricePolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treasure",
			Subsystem: "price",
			Name:      "polls_total",
			Help:      "Price feed polls segmented by result.",
		}, []string{"result"}),
		ethUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "treasure",
			Subsystem: "price",
			Name:      "eth_usd",
			Help:      "Last observed ETH/USD rate.",
		}),
		txSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treasure",
			Subsystem: "tx",
			Name:      "terminal_total",
			Help:      "Terminal lifecycle events segmented by call and kind.",
		}, []string{"call", "kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treasure",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP API requests segmented by route and status class.",
		}, []string{"route", "class"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "treasure",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for HTTP API handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treasure",
			Subsystem: "ratelimit",
			Name:      "throttled_total",
			Help:      "Requests delayed or rejected by the rate limiter.",
		}, []string{"scope"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.sessionTransitions,
		m.historyPolls,
		m.historyRecords,
		m.historyDiscarded,
		m.pricePolls,
		m.ethUSD,
		m.txSubmitted,
		m.httpRequests,
		m.httpLatency,
		m.throttles,
	}
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SessionTransition counts one applied session transition.
func (m *Metrics) SessionTransition(from, to string) {
	if m == nil {
		return
	}
	m.sessionTransitions.WithLabelValues(from, to).Inc()
}

// HistoryPoll records a refresh result and the resulting retained count.
// retained is ignored on failure.
func (m *Metrics) HistoryPoll(ok bool, retained, discarded int) {
	if m == nil {
		return
	}
	if !ok {
		m.historyPolls.WithLabelValues("error").Inc()
		return
	}
	m.historyPolls.WithLabelValues("ok").Inc()
	m.historyRecords.Set(float64(retained))
	m.historyDiscarded.Add(float64(discarded))
}

// PricePoll records a price feed poll.
func (m *Metrics) PricePoll(ok bool, usd float64) {
	if m == nil {
		return
	}
	if !ok {
		m.pricePolls.WithLabelValues("error").Inc()
		return
	}
	m.pricePolls.WithLabelValues("ok").Inc()
	m.ethUSD.Set(usd)
}

// TxTerminal counts the terminal lifecycle event of a stake, claim or
// withdraw call.
func (m *Metrics) TxTerminal(call, kind string) {
	if m == nil {
		return
	}
	m.txSubmitted.WithLabelValues(call, kind).Inc()
}

// ObserveHTTP records one handled request.
func (m *Metrics) ObserveHTTP(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	class := "2xx"
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	case status >= 300:
		class = "3xx"
	}
	m.httpRequests.WithLabelValues(route, class).Inc()
	m.httpLatency.WithLabelValues(route).Observe(d.Seconds())
}

// Throttled counts a rate-limited request.
func (m *Metrics) Throttled(scope string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(scope).Inc()
}
