// Package metrics exposes process-wide Prometheus collectors for the
// engagement service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	botVerdictsTotal           *prometheus.CounterVec
	replaySignalsTotal         *prometheus.CounterVec
	replayRejectedTotal        *prometheus.CounterVec
	hubEventsTotal             *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"method", "route"},
		)

		botVerdictsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engagement_bot_verdicts_total",
				Help: "Page loads classified by the bot filter, labeled by verdict.",
			},
			[]string{"verdict"},
		)

		replaySignalsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engagement_replay_signals_total",
				Help: "Trace signals applied by the replayer, labeled by signal type.",
			},
			[]string{"type"},
		)

		replayRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engagement_replay_rejected_total",
				Help: "Replay requests refused before processing, labeled by reason.",
			},
			[]string{"reason"},
		)

		hubEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engagement_hub_events_total",
				Help: "Events seen by the hub, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveBotVerdict counts one bot filter decision.
func ObserveBotVerdict(bot bool) {
	if botVerdictsTotal == nil {
		return
	}
	verdict := "human"
	if bot {
		verdict = "bot"
	}
	botVerdictsTotal.WithLabelValues(verdict).Inc()
}

// ObserveReplaySignal counts one applied trace signal.
func ObserveReplaySignal(signalType string) {
	if replaySignalsTotal == nil {
		return
	}
	replaySignalsTotal.WithLabelValues(signalType).Inc()
}

// ObserveReplayRejected counts a replay request refused for reason.
func ObserveReplayRejected(reason string) {
	if replayRejectedTotal == nil {
		return
	}
	replayRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveHubOutcome adds n events to the hub counter for outcome
// (accepted, dropped, invalid or failed).
func ObserveHubOutcome(outcome string, n uint64) {
	if hubEventsTotal == nil || n == 0 {
		return
	}
	hubEventsTotal.WithLabelValues(outcome).Add(float64(n))
}
