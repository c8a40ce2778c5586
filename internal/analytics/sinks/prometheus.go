package sinks

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
)

// PrometheusSink exports engagement counters via Prometheus. It owns all
// collectors for per-kind totals, scroll milestones, dwell time and clicks.
type PrometheusSink struct {
	events       *prometheus.CounterVec
	scrollDepth  *prometheus.CounterVec
	dwellSeconds prometheus.Histogram
	clicks       *prometheus.CounterVec
	readMinutes  prometheus.Histogram
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_events_total",
			Help: "Analytics events delivered, partitioned by kind.",
		}, []string{"kind"}),
		scrollDepth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_scroll_depth_total",
			Help: "Scroll milestones reached, partitioned by percent.",
		}, []string{"percent"}),
		dwellSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engagement_dwell_seconds",
			Help:    "Article dwell time in seconds.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		}),
		clicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_clicks_total",
			Help: "Clicks partitioned by category.",
		}, []string{"category"}),
		readMinutes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engagement_expected_read_minutes",
			Help:    "Expected read time of opened articles.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.events,
		s.scrollDepth,
		s.dwellSeconds,
		s.clicks,
		s.readMinutes,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register engagement collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []analytics.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt analytics.Event) {
	s.events.WithLabelValues(string(evt.Kind)).Inc()
	switch evt.Kind {
	case analytics.KindScrollDepth:
		if pct, ok := evt.IntAttr(analytics.AttrPercent); ok {
			s.scrollDepth.WithLabelValues(strconv.FormatInt(pct, 10)).Inc()
		}
	case analytics.KindDwellTime:
		if secs, ok := evt.IntAttr(analytics.AttrSeconds); ok {
			s.dwellSeconds.Observe(float64(secs))
		}
	case analytics.KindClick:
		category := evt.StringAttr(analytics.AttrCategory)
		if category == "" {
			category = analytics.CategoryGeneric
		}
		s.clicks.WithLabelValues(category).Inc()
	case analytics.KindArticleOpened:
		if minutes, ok := evt.IntAttr(analytics.AttrExpectedReadMinutes); ok {
			s.readMinutes.Observe(float64(minutes))
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
