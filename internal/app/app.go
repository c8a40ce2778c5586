// Package app initializes and holds long-lived application services: the
// event hub, its sinks and the settings every page-load pipeline shares.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"sync"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
	"github.com/JakeFAU/engagement-analytics/internal/analytics/sinks"
	"github.com/JakeFAU/engagement-analytics/internal/api"
	"github.com/JakeFAU/engagement-analytics/internal/botfilter"
	"github.com/JakeFAU/engagement-analytics/internal/config"
	"github.com/JakeFAU/engagement-analytics/internal/content/sqlite"
	"github.com/JakeFAU/engagement-analytics/internal/engagement"
	"github.com/JakeFAU/engagement-analytics/internal/hash/sha256"
	"github.com/JakeFAU/engagement-analytics/internal/metrics"
	"github.com/JakeFAU/engagement-analytics/internal/navigation"
	"github.com/JakeFAU/engagement-analytics/internal/pipeline"
	"github.com/JakeFAU/engagement-analytics/internal/policy/ratelimit"
	"github.com/JakeFAU/engagement-analytics/internal/publisher/amqp"
	"github.com/JakeFAU/engagement-analytics/internal/publisher/pubsub"
	"github.com/JakeFAU/engagement-analytics/internal/replay"
	"github.com/JakeFAU/engagement-analytics/internal/storage/clickhouse"
	"github.com/JakeFAU/engagement-analytics/internal/storage/gcs"
	"github.com/JakeFAU/engagement-analytics/internal/storage/local"
	"github.com/JakeFAU/engagement-analytics/internal/storage/postgres"
	"github.com/JakeFAU/engagement-analytics/internal/telemetry"
)

const (
	statsInterval      = 10 * time.Second
	defaultServiceName = "engagement-analytics"
)

// ErrClosed is returned by readiness checks after Close.
var ErrClosed = errors.New("app is closed")

// Option customizes App construction.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	extra      []namedSink
	spanProcs  []sdktrace.SpanProcessor
}

type namedSink struct {
	name string
	sink analytics.Sink
}

// WithRegisterer registers sink collectors somewhere other than the default
// Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithSpanProcessor hands every sampled span to sp, typically an exporter
// pipeline.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *options) { o.spanProcs = append(o.spanProcs, sp) }
}

// WithSink adds a sink in addition to the configured ones.
func WithSink(name string, sink analytics.Sink) Option {
	return func(o *options) { o.extra = append(o.extra, namedSink{name: name, sink: sink}) }
}

// App holds the shared, long-lived services for the process.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	hub       *analytics.Hub
	sinkNames []string
	heuristic *botfilter.Heuristic
	limiter   *ratelimit.Limiter
	proxies   []netip.Prefix
	tracer    *sdktrace.TracerProvider

	statsMu   sync.Mutex
	lastStats analytics.HubStats
	stopStats chan struct{}
	statsDone chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

// New builds every configured sink and starts the hub. It fails fast when a
// configured destination cannot be reached, closing whatever it had opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	metrics.Init()
	proxies, err := cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}
	serviceName := cfg.Tracing.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	tpOpts := make([]sdktrace.TracerProviderOption, 0, len(o.spanProcs))
	for _, sp := range o.spanProcs {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(sp))
	}
	tracerProvider, err := telemetry.NewTracerProvider(ctx, serviceName, cfg.Tracing.SampleRatio, tpOpts...)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	built, err := buildSinks(ctx, cfg, logger, o.registerer)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, err
	}
	built = append(built, o.extra...)

	names := make([]string, 0, len(built))
	hubSinks := make([]analytics.Sink, 0, len(built))
	for _, s := range built {
		names = append(names, s.name)
		hubSinks = append(hubSinks, s.sink)
	}
	logger.Info("analytics sinks configured", zap.Strings("sinks", names))

	a := &App{
		cfg:    cfg,
		logger: logger,
		hub: analytics.NewHub(analytics.HubConfig{
			BufferSize:     cfg.Hub.BufferSize,
			MaxBatchEvents: cfg.Hub.MaxBatchEvents,
			MaxBatchWait:   cfg.Hub.MaxBatchWait(),
			SinkTimeout:    cfg.Hub.SinkTimeout(),
			Logger:         logger.Named("hub"),
		}, hubSinks...),
		sinkNames: names,
		heuristic: botfilter.NewHeuristic(cfg.Tracking.BotMissingGlobals),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:   cfg.Server.ReplayRate,
			Burst: cfg.Server.ReplayBurst,
		}),
		proxies:   proxies,
		tracer:    tracerProvider,
		stopStats: make(chan struct{}),
		statsDone: make(chan struct{}),
		closed:    make(chan struct{}),
	}
	go a.reportStatsLoop()
	return a, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Emitter returns the hub every pipeline publishes into.
func (a *App) Emitter() analytics.Emitter {
	return a.hub
}

// SinkNames lists the active sinks in fan-out order.
func (a *App) SinkNames() []string {
	return append([]string(nil), a.sinkNames...)
}

// PipelineConfig maps tracking settings onto the per-page-load pipeline.
func (a *App) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Navigation: navigation.Config{
			Debounce: a.cfg.Tracking.Debounce(),
			Titles:   a.cfg.Tracking.Titles,
		},
		Engagement: engagement.Config{
			DwellFloorSeconds:  a.cfg.Tracking.DwellFloorSeconds,
			DefaultReadMinutes: a.cfg.Tracking.DefaultReadMinutes,
		},
	}
}

// Handler returns the HTTP ingest API bound to the hub.
func (a *App) Handler() http.Handler {
	return api.NewServer(api.Options{
		Emitter:        a.hub,
		Limiter:        a.limiter,
		MaxBodyBytes:   a.cfg.Server.MaxBodyBytes,
		TrustedProxies: a.proxies,
		Heuristic:      a.heuristic,
		Pipeline:       a.PipelineConfig(),
		Ready:          a.Ready,
		Logger:         a.logger,
		TracerProvider: a.tracer,
	}).Handler()
}

// Replay runs a decoded trace through a fresh pipeline into the hub.
func (a *App) Replay(ctx context.Context, signals []replay.Signal, seed string) (replay.Summary, error) {
	summary, err := replay.Run(ctx, signals, replay.Options{
		Emitter:   a.hub,
		Heuristic: a.heuristic,
		Pipeline:  a.PipelineConfig(),
		Seed:      seed,
		Logger:    a.logger,
		Tracer:    a.tracer.Tracer(telemetry.TracerName),
	})
	if err != nil {
		return summary, fmt.Errorf("replay trace: %w", err)
	}
	return summary, nil
}

// Ready reports whether the app still accepts events.
func (a *App) Ready(context.Context) error {
	select {
	case <-a.closed:
		return ErrClosed
	default:
		return nil
	}
}

// Stats returns the hub counters.
func (a *App) Stats() analytics.HubStats {
	return a.hub.Stats()
}

// Close drains the hub, closes every sink and flushes the logger. It is safe
// to call more than once.
func (a *App) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		close(a.closed)
		close(a.stopStats)
		<-a.statsDone
		a.logger.Info("shutting down analytics hub")
		err = a.hub.Close(ctx)
		a.reportStats()
		if terr := a.tracer.Shutdown(ctx); terr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown tracing: %w", terr))
		}
		_ = a.logger.Sync()
	})
	return err
}

func (a *App) reportStatsLoop() {
	defer close(a.statsDone)
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.reportStats()
		case <-a.stopStats:
			return
		}
	}
}

// reportStats forwards counter deltas since the previous report.
func (a *App) reportStats() {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	now := a.hub.Stats()
	prev := a.lastStats
	a.lastStats = now
	metrics.ObserveHubOutcome("accepted", delta(now.Accepted, prev.Accepted))
	metrics.ObserveHubOutcome("dropped", delta(now.Dropped, prev.Dropped))
	metrics.ObserveHubOutcome("invalid", delta(now.Invalid, prev.Invalid))
	metrics.ObserveHubOutcome("failed", delta(now.Failed, prev.Failed))
}

func delta(now, prev int64) uint64 {
	if now <= prev {
		return 0
	}
	return uint64(now - prev)
}

func buildSinks(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (out []namedSink, err error) {
	defer func() {
		if err == nil {
			return
		}
		for _, s := range out {
			if cerr := s.sink.Close(ctx); cerr != nil {
				logger.Warn("closing sink after setup failure", zap.String("sink", s.name), zap.Error(cerr))
			}
		}
		out = nil
	}()

	sc := cfg.Sinks
	if sc.Log {
		out = append(out, namedSink{"log", sinks.NewLogSink(logger.Named("sink.log"))})
	}
	if sc.Prometheus {
		promSink, err := sinks.NewPrometheusSink(reg)
		if err != nil {
			return out, err
		}
		out = append(out, namedSink{"prometheus", promSink})
	}
	if sc.Postgres.DSN != "" {
		repo, err := postgres.NewEventStore(ctx, postgres.EventStoreConfig{
			DSN:   sc.Postgres.DSN,
			Table: sc.Postgres.Table,
		})
		if err != nil {
			return out, fmt.Errorf("init postgres sink: %w", err)
		}
		out = append(out, namedSink{"postgres", sinks.NewStoreSink(repo, logger.Named("sink.postgres"))})
	}
	if sc.ClickHouse.Addr != "" {
		repo, err := clickhouse.Open(ctx, clickhouse.Config{
			Addr:     sc.ClickHouse.Addr,
			Database: sc.ClickHouse.Database,
			Username: sc.ClickHouse.Username,
			Password: sc.ClickHouse.Password,
			Table:    sc.ClickHouse.Table,
		})
		if err != nil {
			return out, fmt.Errorf("init clickhouse sink: %w", err)
		}
		out = append(out, namedSink{"clickhouse", sinks.NewStoreSink(repo, logger.Named("sink.clickhouse"))})
	}
	if sc.PubSub.TopicName != "" {
		pub, err := pubsub.Dial(ctx, sc.PubSub.ProjectID, sc.PubSub.TopicName)
		if err != nil {
			return out, fmt.Errorf("init pubsub sink: %w", err)
		}
		out = append(out, namedSink{"pubsub", sinks.NewPublisherSink(pub, "", logger.Named("sink.pubsub"))})
	}
	if sc.AMQP.URL != "" {
		pub, err := amqp.Dial(amqp.Config{
			URL:        sc.AMQP.URL,
			Exchange:   sc.AMQP.Exchange,
			RoutingKey: sc.AMQP.RoutingKey,
		}, logger.Named("amqp"))
		if err != nil {
			return out, fmt.Errorf("init amqp sink: %w", err)
		}
		out = append(out, namedSink{"amqp", sinks.NewPublisherSink(pub, "", logger.Named("sink.amqp"))})
	}
	if sc.GCS.Bucket != "" {
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return out, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: sc.GCS.Bucket, Prefix: sc.GCS.Prefix})
		if err != nil {
			_ = client.Close()
			return out, fmt.Errorf("init gcs sink: %w", err)
		}
		out = append(out, namedSink{"gcs", ownedSink{
			Sink:    sinks.NewBlobSink(store, sha256.New(), "", logger.Named("sink.gcs")),
			release: store.Close,
		}})
	}
	if sc.Local.BaseDir != "" {
		store, err := local.New(local.Config{BaseDir: sc.Local.BaseDir})
		if err != nil {
			return out, fmt.Errorf("init local sink: %w", err)
		}
		out = append(out, namedSink{"local", sinks.NewBlobSink(store, sha256.New(), sc.Local.Prefix, logger.Named("sink.local"))})
	}
	if sc.Content.SQLitePath != "" {
		coll, err := sqlite.Open(sc.Content.SQLitePath)
		if err != nil {
			return out, fmt.Errorf("init content sink: %w", err)
		}
		out = append(out, namedSink{"content", sinks.NewCollectionSink(coll, sc.Content.Collection, logger.Named("sink.content"))})
	}
	return out, nil
}

// ownedSink releases a resource the wrapped sink does not own.
type ownedSink struct {
	analytics.Sink
	release func() error
}

func (s ownedSink) Close(ctx context.Context) error {
	return errors.Join(s.Sink.Close(ctx), s.release())
}
