package replay

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
	"github.com/JakeFAU/engagement-analytics/internal/botfilter"
	"github.com/JakeFAU/engagement-analytics/internal/clock/virtual"
	"github.com/JakeFAU/engagement-analytics/internal/engagement"
	"github.com/JakeFAU/engagement-analytics/internal/id/uuid"
	"github.com/JakeFAU/engagement-analytics/internal/metrics"
	"github.com/JakeFAU/engagement-analytics/internal/navigation"
	"github.com/JakeFAU/engagement-analytics/internal/pipeline"
)

// Options configure one replay.
type Options struct {
	// Emitter receives the events that pass the bot gate.
	Emitter analytics.Emitter
	// Base is the virtual time of offset zero. Zero means now.
	Base time.Time
	// Environment is used when the trace carries no environment signal.
	Environment botfilter.Environment
	Heuristic   *botfilter.Heuristic
	Pipeline    pipeline.Config
	// Seed makes event identifiers deterministic when set.
	Seed   string
	Logger *zap.Logger
	// Tracer records one replay.run span per call. Nil disables tracing.
	Tracer trace.Tracer
}

// Summary describes a finished replay.
type Summary struct {
	PageLoad string `json:"page_load"`
	Signals  int    `json:"signals"`
	Emitted  int64  `json:"emitted"`
	Bot      bool   `json:"bot"`
}

// Run replays signals through a fresh pipeline and tears it down afterwards.
// The first environment signal classifies the page load; later ones are
// ignored. Signals after an unmount are not applied.
func Run(ctx context.Context, signals []Signal, opts Options) (Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("replay")
	base := opts.Base
	if base.IsZero() {
		base = time.Now().UTC()
	}
	env := opts.Environment
	for _, sig := range signals {
		if sig.Type == TypeEnvironment {
			env = sig.Environment()
			break
		}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	ctx, span := tracer.Start(ctx, "replay.run",
		trace.WithAttributes(attribute.Int("replay.signals.total", len(signals))))
	defer span.End()

	next := opts.Emitter
	if next == nil {
		next = analytics.NopEmitter{}
	}
	var emitted atomic.Int64
	counter := analytics.EmitterFunc(func(evt analytics.Event) {
		emitted.Add(1)
		next.Emit(evt)
	})

	clk := virtual.New(base)
	deps := pipeline.Deps{
		Emitter:     counter,
		Clock:       clk,
		Scheduler:   clk,
		Environment: env,
		Heuristic:   opts.Heuristic,
		Logger:      logger,
	}
	if opts.Seed != "" {
		deps.IDs = uuid.NewSequence(opts.Seed)
	}
	p := pipeline.New(deps, opts.Pipeline)
	defer p.Close()

	d := &driver{pipeline: p, logger: logger}
	d.nav = p.Navigation()

	summary := Summary{PageLoad: p.PageLoad(), Bot: p.IsLikelyBot()}
	for _, sig := range signals {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "replay interrupted")
			return summary, fmt.Errorf("replay interrupted: %w", err)
		}
		clk.AdvanceTo(base.Add(sig.At()))
		summary.Signals++
		metrics.ObserveReplaySignal(sig.Type)
		if sig.Type == TypeUnmount {
			break
		}
		d.apply(sig)
	}
	p.Close()
	summary.Emitted = emitted.Load()
	span.SetAttributes(
		attribute.String("replay.page_load", summary.PageLoad),
		attribute.Int("replay.signals.applied", summary.Signals),
		attribute.Int64("replay.events.emitted", summary.Emitted),
		attribute.Bool("replay.bot", summary.Bot),
	)
	logger.Debug("replay finished",
		zap.String("page_load", summary.PageLoad),
		zap.Int("signals", summary.Signals),
		zap.Int64("emitted", summary.Emitted),
		zap.Bool("bot", summary.Bot))
	return summary, nil
}

type driver struct {
	pipeline *pipeline.Pipeline
	nav      *navigation.Tracker
	article  *engagement.Tracker
	logger   *zap.Logger
}

func (d *driver) apply(sig Signal) {
	switch sig.Type {
	case TypeNavigate:
		d.nav.OnNavigate(sig.Path, sig.Query)
	case TypeOpen:
		subject := engagement.Subject{ID: sig.Subject, ReadTime: sig.ReadTime}
		if d.article == nil {
			d.article = d.pipeline.Engagement(subject)
			return
		}
		d.article.Switch(subject)
	case TypeScroll:
		if d.article != nil {
			d.article.Scroll(sig.Offset, sig.Extent)
		}
	case TypeClose:
		if d.article != nil {
			d.article.Close()
		}
	case TypeClick:
		d.click(sig)
	case TypePageView:
		d.pipeline.TrackPageView(sig.Title, sig.URL)
	}
}

func (d *driver) click(sig Signal) {
	switch sig.Category {
	case analytics.CategorySocial, analytics.CategoryRelated, analytics.CategoryExternal:
		if d.article == nil {
			d.logger.Debug("dropping click without article", zap.String("category", sig.Category))
			return
		}
	}
	switch sig.Category {
	case analytics.CategorySocial:
		d.article.TrackSocialClick(sig.Action)
	case analytics.CategoryRelated:
		d.article.TrackRelatedClick(sig.Target)
	case analytics.CategoryExternal:
		d.article.TrackExternalClick(sig.URL, sig.Label)
	default:
		d.pipeline.TrackClick(sig.Action, sig.Label)
	}
}
