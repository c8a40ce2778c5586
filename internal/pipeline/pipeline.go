// Package pipeline wires one page load together: the bot gate, the
// navigation and engagement trackers, and the emitter they publish through.
//
// A Pipeline decides exactly once whether the page load looks automated.
// Bots get a gated emitter that drops everything; humans get an emitter that
// stamps each event with an ID and the page-load ID before forwarding it.
// Trackers built by the pipeline never re-check bot status.
package pipeline

import (
	"net/url"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
	"github.com/JakeFAU/engagement-analytics/internal/botfilter"
	"github.com/JakeFAU/engagement-analytics/internal/clock/system"
	"github.com/JakeFAU/engagement-analytics/internal/engagement"
	"github.com/JakeFAU/engagement-analytics/internal/id/uuid"
	"github.com/JakeFAU/engagement-analytics/internal/metrics"
	"github.com/JakeFAU/engagement-analytics/internal/navigation"
)

// IDGenerator produces unique identifiers for events and page loads.
type IDGenerator interface {
	NewID() (string, error)
}

// Deps are the collaborators of a Pipeline. Nil fields fall back to the wall
// clock, a timer scheduler, UUIDv7 IDs, the default heuristic and a no-op
// logger. A nil Emitter discards everything.
type Deps struct {
	Emitter     analytics.Emitter
	Clock       analytics.Clock
	Scheduler   analytics.Scheduler
	IDs         IDGenerator
	Environment botfilter.Environment
	Heuristic   *botfilter.Heuristic
	Logger      *zap.Logger
}

// Config groups the per-tracker settings.
type Config struct {
	Navigation navigation.Config
	Engagement engagement.Config
}

// Pipeline is the public tracking surface for a single page load.
type Pipeline struct {
	deps   Deps
	cfg    Config
	filter *botfilter.Filter
	logger *zap.Logger

	once     sync.Once
	bot      bool
	pageLoad string
	gated    analytics.Emitter

	mu      sync.Mutex
	closers []func()
	closed  bool
}

// New builds a Pipeline. Nothing is evaluated until Init or the first Track
// call.
func New(deps Deps, cfg Config) *Pipeline {
	if deps.Emitter == nil {
		deps.Emitter = analytics.NopEmitter{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Scheduler == nil {
		deps.Scheduler = system.NewScheduler()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	if deps.Heuristic == nil {
		deps.Heuristic = botfilter.NewHeuristic(0)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		deps:   deps,
		cfg:    cfg,
		filter: botfilter.NewFilter(deps.Heuristic, deps.Environment),
		logger: logger.Named("pipeline"),
	}
}

// Init classifies the page load and prepares the gated emitter. It is
// idempotent and safe for concurrent use.
func (p *Pipeline) Init() {
	p.once.Do(func() {
		p.bot = p.filter.IsLikelyBot()
		metrics.ObserveBotVerdict(p.bot)
		pageLoad, err := p.deps.IDs.NewID()
		if err != nil {
			p.logger.Warn("page load id unavailable", zap.Error(err))
		}
		p.pageLoad = pageLoad
		if p.bot {
			p.logger.Debug("suppressing analytics for likely bot",
				zap.String("user_agent", p.deps.Environment.UserAgent))
			p.gated = analytics.NopEmitter{}
			return
		}
		p.gated = &stampingEmitter{
			next:     p.deps.Emitter,
			ids:      p.deps.IDs,
			pageLoad: pageLoad,
			logger:   p.logger,
		}
	})
}

// IsLikelyBot reports the cached verdict for this page load.
func (p *Pipeline) IsLikelyBot() bool {
	p.Init()
	return p.bot
}

// PageLoad returns the identifier shared by every event of this page load.
func (p *Pipeline) PageLoad() string {
	p.Init()
	return p.pageLoad
}

// Emitter returns the gated emitter trackers publish through.
func (p *Pipeline) Emitter() analytics.Emitter {
	p.Init()
	return p.gated
}

// TrackPageView records a page view of rawURL. The path and query are split
// out of rawURL when it parses.
func (p *Pipeline) TrackPageView(title, rawURL string) {
	if rawURL == "" {
		return
	}
	attrs := map[string]any{
		analytics.AttrTitle: title,
		analytics.AttrURL:   rawURL,
	}
	if u, err := url.Parse(rawURL); err == nil {
		attrs[analytics.AttrPath] = u.Path
		attrs[analytics.AttrQuery] = u.RawQuery
	}
	p.emit(analytics.KindPageView, rawURL, attrs)
}

// TrackArticleRead records that an article was opened. Non-positive
// estimates fall back to the configured default.
func (p *Pipeline) TrackArticleRead(title string, estimatedMinutes int) {
	if title == "" {
		return
	}
	if estimatedMinutes <= 0 {
		estimatedMinutes = p.cfg.Engagement.DefaultReadMinutes
		if estimatedMinutes <= 0 {
			estimatedMinutes = engagement.DefaultReadMinutes
		}
	}
	p.emit(analytics.KindArticleOpened, title, map[string]any{
		analytics.AttrTitle:               title,
		analytics.AttrExpectedReadMinutes: estimatedMinutes,
	})
}

// TrackScrollDepth records a scroll milestone. Percentages off the
// threshold ladder are dropped.
func (p *Pipeline) TrackScrollDepth(percent int, subject string) {
	if !slices.Contains(engagement.Thresholds, percent) {
		p.logger.Debug("dropping off-ladder scroll depth", zap.Int("percent", percent))
		return
	}
	p.emit(analytics.KindScrollDepth, subject, map[string]any{
		analytics.AttrPercent: percent,
	})
}

// TrackTimeOnPage records dwell time in whole seconds.
func (p *Pipeline) TrackTimeOnPage(seconds int, subject string) {
	if seconds < 0 {
		return
	}
	p.emit(analytics.KindDwellTime, subject, map[string]any{
		analytics.AttrSeconds: seconds,
	})
}

// TrackClick records a click that is not tied to an article session.
func (p *Pipeline) TrackClick(action, label string) {
	if action == "" {
		return
	}
	attrs := map[string]any{
		analytics.AttrCategory: analytics.CategoryGeneric,
		analytics.AttrAction:   action,
	}
	if label != "" {
		attrs[analytics.AttrLabel] = label
	}
	p.emit(analytics.KindClick, label, attrs)
}

// Navigation returns a navigation tracker publishing through the gated
// emitter. Close tears it down.
func (p *Pipeline) Navigation() *navigation.Tracker {
	p.Init()
	t := navigation.New(navigation.Deps{
		Emitter:   p.gated,
		Clock:     p.deps.Clock,
		Scheduler: p.deps.Scheduler,
		Logger:    p.logger.Named("navigation"),
	}, p.cfg.Navigation)
	p.track(t.Close)
	return t
}

// Engagement starts an engagement tracker for subject. Close tears it down;
// after Close the returned tracker is idle.
func (p *Pipeline) Engagement(subject engagement.Subject) *engagement.Tracker {
	p.Init()
	t := engagement.NewTracker(engagement.Deps{
		Emitter: p.gated,
		Clock:   p.deps.Clock,
		Logger:  p.logger.Named("engagement"),
	}, p.cfg.Engagement)
	if p.track(t.Close) {
		t.Open(subject)
	}
	return t
}

// Close tears down every tracker the pipeline created, in creation order.
// Later calls are no-ops.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	closers := p.closers
	p.closers = nil
	p.mu.Unlock()

	for _, closeFn := range closers {
		closeFn()
	}
}

// track registers closeFn for teardown. It reports false, after running
// closeFn, when the pipeline is already closed.
func (p *Pipeline) track(closeFn func()) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		closeFn()
		return false
	}
	p.closers = append(p.closers, closeFn)
	p.mu.Unlock()
	return true
}

func (p *Pipeline) emit(kind analytics.Kind, subject string, attrs map[string]any) {
	p.Init()
	p.gated.Emit(analytics.NewEvent(kind, subject, p.deps.Clock.Now(), attrs))
}

// stampingEmitter assigns identifiers and shields callers from a panicking
// downstream emitter.
type stampingEmitter struct {
	next     analytics.Emitter
	ids      IDGenerator
	pageLoad string
	logger   *zap.Logger
}

func (s *stampingEmitter) Emit(evt analytics.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("emitter panicked", zap.Any("panic", r), zap.String("kind", string(evt.Kind)))
		}
	}()
	id, err := s.ids.NewID()
	if err != nil {
		s.logger.Warn("event id unavailable", zap.Error(err))
	}
	s.next.Emit(evt.Stamp(id, s.pageLoad))
}
