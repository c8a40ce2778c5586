// Package navigation turns route changes into debounced page_view events.
package navigation

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
	"github.com/JakeFAU/engagement-analytics/internal/clock/system"
)

// DefaultDebounce is the quiet period a location must survive before its
// page_view is emitted.
const DefaultDebounce = 100 * time.Millisecond

// Config tunes the tracker.
type Config struct {
	Debounce time.Duration
	// Titles overrides or extends DefaultTitles.
	Titles map[string]string
}

// Deps are the tracker collaborators. Nil fields fall back to the wall clock,
// a timer scheduler and a no-op logger.
type Deps struct {
	Emitter   analytics.Emitter
	Clock     analytics.Clock
	Scheduler analytics.Scheduler
	Logger    *zap.Logger
}

// Location is a path plus its raw query string.
type Location struct {
	Path  string
	Query string
}

// URL renders the location as path?query.
func (l Location) URL() string {
	if l.Query == "" {
		return l.Path
	}
	return l.Path + "?" + l.Query
}

// Tracker emits one page_view per distinct location transition.
type Tracker struct {
	mu        sync.Mutex
	emitter   analytics.Emitter
	clock     analytics.Clock
	scheduler analytics.Scheduler
	logger    *zap.Logger
	debounce  time.Duration
	titles    Titles

	last    Location
	hasLast bool
	cancel  analytics.CancelFunc
	gen     uint64
	closed  bool
}

// New builds a Tracker.
func New(deps Deps, cfg Config) *Tracker {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	t := &Tracker{
		emitter:   deps.Emitter,
		clock:     deps.Clock,
		scheduler: deps.Scheduler,
		logger:    deps.Logger,
		debounce:  cfg.Debounce,
		titles:    NewTitles(cfg.Titles),
	}
	if t.emitter == nil {
		t.emitter = analytics.NopEmitter{}
	}
	if t.clock == nil {
		t.clock = system.New()
	}
	if t.scheduler == nil {
		t.scheduler = system.NewScheduler()
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	return t
}

// OnNavigate records a route change. The page_view fires after the debounce
// window unless another navigation or Close arrives first. Returning to the
// location that was last emitted only cancels the pending emission.
func (t *Tracker) OnNavigate(path, query string) {
	loc := Location{Path: normalizePath(path), Query: query}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.cancelPendingLocked()
	if t.hasLast && t.last == loc {
		return
	}
	t.gen++
	gen := t.gen
	t.cancel = t.scheduler.Schedule(t.debounce, func() {
		t.fire(gen, loc)
	})
}

// Close cancels any pending page_view. The tracker ignores further
// navigation afterwards.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.cancelPendingLocked()
}

// Last returns the most recently emitted location.
func (t *Tracker) Last() (Location, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.hasLast
}

func (t *Tracker) cancelPendingLocked() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	// A callback already running observes the bumped generation and bails.
	t.gen++
}

func (t *Tracker) fire(gen uint64, loc Location) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || gen != t.gen {
		t.logger.Debug("stale navigation timer", zap.String("url", loc.URL()))
		return
	}
	t.cancel = nil
	t.last = loc
	t.hasLast = true
	url := loc.URL()
	t.emitter.Emit(analytics.NewEvent(analytics.KindPageView, url, t.clock.Now(), map[string]any{
		analytics.AttrTitle: t.titles.Lookup(loc.Path),
		analytics.AttrURL:   url,
		analytics.AttrPath:  loc.Path,
		analytics.AttrQuery: loc.Query,
	}))
}
