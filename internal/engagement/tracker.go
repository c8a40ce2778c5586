package engagement

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
	"github.com/JakeFAU/engagement-analytics/internal/clock/system"
)

// DefaultDwellFloorSeconds is the dwell at or below which a close is noise.
const DefaultDwellFloorSeconds = 5

// Subject identifies the article being read.
type Subject struct {
	// ID is the stable title or slug of the article.
	ID string
	// ReadTime is the free-text estimate shown to readers, e.g. "6 min read".
	ReadTime string
}

// Config tunes tracker thresholds.
type Config struct {
	DwellFloorSeconds  int
	DefaultReadMinutes int
}

// Deps are the collaborators a Tracker publishes through.
type Deps struct {
	Emitter analytics.Emitter
	Clock   analytics.Clock
	Logger  *zap.Logger
}

// Tracker orchestrates the lifecycle of one Session at a time. All methods
// are safe for concurrent use; the emitter is called with the tracker lock
// held and must not call back into the tracker.
type Tracker struct {
	mu      sync.Mutex
	emitter analytics.Emitter
	clock   analytics.Clock
	logger  *zap.Logger
	cfg     Config
	session *Session
}

// NewTracker builds an idle tracker.
func NewTracker(deps Deps, cfg Config) *Tracker {
	if cfg.DwellFloorSeconds <= 0 {
		cfg.DwellFloorSeconds = DefaultDwellFloorSeconds
	}
	if cfg.DefaultReadMinutes <= 0 {
		cfg.DefaultReadMinutes = DefaultReadMinutes
	}
	emitter := deps.Emitter
	if emitter == nil {
		emitter = analytics.NopEmitter{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = system.New()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		emitter: emitter,
		clock:   clock,
		logger:  logger,
		cfg:     cfg,
	}
}

// Start builds a tracker and opens subject on it. Close is the matching
// teardown.
func Start(deps Deps, cfg Config, subject Subject) *Tracker {
	t := NewTracker(deps, cfg)
	t.Open(subject)
	return t
}

// Open makes subject the visible article. Opening the subject that is
// already open is a no-op; opening a different one closes the current
// session first.
func (t *Tracker) Open(subject Subject) {
	if subject.ID == "" {
		t.logger.Debug("ignoring open without subject")
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session != nil && t.session.State() == StateOpened {
		if t.session.SubjectID == subject.ID {
			return
		}
		t.closeLocked()
	}
	t.session = newSession(subject.ID)
	now := t.clock.Now()
	if !t.session.open(now) {
		return
	}
	t.emit(analytics.KindArticleOpened, subject.ID, now, map[string]any{
		analytics.AttrTitle:               subject.ID,
		analytics.AttrExpectedReadMinutes: ParseReadTime(subject.ReadTime, t.cfg.DefaultReadMinutes),
	})
}

// Switch closes the current subject, if any, then opens next.
func (t *Tracker) Switch(next Subject) {
	t.Open(next)
}

// Scroll feeds the container's scroll offset and scrollable extent
// (scrollHeight minus clientHeight) into the open session.
func (t *Tracker) Scroll(offset, extent float64) {
	pct, ok := scrollPercent(offset, extent)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return
	}
	crossed := t.session.cross(pct)
	if len(crossed) == 0 {
		return
	}
	now := t.clock.Now()
	for _, threshold := range crossed {
		t.emit(analytics.KindScrollDepth, t.session.SubjectID, now, map[string]any{
			analytics.AttrPercent: threshold,
		})
	}
}

// Close ends the open session, emitting its dwell time when it exceeds the
// floor. Calling Close on an idle tracker does nothing.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
}

func (t *Tracker) closeLocked() {
	if t.session == nil {
		return
	}
	subject := t.session.SubjectID
	now := t.clock.Now()
	seconds, ok := t.session.close(now)
	t.session = nil
	if !ok {
		return
	}
	if seconds <= int64(t.cfg.DwellFloorSeconds) {
		t.logger.Debug("dwell below floor", zap.String("subject", subject), zap.Int64("seconds", seconds))
		return
	}
	t.emit(analytics.KindDwellTime, subject, now, map[string]any{
		analytics.AttrSeconds: seconds,
	})
}

// TrackSocialClick records a share action such as "share_x".
func (t *Tracker) TrackSocialClick(action string) {
	t.click(analytics.CategorySocial, action, "", "")
}

// TrackRelatedClick records a click through to a related article.
func (t *Tracker) TrackRelatedClick(target string) {
	t.click(analytics.CategoryRelated, "related_article", target, "")
}

// TrackExternalClick records an outbound link click.
func (t *Tracker) TrackExternalClick(url, label string) {
	t.click(analytics.CategoryExternal, "external_link", label, url)
}

func (t *Tracker) click(category, action, label, url string) {
	if action == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil || t.session.State() != StateOpened {
		return
	}
	attrs := map[string]any{
		analytics.AttrCategory: category,
		analytics.AttrAction:   action,
	}
	if label != "" {
		attrs[analytics.AttrLabel] = label
	}
	if url != "" {
		attrs[analytics.AttrURL] = url
	}
	t.emit(analytics.KindClick, t.session.SubjectID, t.clock.Now(), attrs)
}

// Subject returns the open subject, if any.
func (t *Tracker) Subject() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil || t.session.State() != StateOpened {
		return "", false
	}
	return t.session.SubjectID, true
}

// Crossed returns the thresholds crossed by the open session.
func (t *Tracker) Crossed() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return nil
	}
	return t.session.Crossed()
}

func (t *Tracker) emit(kind analytics.Kind, subject string, at time.Time, attrs map[string]any) {
	t.emitter.Emit(analytics.NewEvent(kind, subject, at, attrs))
}
