package engagement

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
	"github.com/JakeFAU/engagement-analytics/internal/clock/virtual"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (r *recorder) Emit(evt analytics.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) Events() []analytics.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]analytics.Event(nil), r.events...)
}

func (r *recorder) Kinds() []analytics.Kind {
	var out []analytics.Kind
	for _, evt := range r.Events() {
		out = append(out, evt.Kind)
	}
	return out
}

func (r *recorder) Percents() []int64 {
	var out []int64
	for _, evt := range r.Events() {
		if evt.Kind == analytics.KindScrollDepth {
			p, _ := evt.IntAttr(analytics.AttrPercent)
			out = append(out, p)
		}
	}
	return out
}

func newTestTracker() (*Tracker, *recorder, *virtual.Clock) {
	rec := &recorder{}
	clk := virtual.New(epoch)
	return NewTracker(Deps{Emitter: rec, Clock: clk}, Config{}), rec, clk
}

func TestOpenEmitsArticleOpenedWithReadTime(t *testing.T) {
	t.Parallel()

	tr, rec, _ := newTestTracker()
	tr.Open(Subject{ID: "go-generics", ReadTime: "8 min read"})

	events := rec.Events()
	require.Len(t, events, 1)
	require.Equal(t, analytics.KindArticleOpened, events[0].Kind)
	require.Equal(t, "go-generics", events[0].Subject)
	minutes, ok := events[0].IntAttr(analytics.AttrExpectedReadMinutes)
	require.True(t, ok)
	require.Equal(t, int64(8), minutes)
	require.Equal(t, epoch, events[0].OccurredAt)
}

func TestOpenFallsBackForUnparseableReadTime(t *testing.T) {
	t.Parallel()

	tr, rec, _ := newTestTracker()
	tr.Open(Subject{ID: "post", ReadTime: "a while"})
	minutes, _ := rec.Events()[0].IntAttr(analytics.AttrExpectedReadMinutes)
	require.Equal(t, int64(DefaultReadMinutes), minutes)
}

func TestOpenSameSubjectTwiceEmitsOnce(t *testing.T) {
	t.Parallel()

	tr, rec, _ := newTestTracker()
	tr.Open(Subject{ID: "post"})
	tr.Open(Subject{ID: "post"})
	tr.Switch(Subject{ID: "post"})
	require.Equal(t, []analytics.Kind{analytics.KindArticleOpened}, rec.Kinds())
}

func TestOpenWithoutSubjectIgnored(t *testing.T) {
	t.Parallel()

	tr, rec, _ := newTestTracker()
	tr.Open(Subject{})
	require.Empty(t, rec.Events())
	_, open := tr.Subject()
	require.False(t, open)
}

func TestScrollJumpEmitsAscendingThresholds(t *testing.T) {
	t.Parallel()

	tr, rec, _ := newTestTracker()
	tr.Open(Subject{ID: "post"})
	tr.Scroll(800, 1000)

	require.Equal(t, []int64{25, 50, 75}, rec.Percents())
	require.Equal(t, []int{25, 50, 75}, tr.Crossed())
}

func TestScrollThresholdsEmitAtMostOnce(t *testing.T) {
	t.Parallel()

	tr, rec, _ := newTestTracker()
	tr.Open(Subject{ID: "post"})
	for _, offset := range []float64{10, 260, 240, 500, 499, 760, 100, 1000, 1200, 1000} {
		tr.Scroll(offset, 1000)
	}
	require.Equal(t, []int64{25, 50, 75, 100}, rec.Percents())
}

func TestScrollBelowFirstThresholdEmitsNothing(t *testing.T) {
	t.Parallel()

	tr, rec, _ := newTestTracker()
	tr.Open(Subject{ID: "post"})
	tr.Scroll(249, 1000)
	require.Empty(t, rec.Percents())
	tr.Scroll(250, 1000)
	require.Equal(t, []int64{25}, rec.Percents())
}

func TestScrollDegenerateGeometry(t *testing.T) {
	t.Parallel()

	tr, rec, _ := newTestTracker()
	tr.Open(Subject{ID: "post"})
	require.NotPanics(t, func() {
		tr.Scroll(100, 0)
		tr.Scroll(100, -5)
		tr.Scroll(math.NaN(), 100)
		tr.Scroll(100, math.Inf(1))
	})
	require.Empty(t, rec.Percents())

	tr.Scroll(-50, 100)
	require.Empty(t, rec.Percents())
}

func TestScrollWhileClosedIgnored(t *testing.T) {
	t.Parallel()

	tr, rec, _ := newTestTracker()
	tr.Scroll(1000, 1000)
	require.Empty(t, rec.Events())
}

func TestCloseShortDwellDiscarded(t *testing.T) {
	t.Parallel()

	tr, rec, clk := newTestTracker()
	tr.Open(Subject{ID: "post"})
	clk.Advance(3 * time.Second)
	tr.Close()
	require.Equal(t, []analytics.Kind{analytics.KindArticleOpened}, rec.Kinds())
}

func TestCloseAtFloorDiscarded(t *testing.T) {
	t.Parallel()

	tr, rec, clk := newTestTracker()
	tr.Open(Subject{ID: "post"})
	clk.Advance(5 * time.Second)
	tr.Close()
	require.Len(t, rec.Events(), 1)
}

func TestCloseLongDwellEmitsSeconds(t *testing.T) {
	t.Parallel()

	tr, rec, clk := newTestTracker()
	tr.Open(Subject{ID: "post"})
	clk.Advance(6 * time.Second)
	tr.Close()
	tr.Close()

	events := rec.Events()
	require.Len(t, events, 2)
	last := events[1]
	require.Equal(t, analytics.KindDwellTime, last.Kind)
	require.Equal(t, "post", last.Subject)
	secs, ok := last.IntAttr(analytics.AttrSeconds)
	require.True(t, ok)
	require.Equal(t, int64(6), secs)
}

func TestSessionEventOrdering(t *testing.T) {
	t.Parallel()

	tr, rec, clk := newTestTracker()
	tr.Open(Subject{ID: "post"})
	clk.Advance(2 * time.Second)
	tr.Scroll(600, 1000)
	tr.TrackSocialClick("share_x")
	clk.Advance(10 * time.Second)
	tr.Scroll(1000, 1000)
	tr.Close()

	require.Equal(t, []analytics.Kind{
		analytics.KindArticleOpened,
		analytics.KindScrollDepth,
		analytics.KindScrollDepth,
		analytics.KindClick,
		analytics.KindScrollDepth,
		analytics.KindScrollDepth,
		analytics.KindDwellTime,
	}, rec.Kinds())
}

func TestSwitchClosesOldBeforeOpeningNew(t *testing.T) {
	t.Parallel()

	tr, rec, clk := newTestTracker()
	tr.Open(Subject{ID: "a"})
	tr.Scroll(1000, 1000)
	clk.Advance(7 * time.Second)
	tr.Switch(Subject{ID: "b"})

	events := rec.Events()
	require.Len(t, events, 7)
	require.Equal(t, analytics.KindDwellTime, events[5].Kind)
	require.Equal(t, "a", events[5].Subject)
	require.Equal(t, analytics.KindArticleOpened, events[6].Kind)
	require.Equal(t, "b", events[6].Subject)

	require.Empty(t, tr.Crossed())
	subject, open := tr.Subject()
	require.True(t, open)
	require.Equal(t, "b", subject)

	tr.Scroll(300, 1000)
	last := rec.Events()[len(rec.Events())-1]
	require.Equal(t, "b", last.Subject)
	p, _ := last.IntAttr(analytics.AttrPercent)
	require.Equal(t, int64(25), p)
}

func TestSwitchWithShortDwellStillOpensNew(t *testing.T) {
	t.Parallel()

	tr, rec, clk := newTestTracker()
	tr.Open(Subject{ID: "a"})
	clk.Advance(time.Second)
	tr.Switch(Subject{ID: "b"})
	require.Equal(t, []analytics.Kind{analytics.KindArticleOpened, analytics.KindArticleOpened}, rec.Kinds())
}

func TestReopenAfterCloseStartsFreshSession(t *testing.T) {
	t.Parallel()

	tr, rec, clk := newTestTracker()
	tr.Open(Subject{ID: "post"})
	tr.Scroll(1000, 1000)
	clk.Advance(time.Second)
	tr.Close()
	tr.Open(Subject{ID: "post"})
	tr.Scroll(300, 1000)

	opens := 0
	for _, k := range rec.Kinds() {
		if k == analytics.KindArticleOpened {
			opens++
		}
	}
	require.Equal(t, 2, opens)
	require.Equal(t, []int64{25, 50, 75, 100, 25}, rec.Percents())
}

func TestClicks(t *testing.T) {
	t.Parallel()

	tr, rec, _ := newTestTracker()
	tr.TrackSocialClick("share_x")
	require.Empty(t, rec.Events())

	tr.Open(Subject{ID: "post"})
	tr.TrackSocialClick("share_linkedin")
	tr.TrackRelatedClick("next-post")
	tr.TrackExternalClick("https://go.dev", "Go website")
	tr.TrackSocialClick("")

	events := rec.Events()[1:]
	require.Len(t, events, 3)

	require.Equal(t, analytics.CategorySocial, events[0].StringAttr(analytics.AttrCategory))
	require.Equal(t, "share_linkedin", events[0].StringAttr(analytics.AttrAction))
	require.Equal(t, "post", events[0].Subject)

	require.Equal(t, analytics.CategoryRelated, events[1].StringAttr(analytics.AttrCategory))
	require.Equal(t, "next-post", events[1].StringAttr(analytics.AttrLabel))

	require.Equal(t, analytics.CategoryExternal, events[2].StringAttr(analytics.AttrCategory))
	require.Equal(t, "https://go.dev", events[2].StringAttr(analytics.AttrURL))
	require.Equal(t, "Go website", events[2].StringAttr(analytics.AttrLabel))

	tr.Close()
	tr.TrackRelatedClick("late")
	require.Len(t, rec.Events(), 4)
}

func TestStartOpensSubject(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	tr := Start(Deps{Emitter: rec, Clock: virtual.New(epoch)}, Config{DwellFloorSeconds: 1}, Subject{ID: "post"})
	subject, open := tr.Subject()
	require.True(t, open)
	require.Equal(t, "post", subject)
	require.Equal(t, []analytics.Kind{analytics.KindArticleOpened}, rec.Kinds())
}
