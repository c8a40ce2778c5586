// Package engagement tracks how a reader engages with one article at a time:
// the open, scroll-depth milestones, dwell time on close, and outbound
// clicks. Each Tracker owns exactly one live Session.
package engagement

import (
	"math"
	"time"
)

// Thresholds is the scroll-depth ladder, in percent of scrollable height.
var Thresholds = []int{25, 50, 75, 100}

// State is the lifecycle position of a Session.
type State int

// Session states.
const (
	StateClosed State = iota
	StateOpened
)

func (s State) String() string {
	if s == StateOpened {
		return "opened"
	}
	return "closed"
}

// Session holds the transient read state for one subject during one
// visibility period. It is not safe for concurrent use; its Tracker
// serializes access.
type Session struct {
	SubjectID string
	OpenedAt  time.Time

	crossed        map[int]struct{}
	hasEmittedOpen bool
	state          State
}

func newSession(subjectID string) *Session {
	return &Session{
		SubjectID: subjectID,
		crossed:   make(map[int]struct{}, len(Thresholds)),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Crossed returns the crossed thresholds in ascending order.
func (s *Session) Crossed() []int {
	out := make([]int, 0, len(s.crossed))
	for _, t := range Thresholds {
		if _, ok := s.crossed[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// open moves the session to Opened. It reports whether the opened event
// should be emitted, which is true at most once per session.
func (s *Session) open(now time.Time) bool {
	if s.state == StateOpened {
		return false
	}
	s.state = StateOpened
	s.OpenedAt = now
	if s.hasEmittedOpen {
		return false
	}
	s.hasEmittedOpen = true
	return true
}

// cross records every ladder value reached by percent and returns the newly
// crossed ones in ascending order.
func (s *Session) cross(percent float64) []int {
	if s.state != StateOpened {
		return nil
	}
	var fresh []int
	for _, t := range Thresholds {
		if float64(t) > percent {
			break
		}
		if _, seen := s.crossed[t]; seen {
			continue
		}
		s.crossed[t] = struct{}{}
		fresh = append(fresh, t)
	}
	return fresh
}

// close moves the session to Closed and resets it, returning the rounded
// dwell in whole seconds. ok is false when the session was not open.
func (s *Session) close(now time.Time) (seconds int64, ok bool) {
	if s.state != StateOpened {
		return 0, false
	}
	dwell := now.Sub(s.OpenedAt)
	if dwell < 0 {
		dwell = 0
	}
	seconds = int64(math.Round(dwell.Seconds()))
	s.state = StateClosed
	s.OpenedAt = time.Time{}
	s.crossed = make(map[int]struct{}, len(Thresholds))
	s.hasEmittedOpen = false
	return seconds, true
}

// scrollPercent converts container geometry into a clamped percentage. ok is
// false for degenerate geometry.
func scrollPercent(offset, extent float64) (float64, bool) {
	if extent <= 0 || math.IsNaN(extent) || math.IsInf(extent, 0) || math.IsNaN(offset) {
		return 0, false
	}
	pct := offset / extent * 100
	switch {
	case pct < 0:
		pct = 0
	case pct > 100:
		pct = 100
	}
	return pct, true
}
