// Package system provides the wall clock and a timer-backed scheduler.
package system

import (
	"sync"
	"time"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
)

// Clock implements analytics.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Scheduler implements analytics.Scheduler on top of time.AfterFunc. Tasks
// run on their own goroutine.
type Scheduler struct{}

// NewScheduler creates a new Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Schedule runs fn after delay unless the returned cancel func is called first.
func (Scheduler) Schedule(delay time.Duration, fn func()) analytics.CancelFunc {
	timer := time.AfterFunc(delay, fn)
	var once sync.Once
	return func() {
		once.Do(func() { timer.Stop() })
	}
}
