// Package virtual provides a deterministic clock and scheduler. Time only
// moves when Advance or AdvanceTo is called, and due tasks run synchronously
// on the caller's goroutine in due-time order.
package virtual

import (
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
)

// Clock is a manually advanced analytics.Clock and analytics.Scheduler.
type Clock struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	tasks []*task
}

type task struct {
	due       time.Time
	seq       uint64
	fn        func()
	cancelled bool
}

// New returns a Clock positioned at start.
func New(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current virtual time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Schedule registers fn to run once the clock reaches now+delay.
func (c *Clock) Schedule(delay time.Duration, fn func()) analytics.CancelFunc {
	if delay < 0 {
		delay = 0
	}
	c.mu.Lock()
	c.seq++
	t := &task{due: c.now.Add(delay), seq: c.seq, fn: fn}
	c.tasks = append(c.tasks, t)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		t.cancelled = true
	}
}

// Advance moves the clock forward by d, running every task that falls due.
func (c *Clock) Advance(d time.Duration) {
	c.AdvanceTo(c.Now().Add(d))
}

// AdvanceTo moves the clock to target, running due tasks in order. Each task
// observes Now() equal to its due time. Targets in the past are ignored.
func (c *Clock) AdvanceTo(target time.Time) {
	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			if target.After(c.now) {
				c.now = target
			}
			c.mu.Unlock()
			return
		}
		c.removeLocked(next)
		if next.due.After(c.now) {
			c.now = next.due
		}
		c.mu.Unlock()
		// Tasks may schedule or cancel other tasks, so run without the lock.
		next.fn()
	}
}

// Pending reports how many live tasks are waiting.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}

func (c *Clock) nextDueLocked(target time.Time) *task {
	live := c.tasks[:0]
	for _, t := range c.tasks {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	c.tasks = live
	sort.Slice(c.tasks, func(i, j int) bool {
		if c.tasks[i].due.Equal(c.tasks[j].due) {
			return c.tasks[i].seq < c.tasks[j].seq
		}
		return c.tasks[i].due.Before(c.tasks[j].due)
	})
	if len(c.tasks) == 0 || c.tasks[0].due.After(target) {
		return nil
	}
	return c.tasks[0]
}

func (c *Clock) removeLocked(t *task) {
	for i, candidate := range c.tasks {
		if candidate == t {
			c.tasks = append(c.tasks[:i], c.tasks[i+1:]...)
			return
		}
	}
}
