package virtual

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestAdvanceRunsDueTasksInOrder(t *testing.T) {
	t.Parallel()

	clk := New(epoch)
	var order []string
	clk.Schedule(300*time.Millisecond, func() { order = append(order, "c") })
	clk.Schedule(100*time.Millisecond, func() { order = append(order, "a") })
	clk.Schedule(100*time.Millisecond, func() { order = append(order, "b") })

	clk.Advance(200 * time.Millisecond)
	require.Equal(t, []string{"a", "b"}, order)
	require.Equal(t, epoch.Add(200*time.Millisecond), clk.Now())
	require.Equal(t, 1, clk.Pending())

	clk.Advance(time.Second)
	require.Equal(t, []string{"a", "b", "c"}, order)
	require.Zero(t, clk.Pending())
}

func TestTaskObservesDueTime(t *testing.T) {
	t.Parallel()

	clk := New(epoch)
	var seen time.Time
	clk.Schedule(100*time.Millisecond, func() { seen = clk.Now() })
	clk.Advance(5 * time.Second)
	require.Equal(t, epoch.Add(100*time.Millisecond), seen)
}

func TestCancelPreventsRun(t *testing.T) {
	t.Parallel()

	clk := New(epoch)
	ran := false
	cancel := clk.Schedule(time.Millisecond, func() { ran = true })
	cancel()
	cancel()
	clk.Advance(time.Second)
	require.False(t, ran)
}

func TestTasksScheduledDuringAdvanceRun(t *testing.T) {
	t.Parallel()

	clk := New(epoch)
	count := 0
	clk.Schedule(10*time.Millisecond, func() {
		count++
		clk.Schedule(10*time.Millisecond, func() { count++ })
	})
	clk.Advance(time.Second)
	require.Equal(t, 2, count)
}

func TestAdvanceToPastIsIgnored(t *testing.T) {
	t.Parallel()

	clk := New(epoch)
	clk.AdvanceTo(epoch.Add(-time.Hour))
	require.Equal(t, epoch, clk.Now())
}
