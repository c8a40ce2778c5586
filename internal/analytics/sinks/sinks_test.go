package sinks

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/engagement-analytics/internal/analytics"
)

var at = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func sampleBatch() []analytics.Event {
	return []analytics.Event{
		analytics.NewEvent(analytics.KindArticleOpened, "post", at, map[string]any{
			analytics.AttrTitle:               "post",
			analytics.AttrExpectedReadMinutes: 6,
		}).Stamp("e1", "p1"),
		analytics.NewEvent(analytics.KindScrollDepth, "post", at.Add(time.Second), map[string]any{
			analytics.AttrPercent: 25,
		}).Stamp("e2", "p1"),
		analytics.NewEvent(analytics.KindClick, "post", at.Add(2*time.Second), map[string]any{
			analytics.AttrCategory: analytics.CategorySocial,
			analytics.AttrAction:   "share_x",
		}).Stamp("e3", "p1"),
		analytics.NewEvent(analytics.KindDwellTime, "post", at.Add(40*time.Second), map[string]any{
			analytics.AttrSeconds: 40,
		}).Stamp("e4", "p1"),
	}
}

type fakeRepo struct {
	batches [][]analytics.Event
	fail    bool
	closed  bool
}

func (f *fakeRepo) InsertEvents(_ context.Context, events []analytics.Event) error {
	if f.fail {
		return errors.New("insert failed")
	}
	f.batches = append(f.batches, events)
	return nil
}

func (f *fakeRepo) Close(context.Context) error {
	f.closed = true
	return nil
}
