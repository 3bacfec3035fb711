package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowmesh/flowmesh/internal/app/storage"
	"github.com/flowmesh/flowmesh/internal/app/storage/memory"
)

// tickSchedule fires at a fixed sub-second interval, bypassing cron's
// one-second floor for tests.
type tickSchedule struct{ interval time.Duration }

func (s tickSchedule) Next(t time.Time) time.Time { return t.Add(s.interval) }

func fastScheduler(store storage.RegistrationStore, fallback Callback) *Scheduler {
	s := New(store, fallback, nil)
	s.every = func(time.Duration) cron.Schedule {
		return tickSchedule{interval: 10 * time.Millisecond}
	}
	return s
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for firing")
		return ""
	}
}

func TestSchedulerFiresCallback(t *testing.T) {
	fired := make(chan string, 16)
	s := fastScheduler(nil, func(_ context.Context, workflowID string) error {
		fired <- workflowID
		return nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	entry, err := s.Schedule(context.Background(), "wf-1", "every 5 minutes", nil)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if entry.IntervalMs != (5 * time.Minute).Milliseconds() {
		t.Fatalf("unexpected interval: %d", entry.IntervalMs)
	}

	if got := waitFor(t, fired); got != "wf-1" {
		t.Fatalf("unexpected workflow id: %s", got)
	}

	updated, ok := s.Entry("wf-1")
	if !ok {
		t.Fatalf("entry vanished")
	}
	if updated.LastRun == 0 || updated.NextRun <= updated.LastRun {
		t.Fatalf("bookkeeping not updated before callback: %+v", updated)
	}
}

func TestScheduleRejectsBadExpression(t *testing.T) {
	s := New(nil, func(context.Context, string) error { return nil }, nil)
	if _, err := s.Schedule(context.Background(), "wf-1", "whenever", nil); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := s.Schedule(context.Background(), "", "every 5 minutes", nil); err == nil {
		t.Fatalf("expected missing id error")
	}
}

func TestScheduleReplacesExistingTimer(t *testing.T) {
	var count int64
	s := fastScheduler(nil, func(context.Context, string) error {
		atomic.AddInt64(&count, 1)
		return nil
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	if _, err := s.Schedule(context.Background(), "wf-1", "every 5 minutes", nil); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := s.Schedule(context.Background(), "wf-1", "every 2 hours", nil); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected a single live entry, got %d", len(entries))
	}
	if entries[0].CronExpression != "every 2 hours" {
		t.Fatalf("reschedule did not replace the entry: %+v", entries[0])
	}
}

func TestSchedulerSurvivesCallbackFailures(t *testing.T) {
	calls := make(chan string, 16)
	s := fastScheduler(nil, func(_ context.Context, workflowID string) error {
		calls <- workflowID
		panic("handler exploded")
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	if _, err := s.Schedule(context.Background(), "wf-1", "every 5 minutes", nil); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// Two consecutive firings prove the panic did not kill the runner.
	waitFor(t, calls)
	waitFor(t, calls)
}

func TestUnscheduleStopsFiring(t *testing.T) {
	var count int64
	s := fastScheduler(nil, func(context.Context, string) error {
		atomic.AddInt64(&count, 1)
		return nil
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	if _, err := s.Schedule(context.Background(), "wf-1", "every 5 minutes", nil); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	s.Unschedule(context.Background(), "wf-1")

	if _, ok := s.Entry("wf-1"); ok {
		t.Fatalf("entry should be gone after unschedule")
	}

	// Let any in-flight firing finish before sampling.
	time.Sleep(30 * time.Millisecond)
	settled := atomic.LoadInt64(&count)
	time.Sleep(100 * time.Millisecond)
	if after := atomic.LoadInt64(&count); after > settled {
		t.Fatalf("timer kept firing after unschedule: %d -> %d", settled, after)
	}

	// Unknown ids are a no-op.
	s.Unschedule(context.Background(), "ghost")
}

func TestDestroyCancelsAllTimers(t *testing.T) {
	s := fastScheduler(nil, func(context.Context, string) error { return nil })
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Schedule(context.Background(), id, "every 5 minutes", nil); err != nil {
			t.Fatalf("schedule %s: %v", id, err)
		}
	}
	s.Destroy()
	if entries := s.Entries(); len(entries) != 0 {
		t.Fatalf("expected no entries after destroy, got %d", len(entries))
	}
}

func TestSchedulerPersistsAndRehydrates(t *testing.T) {
	store := memory.New()

	first := fastScheduler(store, func(context.Context, string) error { return nil })
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := first.Schedule(context.Background(), "wf-1", "every 5 minutes", nil); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := first.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	fired := make(chan string, 16)
	second := fastScheduler(store, func(_ context.Context, workflowID string) error {
		fired <- workflowID
		return nil
	})
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer second.Stop(context.Background())

	if _, ok := second.Entry("wf-1"); !ok {
		t.Fatalf("persisted schedule not rehydrated")
	}
	if got := waitFor(t, fired); got != "wf-1" {
		t.Fatalf("unexpected workflow id: %s", got)
	}

	second.Unschedule(context.Background(), "wf-1")
	records, err := store.ListSchedules(context.Background())
	if err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("unschedule should delete the persisted record: %v", records)
	}
}
