// Package scheduler turns restricted schedule expressions into interval
// timers and fires registered workflows when they elapse.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowmesh/flowmesh/internal/app/metrics"
	"github.com/flowmesh/flowmesh/internal/app/storage"
	"github.com/flowmesh/flowmesh/pkg/logger"
)

// Callback runs one scheduled firing of a workflow.
type Callback func(ctx context.Context, workflowID string) error

// Entry describes one live schedule.
type Entry struct {
	WorkflowID     string `json:"workflowId"`
	CronExpression string `json:"cronExpression"`
	IntervalMs     int64  `json:"intervalMs"`
	NextRun        int64  `json:"nextRunUnixMs"`
	LastRun        int64  `json:"lastRunUnixMs,omitempty"`
}

type entry struct {
	Entry
	cronID   cron.EntryID
	callback Callback
}

// Scheduler owns at most one timer per workflow id. Scheduling a workflow
// that already has a timer replaces it.
type Scheduler struct {
	log   *logger.Logger
	store storage.RegistrationStore

	mu       sync.Mutex
	cron     *cron.Cron
	entries  map[string]*entry
	fallback Callback
	running  bool

	// every builds the firing schedule for an interval; tests swap it to
	// fire faster than cron's one-second floor.
	every func(d time.Duration) cron.Schedule
}

// New creates a scheduler. The store may be nil, in which case registrations
// live only in memory. The fallback callback serves rehydrated schedules and
// any Schedule call made with a nil callback.
func New(store storage.RegistrationStore, fallback Callback, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	return &Scheduler{
		log:      log,
		store:    store,
		cron:     cron.New(),
		entries:  make(map[string]*entry),
		fallback: fallback,
		every:    func(d time.Duration) cron.Schedule { return cron.Every(d) },
	}
}

// Name implements system.Service.
func (s *Scheduler) Name() string { return "scheduler" }

// Start launches the timer runner and rehydrates persisted schedules.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.cron.Start()
	s.mu.Unlock()

	if s.store != nil {
		if err := s.rehydrate(ctx); err != nil {
			s.log.WithError(err).Warn("schedule rehydration failed")
		}
	}
	s.log.Info("scheduler started")
	return nil
}

// Stop halts the timer runner and waits for in-flight firings to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	done := s.cron.Stop().Done()
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("scheduler stopped")
	return nil
}

// Schedule registers a workflow under a restricted schedule expression. Any
// existing timer for the workflow id is cancelled first. A nil callback uses
// the scheduler's fallback.
func (s *Scheduler) Schedule(ctx context.Context, workflowID, expression string, cb Callback) (Entry, error) {
	if workflowID == "" {
		return Entry{}, fmt.Errorf("workflow id is required")
	}
	interval, err := ParseExpression(expression)
	if err != nil {
		return Entry{}, err
	}
	if cb == nil {
		cb = s.fallback
	}
	if cb == nil {
		return Entry{}, fmt.Errorf("scheduler has no callback for workflow %s", workflowID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[workflowID]; ok {
		s.cron.Remove(prev.cronID)
		delete(s.entries, workflowID)
	}

	now := time.Now().UTC()
	ent := &entry{
		Entry: Entry{
			WorkflowID:     workflowID,
			CronExpression: expression,
			IntervalMs:     interval.Milliseconds(),
			NextRun:        now.Add(interval).UnixMilli(),
		},
		callback: cb,
	}
	ent.cronID = s.cron.Schedule(s.every(interval), cron.FuncJob(func() {
		s.fire(workflowID)
	}))
	s.entries[workflowID] = ent

	if s.store != nil {
		rec := storage.ScheduleRecord{
			WorkflowID:     workflowID,
			CronExpression: expression,
			NextRun:        ent.NextRun,
		}
		if err := s.store.SaveSchedule(ctx, rec); err != nil {
			s.log.WithError(err).WithField("workflow_id", workflowID).Warn("failed to persist schedule")
		}
	}

	s.log.WithField("workflow_id", workflowID).
		WithField("expression", expression).
		WithField("interval_ms", ent.IntervalMs).
		Info("workflow scheduled")
	return ent.Entry, nil
}

// Unschedule cancels the workflow's timer if one exists. Unknown ids are a
// no-op.
func (s *Scheduler) Unschedule(ctx context.Context, workflowID string) {
	s.mu.Lock()
	ent, ok := s.entries[workflowID]
	if ok {
		s.cron.Remove(ent.cronID)
		delete(s.entries, workflowID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if s.store != nil {
		if err := s.store.DeleteSchedule(ctx, workflowID); err != nil {
			s.log.WithError(err).WithField("workflow_id", workflowID).Warn("failed to delete persisted schedule")
		}
	}
	s.log.WithField("workflow_id", workflowID).Info("workflow unscheduled")
}

// Destroy cancels every timer. Persisted registrations are kept so another
// instance can rehydrate them.
func (s *Scheduler) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ent := range s.entries {
		s.cron.Remove(ent.cronID)
		delete(s.entries, id)
	}
}

// Entries returns a snapshot of the live schedules sorted by workflow id.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, ent := range s.entries {
		out = append(out, ent.Entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkflowID < out[j].WorkflowID })
	return out
}

// Entry returns the live schedule for a workflow id.
func (s *Scheduler) Entry(workflowID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.entries[workflowID]
	if !ok {
		return Entry{}, false
	}
	return ent.Entry, true
}

// fire runs one firing. Timestamps are updated before the callback so a slow
// or failing run never stalls bookkeeping, and callback panics are contained.
func (s *Scheduler) fire(workflowID string) {
	s.mu.Lock()
	ent, ok := s.entries[workflowID]
	if !ok {
		s.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	ent.LastRun = now.UnixMilli()
	ent.NextRun = now.Add(time.Duration(ent.IntervalMs) * time.Millisecond).UnixMilli()
	cb := ent.callback
	s.mu.Unlock()

	err := s.safeCall(cb, workflowID)
	metrics.RecordSchedulerFiring(workflowID, err == nil)
	if err != nil {
		s.log.WithError(err).WithField("workflow_id", workflowID).Warn("scheduled run failed")
	}
}

func (s *Scheduler) safeCall(cb Callback, workflowID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("schedule callback panicked: %v", r)
		}
	}()
	return cb(context.Background(), workflowID)
}

func (s *Scheduler) rehydrate(ctx context.Context) error {
	records, err := s.store.ListSchedules(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if _, err := s.Schedule(ctx, rec.WorkflowID, rec.CronExpression, nil); err != nil {
			s.log.WithError(err).WithField("workflow_id", rec.WorkflowID).Warn("failed to rehydrate schedule")
		}
	}
	s.log.WithField("count", len(records)).Info("schedules rehydrated")
	return nil
}
