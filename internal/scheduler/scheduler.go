// Package scheduler drives the cron-based scheduled-jobs surface: it reads
// a fixed list of schedule entries from config, computes each one's next
// run with internal/cron, and enqueues a job through the Pipeline
// Orchestrator when that instant arrives. Structured the same way the
// Watchdog runs its sweep loop (internal/jobqueue/watchdog.go) — a single
// ticker goroutine stopped once via sync.Once — rather than one goroutine
// per entry, since the entry count is small and fixed at startup.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/axiscore/axiscore/internal/config"
	"github.com/axiscore/axiscore/internal/cron"
	"github.com/axiscore/axiscore/internal/jobqueue"
)

// tickInterval is how often the scheduler checks whether any entry has come
// due. A minute granularity matches cron's own minute-level resolution.
const tickInterval = 30 * time.Second

// Enqueuer is the subset of the orchestrator the scheduler needs. Satisfied
// by *orchestrator.Orchestrator.
type Enqueuer interface {
	EnqueueScheduled(ctx context.Context, conversationID, content string) (*jobqueue.Job, error)
}

type entry struct {
	config.ScheduleEntry
	schedule *cron.Schedule
	nextRun  time.Time
}

// Scheduler owns the parsed schedule set and the background loop that fires
// them.
type Scheduler struct {
	enqueuer Enqueuer
	entries  []*entry
	stopCh   chan struct{}
	once     sync.Once
}

// New parses every entry's cron expression up front. An entry whose
// expression fails to parse is logged and dropped rather than aborting the
// whole scheduler, so one bad config line doesn't take down every other
// schedule.
func New(enqueuer Enqueuer, defs []config.ScheduleEntry) *Scheduler {
	s := &Scheduler{enqueuer: enqueuer, stopCh: make(chan struct{})}
	now := time.Now()
	for _, def := range defs {
		sched, err := cron.Parse(def.Cron)
		if err != nil {
			slog.Error("scheduler: dropping malformed schedule", "id", def.ID, "cron", def.Cron, "error", err)
			continue
		}
		next, err := sched.NextRun(now)
		if err != nil {
			slog.Error("scheduler: schedule can never run, dropping", "id", def.ID, "cron", def.Cron, "error", err)
			continue
		}
		s.entries = append(s.entries, &entry{ScheduleEntry: def, schedule: sched, nextRun: next})
	}
	return s
}

// Start launches the background tick loop. A no-op if there are no entries
// to fire.
func (s *Scheduler) Start(ctx context.Context) {
	if len(s.entries) == 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case now := <-ticker.C:
				s.fireDue(ctx, now)
			}
		}
	}()
}

// Stop halts the tick loop.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	for _, e := range s.entries {
		if now.Before(e.nextRun) {
			continue
		}
		job, err := s.enqueuer.EnqueueScheduled(ctx, e.ConversationID, e.Content)
		if err != nil {
			slog.Error("scheduler: enqueue failed", "id", e.ID, "error", err)
		} else {
			slog.Info("scheduler: fired", "id", e.ID, "jobId", job.ID)
		}

		next, err := e.schedule.NextRun(now)
		if err != nil {
			slog.Error("scheduler: schedule exhausted its search horizon, dropping", "id", e.ID, "error", err)
			e.nextRun = now.Add(100 * 365 * 24 * time.Hour) // effectively never again
			continue
		}
		e.nextRun = next
	}
}
