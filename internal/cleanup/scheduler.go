// Package cleanup implements the Cleanup Scheduler (C11): a periodic sweep
// that tears down sandboxes for tasks whose ScheduledCleanupAt has passed,
// driven by github.com/robfig/cron/v3 on an "@every" interval rather than a
// hand-rolled ticker.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shadow-org/shadow/internal/storage"
	"github.com/shadow-org/shadow/pkg/models"
)

// Teardown tears down a task's sandbox. It must be idempotent: tearing
// down an already-torn-down sandbox is not an error.
type Teardown interface {
	Teardown(ctx context.Context, sandboxID string) error
}

// Scheduler periodically sweeps for tasks due for cleanup and tears down
// their sandboxes.
type Scheduler struct {
	store    storage.TaskStore
	teardown Teardown
	interval time.Duration
	log      *slog.Logger

	cron *cron.Cron
}

// New returns a Scheduler that sweeps every interval.
func New(store storage.TaskStore, teardown Teardown, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		teardown: teardown,
		interval: interval,
		log:      logger,
		cron:     cron.New(cron.WithSeconds()),
	}
}

// Start registers the sweep on the configured interval and begins running
// it in the background. Call Stop to halt it.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := "@every " + s.interval.String()
	_, err := s.cron.AddFunc(spec, func() { s.sweep(ctx) })
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the sweep, waiting for any in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// sweep runs one pass: find every task due for cleanup, tear down its
// sandbox, and clear the schedule. A failure on one task is logged and
// does not stop the sweep from processing the rest.
func (s *Scheduler) sweep(ctx context.Context) {
	due, err := s.store.ListDueForCleanup(ctx)
	if err != nil {
		s.log.Error("cleanup sweep: list due tasks failed", "error", err)
		return
	}

	for _, task := range due {
		if err := s.cleanupOne(ctx, task); err != nil {
			s.log.Error("cleanup sweep: task cleanup failed", "task_id", task.ID, "error", err)
		}
	}
}

// cleanupOne tears down task's sandbox and marks its workspace inactive.
// It never changes Status: ARCHIVED is reached only through the PR-closed
// webhook transition, not through idle cleanup.
func (s *Scheduler) cleanupOne(ctx context.Context, task *models.Task) error {
	if task.SandboxID != "" {
		if err := s.teardown.Teardown(ctx, task.SandboxID); err != nil {
			return err
		}
	}
	task.SandboxID = ""
	task.SandboxAddress = ""
	task.ScheduledCleanupAt = nil
	task.InitStatus = models.InitInactive
	return s.store.UpdateTask(ctx, task)
}

// CancelOnActivity clears a task's scheduled cleanup, used whenever a task
// receives a new message or runs a queued one -- fresh activity should push
// cleanup back out rather than let a stale schedule tear the sandbox down
// mid-conversation.
func CancelOnActivity(ctx context.Context, store storage.TaskStore, taskID string) error {
	task, err := store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.ScheduledCleanupAt == nil {
		return nil
	}
	task.ScheduledCleanupAt = nil
	return store.UpdateTask(ctx, task)
}

// ScheduleFor sets a task's cleanup to run after idleTimeout from now,
// called once a turn finishes with no further queued work.
func ScheduleFor(ctx context.Context, store storage.TaskStore, taskID string, idleTimeout time.Duration) error {
	task, err := store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	at := time.Now().Add(idleTimeout)
	task.ScheduledCleanupAt = &at
	return store.UpdateTask(ctx, task)
}
