package cleanup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shadow-org/shadow/internal/storage"
	"github.com/shadow-org/shadow/pkg/models"
)

type stubTeardown struct {
	calls []string
	err   error
}

func (s *stubTeardown) Teardown(ctx context.Context, sandboxID string) error {
	s.calls = append(s.calls, sandboxID)
	return s.err
}

func TestSweepTearsDownDueTasks(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	past := time.Now().Add(-time.Minute)
	task := &models.Task{ID: "t1", Status: models.StatusCompleted, SandboxID: "sandbox-1", ScheduledCleanupAt: &past, CreatedAt: time.Now()}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	td := &stubTeardown{}
	s := New(store, td, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.sweep(ctx)

	if len(td.calls) != 1 || td.calls[0] != "sandbox-1" {
		t.Fatalf("expected teardown called once with sandbox-1, got %v", td.calls)
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %v, want unchanged COMPLETED -- idle cleanup is not an archive transition", got.Status)
	}
	if got.InitStatus != models.InitInactive {
		t.Fatalf("init status = %v, want INACTIVE", got.InitStatus)
	}
	if got.SandboxID != "" {
		t.Fatal("expected sandbox id cleared")
	}
	if got.ScheduledCleanupAt != nil {
		t.Fatal("expected scheduled cleanup to be cleared")
	}
}

func TestSweepSkipsTasksNotYetDue(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	future := time.Now().Add(time.Hour)
	task := &models.Task{ID: "t1", Status: models.StatusCompleted, SandboxID: "sandbox-1", ScheduledCleanupAt: &future, CreatedAt: time.Now()}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	td := &stubTeardown{}
	s := New(store, td, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.sweep(ctx)

	if len(td.calls) != 0 {
		t.Fatalf("expected no teardown calls, got %v", td.calls)
	}
}

func TestSweepContinuesAfterOneTaskFails(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	past := time.Now().Add(-time.Minute)
	for _, id := range []string{"t1", "t2"} {
		task := &models.Task{ID: id, Status: models.StatusCompleted, SandboxID: "sandbox-" + id, ScheduledCleanupAt: &past, CreatedAt: time.Now()}
		if err := store.CreateTask(ctx, task); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	td := &stubTeardown{err: errors.New("transient failure")}
	s := New(store, td, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.sweep(ctx) // should not panic despite every teardown failing

	if len(td.calls) != 2 {
		t.Fatalf("expected both tasks attempted, got %d calls", len(td.calls))
	}
}

func TestScheduleForSetsFutureCleanupTime(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	task := &models.Task{ID: "t1", Status: models.StatusCompleted, CreatedAt: time.Now()}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := ScheduleFor(ctx, store, "t1", 30*time.Minute); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ScheduledCleanupAt == nil || !got.ScheduledCleanupAt.After(time.Now()) {
		t.Fatalf("expected future cleanup time, got %v", got.ScheduledCleanupAt)
	}
}

func TestCancelOnActivityClearsSchedule(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	future := time.Now().Add(time.Hour)
	task := &models.Task{ID: "t1", Status: models.StatusRunning, ScheduledCleanupAt: &future, CreatedAt: time.Now()}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := CancelOnActivity(ctx, store, "t1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ScheduledCleanupAt != nil {
		t.Fatal("expected schedule to be cleared")
	}
}
