package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shadow-org/shadow/pkg/models"
)

func TestMemoryStoreTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	task := &models.Task{ID: "t1", RepoFullName: "acme/widgets", Status: models.StatusInitializing, CreatedAt: time.Now()}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusInitializing {
		t.Fatalf("status = %v, want INITIALIZING", got.Status)
	}

	got.Status = models.StatusRunning
	if err := s.UpdateTask(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}

	reread, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if reread.Status != models.StatusRunning {
		t.Fatalf("status after update = %v, want RUNNING", reread.Status)
	}

	if _, err := s.GetTask(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreMessageSequencing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 3; i++ {
		seq, err := s.NextSequence(ctx, "t1")
		if err != nil {
			t.Fatalf("next sequence: %v", err)
		}
		if seq != i+1 {
			t.Fatalf("sequence = %d, want %d", seq, i+1)
		}
		if err := s.AppendMessage(ctx, &models.Message{ID: "m" + string(rune('0'+i)), TaskID: "t1", Sequence: seq}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := s.ListMessages(ctx, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, m := range msgs {
		if m.Sequence != i+1 {
			t.Fatalf("message %d has sequence %d", i, m.Sequence)
		}
	}
}

func TestMemoryStoreQueuedActionReplacesExisting(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.SetQueuedAction(ctx, &models.QueuedAction{TaskID: "t1", Kind: models.QueuedActionMessage, Content: "first"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetQueuedAction(ctx, &models.QueuedAction{TaskID: "t1", Kind: models.QueuedActionStop}); err != nil {
		t.Fatalf("set: %v", err)
	}

	a, err := s.GetQueuedAction(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if a.Kind != models.QueuedActionStop {
		t.Fatalf("kind = %v, want stop (the later action should win)", a.Kind)
	}

	if err := s.ClearQueuedAction(ctx, "t1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := s.GetQueuedAction(ctx, "t1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}
}
