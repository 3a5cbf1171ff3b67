package messagelog

import (
	"context"
	"log/slog"
	"io"
	"testing"

	"github.com/shadow-org/shadow/internal/storage"
	"github.com/shadow-org/shadow/pkg/models"
)

func newTestLog() *Log {
	return New(storage.NewMemoryStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAppendUserAssignsIncreasingSequence(t *testing.T) {
	ctx := context.Background()
	l := newTestLog()

	first, err := l.AppendUser(ctx, "t1", "fix the flaky test")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := l.AppendUser(ctx, "t1", "also update the readme")
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if first.Sequence != 1 || second.Sequence != 2 {
		t.Fatalf("sequences = %d, %d; want 1, 2", first.Sequence, second.Sequence)
	}
}

func TestAssistantMessageLifecycle(t *testing.T) {
	ctx := context.Background()
	l := newTestLog()

	msg, err := l.BeginAssistant(ctx, "t1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if !msg.IsStreaming {
		t.Fatal("expected IsStreaming = true on begin")
	}

	if err := l.AppendPart(ctx, msg, models.Part{Kind: models.PartText, Text: &models.TextPart{Text: "Looking into it."}}); err != nil {
		t.Fatalf("append part: %v", err)
	}
	if err := l.Finish(ctx, msg, models.FinishStop, &models.Usage{InputTokens: 10, OutputTokens: 5}); err != nil {
		t.Fatalf("finish: %v", err)
	}

	history, err := l.History(ctx, "t1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 message, got %d", len(history))
	}
	got := history[0]
	if got.IsStreaming {
		t.Fatal("expected IsStreaming = false after finish")
	}
	if got.FinishReason != models.FinishStop {
		t.Fatalf("finish reason = %v, want stop", got.FinishReason)
	}
	if len(got.Parts) != 1 || got.Parts[0].Text.Text != "Looking into it." {
		t.Fatalf("parts not persisted: %+v", got.Parts)
	}
}
