package gitworker

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

type stubGenerator struct {
	message string
	err     error
}

func (s stubGenerator) GenerateCommitMessage(ctx context.Context, diff string) (string, error) {
	return s.message, s.err
}

func initRepo(t *testing.T, dir string) {
	t.Helper()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test"},
		{"checkout", "-b", "main"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
}

func TestHasChangesReflectsWorkingTree(t *testing.T) {
	dir := t.TempDir()
	initRepo(t, dir)
	w := New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	dirty, err := w.HasChanges(ctx, dir)
	if err != nil {
		t.Fatalf("has changes: %v", err)
	}
	if dirty {
		t.Fatal("expected clean repo with no changes")
	}

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	dirty, err = w.HasChanges(ctx, dir)
	if err != nil {
		t.Fatalf("has changes: %v", err)
	}
	if !dirty {
		t.Fatal("expected dirty repo after writing a new file")
	}
}

func TestCommitMessageFallsBackWhenGeneratorFails(t *testing.T) {
	w := New(stubGenerator{err: context.DeadlineExceeded}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	got := w.commitMessage(context.Background(), "diff --git a/x b/x")
	if got != "Update files" {
		t.Fatalf("commit message = %q, want fallback", got)
	}
}

func TestCommitMessageTruncatesToSubjectLine(t *testing.T) {
	w := New(stubGenerator{message: "Refactor the extremely long winded authentication subsystem module end to end\nwith details"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	got := w.commitMessage(context.Background(), "")
	if len(got) > maxSubjectLen {
		t.Fatalf("commit message length = %d, want <= %d", len(got), maxSubjectLen)
	}
}
