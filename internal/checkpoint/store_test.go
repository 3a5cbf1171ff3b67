package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshotThenRestoreRoundTrips(t *testing.T) {
	ctx := context.Background()
	workDir := t.TempDir()
	storeDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(workDir, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("seed workspace: %v", err)
	}

	s := New(storeDir)
	digest, err := s.Snapshot(ctx, "msg-1", workDir)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if digest == "" {
		t.Fatal("expected non-empty digest")
	}

	if err := os.WriteFile(filepath.Join(workDir, "a.txt"), []byte("changed"), 0o644); err != nil {
		t.Fatalf("mutate workspace: %v", err)
	}
	if err := os.WriteFile(filepath.Join(workDir, "b.txt"), []byte("new file"), 0o644); err != nil {
		t.Fatalf("add file: %v", err)
	}

	if err := s.Restore(ctx, "msg-1", workDir); err != nil {
		t.Fatalf("restore: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(workDir, "a.txt"))
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("a.txt = %q, want %q", got, "hello")
	}
	if _, err := os.Stat(filepath.Join(workDir, "b.txt")); !os.IsNotExist(err) {
		t.Fatal("expected b.txt to be removed by restore")
	}
}

func TestRestoreWithoutSnapshotReturnsErrNoCheckpoint(t *testing.T) {
	s := New(t.TempDir())
	err := s.Restore(context.Background(), "never-snapshotted", t.TempDir())
	if err != ErrNoCheckpoint {
		t.Fatalf("err = %v, want ErrNoCheckpoint", err)
	}
}
