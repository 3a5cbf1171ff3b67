package kernel

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shadow-org/shadow/internal/checkpoint"
	"github.com/shadow-org/shadow/internal/gitworker"
	"github.com/shadow-org/shadow/internal/llm"
	"github.com/shadow-org/shadow/internal/messagelog"
	"github.com/shadow-org/shadow/internal/modelctx"
	"github.com/shadow-org/shadow/internal/storage"
	"github.com/shadow-org/shadow/internal/tools"
	"github.com/shadow-org/shadow/pkg/models"
)

type stubProvider struct {
	chunks []models.Chunk
}

func (p *stubProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan models.Chunk, error) {
	out := make(chan models.Chunk, len(p.chunks))
	for _, c := range p.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func (p *stubProvider) RepairToolArguments(ctx context.Context, req llm.CompletionRequest, toolCallID, badArguments, parseError string) (string, error) {
	return "{}", nil
}

type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, name string, input json.RawMessage) (tools.Result, error) {
	return tools.Result{Success: true, Data: json.RawMessage(`{"ok":true}`)}, nil
}

func newTestKernel(t *testing.T, chunks []models.Chunk) (*Kernel, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	msgLog := messagelog.New(store, logger)

	caches := modelctx.NewCache(time.Minute)

	k := New(store, msgLog, gitworker.New(nil, logger), nil, caches,
		func(p models.Provider, keys map[models.Provider]string) (llm.Provider, error) {
			return &stubProvider{chunks: chunks}, nil
		},
		func(addr string) tools.Executor { return noopExecutor{} },
		nil,
		nil,
		time.Minute,
		logger,
	)
	return k, store
}

func TestSubmitRunsToCompletionWithoutToolCalls(t *testing.T) {
	ctx := context.Background()
	k, store := newTestKernel(t, []models.Chunk{
		{Type: models.ChunkTextDelta, TextDelta: &models.TextDeltaChunk{Delta: "All done."}},
		{Type: models.ChunkFinish, Finish: &models.FinishChunk{Reason: models.FinishStop}},
	})

	task := &models.Task{ID: "t1", Status: models.StatusInitializing, CreatedAt: time.Now()}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	k.modelCtxs.Set("t1", modelctx.Build("t1", "claude-opus-4-6", "", nil))

	if err := k.Submit(ctx, "t1", "say hi", false); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %v, want COMPLETED", got.Status)
	}
}

func TestStopRequestedHaltsBeforeNextTurn(t *testing.T) {
	ctx := context.Background()
	k, store := newTestKernel(t, []models.Chunk{
		{Type: models.ChunkToolCallStart, ToolCallStart: &models.ToolCallStartChunk{ID: "c1", Name: "noop"}},
		{Type: models.ChunkToolCall, ToolCall: &models.ToolCallChunk{ID: "c1", Name: "noop", Input: []byte(`{}`)}},
		{Type: models.ChunkFinish, Finish: &models.FinishChunk{Reason: models.FinishToolCalls}},
	})

	task := &models.Task{ID: "t1", Status: models.StatusInitializing, StopRequested: true, CreatedAt: time.Now()}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	k.modelCtxs.Set("t1", modelctx.Build("t1", "claude-opus-4-6", "", nil))

	if err := k.Submit(ctx, "t1", "keep going forever", false); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != models.StatusStopped {
		t.Fatalf("status = %v, want STOPPED", got.Status)
	}
}

// hangingThenQuickProvider hangs on its first Stream call until ctx is
// cancelled, then finishes normally on every call after that -- used to
// drive a turn into interrupt() or drainQueuedAction from a controlled
// second call.
type hangingThenQuickProvider struct {
	calls int32
}

func (p *hangingThenQuickProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan models.Chunk, error) {
	out := make(chan models.Chunk)
	if atomic.AddInt32(&p.calls, 1) == 1 {
		go func() {
			defer close(out)
			ticker := time.NewTicker(time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					select {
					case out <- models.Chunk{Type: models.ChunkTextDelta, TextDelta: &models.TextDeltaChunk{Delta: "."}}:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
		return out, nil
	}
	go func() {
		defer close(out)
		out <- models.Chunk{Type: models.ChunkTextDelta, TextDelta: &models.TextDeltaChunk{Delta: "done"}}
		out <- models.Chunk{Type: models.ChunkFinish, Finish: &models.FinishChunk{Reason: models.FinishStop}}
	}()
	return out, nil
}

func (p *hangingThenQuickProvider) RepairToolArguments(ctx context.Context, req llm.CompletionRequest, toolCallID, badArguments, parseError string) (string, error) {
	return "{}", nil
}

func newInterruptTestKernel(t *testing.T) (*Kernel, storage.Store, *hangingThenQuickProvider) {
	t.Helper()
	store := storage.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	msgLog := messagelog.New(store, logger)
	caches := modelctx.NewCache(time.Minute)
	provider := &hangingThenQuickProvider{}

	k := New(store, msgLog, gitworker.New(nil, logger), nil, caches,
		func(p models.Provider, keys map[models.Provider]string) (llm.Provider, error) {
			return provider, nil
		},
		func(addr string) tools.Executor { return noopExecutor{} },
		nil,
		nil,
		time.Minute,
		logger,
	)
	return k, store, provider
}

func TestSubmitWithoutQueueInterruptsInFlightStream(t *testing.T) {
	ctx := context.Background()
	k, store, _ := newInterruptTestKernel(t)

	task := &models.Task{ID: "t1", Status: models.StatusInitializing, CreatedAt: time.Now()}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	k.modelCtxs.Set("t1", modelctx.Build("t1", "claude-opus-4-6", "", nil))

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- k.Submit(ctx, "t1", "long running request", false)
	}()

	// give the first submit time to acquire the lock and start streaming
	time.Sleep(20 * time.Millisecond)

	if err := k.Submit(ctx, "t1", "interrupt with this instead", false); err != nil {
		t.Fatalf("interrupting submit: %v", err)
	}

	select {
	case err := <-firstDone:
		if err != nil {
			t.Fatalf("first submit: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first submit never returned after being interrupted")
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %v, want COMPLETED", got.Status)
	}

	history, err := store.ListMessages(ctx, "t1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	var sawInterruptingMessage bool
	for _, m := range history {
		if m.Role == models.RoleUser && m.Content == "interrupt with this instead" {
			sawInterruptingMessage = true
		}
	}
	if !sawInterruptingMessage {
		t.Fatal("expected the interrupting message to appear in history")
	}
}

func TestEditUserMessageTruncatesAndReruns(t *testing.T) {
	ctx := context.Background()
	k, store := newTestKernel(t, []models.Chunk{
		{Type: models.ChunkTextDelta, TextDelta: &models.TextDeltaChunk{Delta: "reply"}},
		{Type: models.ChunkFinish, Finish: &models.FinishChunk{Reason: models.FinishStop}},
	})

	task := &models.Task{ID: "t1", Status: models.StatusInitializing, CreatedAt: time.Now()}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	k.modelCtxs.Set("t1", modelctx.Build("t1", "claude-opus-4-6", "", nil))

	if err := k.Submit(ctx, "t1", "first attempt", false); err != nil {
		t.Fatalf("submit: %v", err)
	}

	history, err := store.ListMessages(ctx, "t1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	userMsg := history[0]

	if err := k.EditUserMessage(ctx, "t1", userMsg.ID, "edited prompt"); err != nil {
		t.Fatalf("edit user message: %v", err)
	}

	history, err = store.ListMessages(ctx, "t1")
	if err != nil {
		t.Fatalf("list messages after edit: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) after edit = %d, want 2", len(history))
	}
	if history[0].Content != "edited prompt" {
		t.Fatalf("history[0].Content = %q, want %q", history[0].Content, "edited prompt")
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("status = %v, want COMPLETED", got.Status)
	}
}

func TestEditUserMessageRestoresCheckpointedWorkspace(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	msgLog := messagelog.New(store, logger)
	caches := modelctx.NewCache(time.Minute)
	checkpoints := checkpoint.New(t.TempDir())
	workDir := t.TempDir()

	k := New(store, msgLog, gitworker.New(nil, logger), nil, caches,
		func(p models.Provider, keys map[models.Provider]string) (llm.Provider, error) {
			return &stubProvider{chunks: []models.Chunk{
				{Type: models.ChunkTextDelta, TextDelta: &models.TextDeltaChunk{Delta: "reply"}},
				{Type: models.ChunkFinish, Finish: &models.FinishChunk{Reason: models.FinishStop}},
			}}, nil
		},
		func(addr string) tools.Executor { return noopExecutor{} },
		checkpoints,
		nil,
		time.Minute,
		logger,
	)

	if err := os.WriteFile(filepath.Join(workDir, "a.txt"), []byte("before"), 0o644); err != nil {
		t.Fatalf("seed workspace: %v", err)
	}

	task := &models.Task{
		ID: "t1", Status: models.StatusInitializing, CreatedAt: time.Now(),
		SandboxAddress: "sandbox-1", WorkspacePath: workDir,
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	k.modelCtxs.Set("t1", modelctx.Build("t1", "claude-opus-4-6", "", nil))

	if err := k.Submit(ctx, "t1", "first attempt", false); err != nil {
		t.Fatalf("submit: %v", err)
	}

	history, err := store.ListMessages(ctx, "t1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	userMsg := history[0]

	if err := os.WriteFile(filepath.Join(workDir, "a.txt"), []byte("after"), 0o644); err != nil {
		t.Fatalf("mutate workspace: %v", err)
	}

	if err := k.EditUserMessage(ctx, "t1", userMsg.ID, "edited prompt"); err != nil {
		t.Fatalf("edit user message: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(workDir, "a.txt"))
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(got) != "before" {
		t.Fatalf("a.txt = %q, want %q", got, "before")
	}
}

func TestEditUserMessageUnknownIDFails(t *testing.T) {
	ctx := context.Background()
	k, store := newTestKernel(t, nil)

	task := &models.Task{ID: "t1", Status: models.StatusInitializing, CreatedAt: time.Now()}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	if err := k.EditUserMessage(ctx, "t1", "does-not-exist", "edited"); err == nil {
		t.Fatal("expected an error editing an unknown message id")
	}
}
