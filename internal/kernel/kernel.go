// Package kernel implements the Task Stream Kernel (C8): the single
// orchestrator that owns a task's state machine, serializes all writes to
// its message log, and drives one LLM turn at a time through the Chunk
// Multiplexer, Tool Executor, Git Worker, and PR Worker. Each task's
// stream is serialized by its own in-process mutex, so one process can
// own many tasks' live streams without a distributed lock.
package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shadow-org/shadow/internal/checkpoint"
	"github.com/shadow-org/shadow/internal/chunkmux"
	"github.com/shadow-org/shadow/internal/cleanup"
	"github.com/shadow-org/shadow/internal/gitworker"
	"github.com/shadow-org/shadow/internal/llm"
	"github.com/shadow-org/shadow/internal/messagelog"
	"github.com/shadow-org/shadow/internal/modelctx"
	"github.com/shadow-org/shadow/internal/prworker"
	"github.com/shadow-org/shadow/internal/storage"
	"github.com/shadow-org/shadow/internal/tools"
	"github.com/shadow-org/shadow/pkg/models"
)

// maxToolCallTurns bounds how many tool-call round trips one user message
// can drive before the kernel forces a stop, preventing a runaway loop from
// never reaching a finish chunk.
const maxToolCallTurns = 64

// StackedTaskNamer produces a short branch slug for a stacked follow-up task
// from its seed prompt, via the parent's mini-model operation. A nil namer
// leaves the kernel to derive a slug mechanically from the prompt text.
type StackedTaskNamer interface {
	GenerateBranchSlug(ctx context.Context, prompt string) (slug string, err error)
}

// Kernel orchestrates all active tasks. Exactly one Kernel instance exists
// per process; it is passed by dependency injection to every caller that
// needs to drive a task, never reached through a package-level variable.
type Kernel struct {
	store     storage.Store
	messages  *messagelog.Log
	git       *gitworker.Worker
	pr        *prworker.Worker
	modelCtxs *modelctx.Cache
	log       *slog.Logger

	providerFor func(models.Provider, map[models.Provider]string) (llm.Provider, error)
	toolsFor    func(sandboxAddr string) tools.Executor

	checkpoints *checkpoint.Store
	namer       StackedTaskNamer
	cleanupIdle time.Duration

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	hubs    map[string]*chunkmux.Hub
	cancels map[string]context.CancelFunc
}

// New returns a Kernel wired to its dependencies. checkpoints may be nil,
// in which case edits cannot restore a prior workspace state (they still
// truncate the message log) -- useful for tests and local-mode runs that
// don't need that fidelity. namer may be nil, in which case stacked-task
// branch slugs are derived mechanically from the seed prompt. cleanupIdle is
// how long a task sits COMPLETED/STOPPED/FAILED before the Cleanup Scheduler
// is allowed to tear its sandbox down.
func New(
	store storage.Store,
	messages *messagelog.Log,
	git *gitworker.Worker,
	pr *prworker.Worker,
	modelCtxs *modelctx.Cache,
	providerFor func(models.Provider, map[models.Provider]string) (llm.Provider, error),
	toolsFor func(sandboxAddr string) tools.Executor,
	checkpoints *checkpoint.Store,
	namer StackedTaskNamer,
	cleanupIdle time.Duration,
	logger *slog.Logger,
) *Kernel {
	return &Kernel{
		store:       store,
		messages:    messages,
		git:         git,
		pr:          pr,
		modelCtxs:   modelCtxs,
		providerFor: providerFor,
		toolsFor:    toolsFor,
		checkpoints: checkpoints,
		namer:       namer,
		cleanupIdle: cleanupIdle,
		log:         logger,
		locks:       make(map[string]*sync.Mutex),
		hubs:        make(map[string]*chunkmux.Hub),
		cancels:     make(map[string]context.CancelFunc),
	}
}

func (k *Kernel) lockFor(taskID string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		k.locks[taskID] = l
	}
	return l
}

// Subscribe attaches a new live-stream subscriber to taskID. If the task is
// not currently streaming, the returned channel still works but will
// simply never receive anything until the next turn starts.
func (k *Kernel) Subscribe(taskID string) (<-chan models.Chunk, func()) {
	k.mu.Lock()
	hub, ok := k.hubs[taskID]
	if !ok {
		hub = chunkmux.NewHub()
		k.hubs[taskID] = hub
	}
	k.mu.Unlock()
	return hub.Subscribe()
}

func (k *Kernel) hubFor(taskID string) *chunkmux.Hub {
	k.mu.Lock()
	defer k.mu.Unlock()
	hub, ok := k.hubs[taskID]
	if !ok {
		hub = chunkmux.NewHub()
		k.hubs[taskID] = hub
	}
	return hub
}

func (k *Kernel) releaseHub(taskID string) {
	k.mu.Lock()
	hub, ok := k.hubs[taskID]
	delete(k.hubs, taskID)
	k.mu.Unlock()
	if ok {
		hub.CloseAll()
	}
}

// Submit delivers a user message for taskID. If the task is idle, the
// kernel immediately starts a turn. If the task is busy streaming:
//   - queue=true stores the message as the task's sole queued follow-up,
//     replacing any action queued earlier, and returns without blocking.
//   - queue=false interrupts: it cancels the in-flight stream, drops any
//     queued action, waits for the current turn to unwind, and then runs
//     this message immediately instead.
func (k *Kernel) Submit(ctx context.Context, taskID, content string, queue bool) error {
	if err := k.followUp(ctx, taskID); err != nil {
		return err
	}

	lock := k.lockFor(taskID)
	if !lock.TryLock() {
		if queue {
			return k.store.SetQueuedAction(ctx, &models.QueuedAction{
				TaskID: taskID, Kind: models.QueuedActionMessage, Content: content, QueuedAt: time.Now(),
			})
		}
		if err := k.interrupt(ctx, taskID); err != nil {
			return err
		}
		lock.Lock()
	}
	defer lock.Unlock()

	msg, err := k.messages.AppendUser(ctx, taskID, content)
	if err != nil {
		return err
	}
	if err := k.snapshotWorkspace(ctx, taskID, msg.ID); err != nil {
		return err
	}
	return k.runTurns(ctx, taskID)
}

// followUp runs the spec's "new message against an inactive task" rule: it
// cancels any pending idle-cleanup schedule and, for an INACTIVE task,
// flips it to INITIALIZING so the external sandbox init pipeline picks it
// back up, before the message itself is even persisted. A task that is
// already ACTIVE (mid-conversation or freshly created) keeps its status.
func (k *Kernel) followUp(ctx context.Context, taskID string) error {
	if err := cleanup.CancelOnActivity(ctx, k.store, taskID); err != nil {
		return err
	}
	task, err := k.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.InitStatus != models.InitInactive {
		return nil
	}
	task.InitStatus = models.InitActive
	task.Status = models.StatusInitializing
	return k.store.UpdateTask(ctx, task)
}

// snapshotWorkspace records the workspace state as of messageID, before the
// turn it triggers runs, so a later edit of that message can restore to
// exactly this point. A nil checkpoint store or a task with no sandbox yet
// leaves nothing to snapshot.
func (k *Kernel) snapshotWorkspace(ctx context.Context, taskID, messageID string) error {
	if k.checkpoints == nil {
		return nil
	}
	task, err := k.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.WorkspacePath == "" {
		return nil
	}
	if _, err := k.checkpoints.Snapshot(ctx, messageID, task.WorkspacePath); err != nil {
		return fmt.Errorf("kernel: snapshot workspace: %w", err)
	}
	return nil
}

// interrupt cancels taskID's in-flight stream (if any) and clears its
// queued action, matching the spec's "new message with queue=false cancels
// the current stream and drops the queued action" ordering rule. It does
// not itself wait for the cancelled turn to finish; the caller still must
// acquire the per-task lock before proceeding.
func (k *Kernel) interrupt(ctx context.Context, taskID string) error {
	k.mu.Lock()
	cancel, ok := k.cancels[taskID]
	k.mu.Unlock()
	if ok {
		cancel()
	}
	if err := k.store.ClearQueuedAction(ctx, taskID); err != nil && err != storage.ErrNotFound {
		return err
	}
	return nil
}

// Stop requests that taskID's current turn halt at the next chunk
// boundary. Unlike a follow-up message, a stop request interrupts rather
// than queues: it cancels the in-flight stream directly, on top of setting
// StopRequested so a turn between chunks (not currently streaming) also
// observes it before starting the next one.
func (k *Kernel) Stop(ctx context.Context, taskID string) error {
	task, err := k.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	task.StopRequested = true
	if err := k.store.UpdateTask(ctx, task); err != nil {
		return err
	}
	k.mu.Lock()
	cancel, ok := k.cancels[taskID]
	k.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// EditUserMessage rewrites an earlier user message and re-runs the task
// from there: it stops any active stream, drops the queued action,
// restores the workspace to the checkpoint tied to the edited message (if
// one was taken), discards every message after it, rewrites its content,
// and re-runs the turn as if the user had just sent newText.
func (k *Kernel) EditUserMessage(ctx context.Context, taskID, messageID, newText string) error {
	lock := k.lockFor(taskID)
	if !lock.TryLock() {
		if err := k.interrupt(ctx, taskID); err != nil {
			return err
		}
		lock.Lock()
	}
	defer lock.Unlock()

	history, err := k.messages.History(ctx, taskID)
	if err != nil {
		return err
	}
	var edited *models.Message
	for _, m := range history {
		if m.ID == messageID {
			edited = m
			break
		}
	}
	if edited == nil {
		return fmt.Errorf("kernel: edit message %s: not found", messageID)
	}

	task, err := k.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if k.checkpoints != nil && task.WorkspacePath != "" {
		if rerr := k.checkpoints.Restore(ctx, messageID, task.WorkspacePath); rerr != nil && rerr != checkpoint.ErrNoCheckpoint {
			return fmt.Errorf("kernel: restore checkpoint for edit: %w", rerr)
		}
	}

	if err := k.store.TruncateAfter(ctx, taskID, edited.Sequence); err != nil {
		return err
	}
	edited.Content = newText
	edited.UpdatedAt = time.Now()
	if err := k.store.UpdateMessage(ctx, edited); err != nil {
		return err
	}

	return k.runTurns(ctx, taskID)
}

// runTurns drives turns for taskID until there is no more work: the
// assistant stops without requesting a tool call, the task hits its tool
// call budget, or a stop was requested. The caller must already hold
// taskID's lock. It owns taskID's cancellation handle for the duration of
// the loop, so Stop or a competing Submit(queue=false) can interrupt the
// in-flight stream at any chunk boundary, not only between turns.
func (k *Kernel) runTurns(ctx context.Context, taskID string) error {
	streamCtx, cancel := context.WithCancel(ctx)
	k.mu.Lock()
	k.cancels[taskID] = cancel
	k.mu.Unlock()
	defer func() {
		k.mu.Lock()
		delete(k.cancels, taskID)
		k.mu.Unlock()
		cancel()
	}()

	for i := 0; i < maxToolCallTurns; i++ {
		task, err := k.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task.StopRequested || streamCtx.Err() != nil {
			task.Status = models.StatusStopped
			task.StopRequested = false
			err := k.store.UpdateTask(ctx, task)
			k.releaseHub(taskID)
			k.scheduleCleanup(ctx, taskID)
			return err
		}

		task.Status = models.StatusRunning
		if err := k.store.UpdateTask(ctx, task); err != nil {
			return err
		}

		finish, err := k.runOneTurn(streamCtx, task)
		if err != nil {
			task.Status = models.StatusFailed
			_ = k.store.UpdateTask(ctx, task)
			_ = k.store.ClearQueuedAction(ctx, taskID)
			k.releaseHub(taskID)
			k.scheduleCleanup(ctx, taskID)
			return err
		}

		if finish == models.FinishStopRequested {
			task.Status = models.StatusStopped
			task.StopRequested = false
			err := k.store.UpdateTask(ctx, task)
			k.releaseHub(taskID)
			k.scheduleCleanup(ctx, taskID)
			return err
		}

		if finish != models.FinishToolCalls {
			task.Status = models.StatusCompleted
			if err := k.store.UpdateTask(ctx, task); err != nil {
				k.releaseHub(taskID)
				return err
			}
			break
		}
	}

	k.releaseHub(taskID)
	k.scheduleCleanup(ctx, taskID)
	return k.drainQueuedAction(ctx, taskID)
}

// scheduleCleanup sets taskID's idle-cleanup deadline after a terminal
// transition. Failures are logged rather than propagated: a missed cleanup
// schedule delays sandbox teardown, it does not corrupt task state.
func (k *Kernel) scheduleCleanup(ctx context.Context, taskID string) {
	if err := cleanup.ScheduleFor(ctx, k.store, taskID, k.cleanupIdle); err != nil {
		k.log.Warn("failed to schedule cleanup", "task_id", taskID, "error", err)
	}
}

// drainQueuedAction runs one more turn if a follow-up message or stacked-PR
// request was queued while this turn was streaming. Finding one here means
// the task is about to become busy again, so its freshly-scheduled cleanup
// is cancelled before the next turn starts.
func (k *Kernel) drainQueuedAction(ctx context.Context, taskID string) error {
	action, err := k.store.GetQueuedAction(ctx, taskID)
	if err == storage.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if err := k.store.ClearQueuedAction(ctx, taskID); err != nil {
		return err
	}

	switch action.Kind {
	case models.QueuedActionMessage:
		if err := cleanup.CancelOnActivity(ctx, k.store, taskID); err != nil {
			return err
		}
		if _, err := k.messages.AppendUser(ctx, taskID, action.Content); err != nil {
			return err
		}
		return k.runTurns(ctx, taskID)
	case models.QueuedActionStackedPR:
		task, err := k.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		_, err = k.createStackedTaskLocked(ctx, task, action.Content)
		return err
	default:
		return nil
	}
}

// runOneTurn runs exactly one LLM stream to completion: start the
// assistant message, stream chunks through the multiplexer, execute any
// resulting tool calls, and append their results so the next turn (if any)
// sees them.
func (k *Kernel) runOneTurn(ctx context.Context, task *models.Task) (models.FinishReason, error) {
	modelCtx, ok := k.modelCtxs.Get(task.ID)
	if !ok {
		return "", fmt.Errorf("kernel: no model context for task %s", task.ID)
	}

	provider, err := k.providerFor(modelctx.ProviderForModel(modelCtx.MainModel), modelCtx.APIKeys)
	if err != nil {
		return "", fmt.Errorf("kernel: resolve provider: %w", err)
	}

	history, err := k.messages.History(ctx, task.ID)
	if err != nil {
		return "", err
	}

	msg, err := k.messages.BeginAssistant(ctx, task.ID)
	if err != nil {
		return "", err
	}

	req := llm.CompletionRequest{
		Model:        modelCtx.ModelForOperation(models.OperationConversation),
		SystemPrompt: buildSystemPrompt(task),
		Messages:     history,
		Tools:        nativeToolSpecs(),
	}

	chunks, err := provider.Stream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("kernel: start stream: %w", err)
	}

	mux := chunkmux.New(k.messages)
	hub := k.hubFor(task.ID)
	finish, usage, err := mux.Fold(ctx, msg, chunks, hub)
	if err != nil {
		return finish, err
	}
	if err := k.messages.Finish(ctx, msg, finish, usage); err != nil {
		return finish, err
	}

	if finish == models.FinishToolCalls {
		if err := k.executeToolCalls(ctx, task, msg, hub, provider, req); err != nil {
			return finish, err
		}
		if err := k.publishChanges(ctx, task, msg); err != nil {
			k.log.Warn("publish changes failed, continuing task", "task_id", task.ID, "error", err)
		}
	}

	return finish, nil
}

// todoWriteTool is the name the model calls to replace the task's working
// plan. It is handled here rather than dispatched to the Tool Executor
// because it writes through the Message Log / Todo Store the kernel already
// owns, matching the "pass the writer as an injected dependency" guidance
// for tools that would otherwise need a cyclic import of the kernel.
const todoWriteTool = "todo_write"

func (k *Kernel) executeToolCalls(ctx context.Context, task *models.Task, msg *models.Message, hub *chunkmux.Hub, provider llm.Provider, req llm.CompletionRequest) error {
	executor := k.toolsFor(task.SandboxAddress)

	for _, part := range msg.Parts {
		if part.Kind != models.PartToolCall {
			continue
		}
		call := part.ToolCall

		if err := validateToolArguments(call.Input); err != nil {
			repaired, repairErr := k.repairToolArguments(ctx, provider, req, call, err)
			if repairErr != nil {
				resultPart := models.Part{Kind: models.PartToolResult, ToolResult: &models.ToolResultPart{ToolCallID: call.ID, Content: repairErr.Error(), IsValid: false}}
				if appendErr := k.messages.AppendPart(ctx, msg, resultPart); appendErr != nil {
					return appendErr
				}
				continue
			}
			call.Input = repaired
			if err := k.store.UpdateMessage(ctx, msg); err != nil {
				return fmt.Errorf("kernel: persist repaired tool arguments: %w", err)
			}
		}

		if call.Name == todoWriteTool {
			if err := k.handleTodoWrite(ctx, task.ID, call, msg, hub); err != nil {
				return err
			}
			continue
		}

		result, err := executor.Execute(ctx, call.Name, call.Input)
		if err != nil {
			return fmt.Errorf("kernel: execute tool %s: %w", call.Name, err)
		}

		content := result.Message
		if result.Success {
			if len(result.Data) > 0 {
				content = string(result.Data)
			} else {
				content = "ok"
			}
		}

		resultPart := models.Part{
			Kind: models.PartToolResult,
			ToolResult: &models.ToolResultPart{
				ToolCallID: call.ID,
				Content:    content,
				IsValid:    result.Success,
			},
		}
		if err := k.messages.AppendPart(ctx, msg, resultPart); err != nil {
			return err
		}
	}
	return nil
}

// todoWriteInput is the schema for the todo_write tool: the model resends
// the task's entire working plan on every call, replacing the prior one.
type todoWriteInput struct {
	Todos []struct {
		ID      string `json:"id"`
		Content string `json:"content"`
		Status  string `json:"status"`
	} `json:"todos"`
}

// handleTodoWrite replaces task's stored todo list and broadcasts the
// replacement as a todo-update chunk to any live subscribers, independent
// of the assistant text/tool-call chunks folding at the same time.
func (k *Kernel) handleTodoWrite(ctx context.Context, taskID string, call *models.ToolCallPart, msg *models.Message, hub *chunkmux.Hub) error {
	var in todoWriteInput
	var resultPart models.Part

	if err := json.Unmarshal(call.Input, &in); err != nil {
		resultPart = models.Part{Kind: models.PartToolResult, ToolResult: &models.ToolResultPart{
			ToolCallID: call.ID, Content: "invalid todo_write input: " + err.Error(), IsValid: false,
		}}
	} else {
		todos := make([]models.Todo, len(in.Todos))
		now := time.Now()
		for i, t := range in.Todos {
			todos[i] = models.Todo{ID: t.ID, TaskID: taskID, Content: t.Content, Status: t.Status, Sequence: i + 1, UpdatedAt: now}
		}
		if err := k.store.ReplaceTodos(ctx, taskID, todos); err != nil {
			return fmt.Errorf("kernel: replace todos: %w", err)
		}
		if hub != nil {
			hub.Broadcast(models.Chunk{
				Type: models.ChunkTodoUpdate, Time: now, TaskID: taskID,
				TodoUpdate: &models.TodoUpdateChunk{Todos: todos},
			})
		}
		resultPart = models.Part{Kind: models.PartToolResult, ToolResult: &models.ToolResultPart{ToolCallID: call.ID, Content: "ok", IsValid: true}}
	}

	return k.messages.AppendPart(ctx, msg, resultPart)
}

// publishChanges commits and pushes any sandbox working-tree changes and
// keeps the task's PR in sync. Both steps are best-effort: a failure here
// never fails the task, per spec -- it is retried on the next turn.
func (k *Kernel) publishChanges(ctx context.Context, task *models.Task, causingMsg *models.Message) error {
	if k.git == nil || task.SandboxAddress == "" {
		return nil
	}

	pushed, err := k.git.CommitAndPush(ctx, task.WorkspacePath, task.WorkBranch, gitworker.CoAuthorIdentity(task.UserID))
	if err != nil || !pushed {
		return err
	}

	if k.pr == nil {
		return nil
	}
	snapshot, err := k.pr.Publish(ctx, task, "")
	if err != nil {
		return err
	}
	snapshot.ID = uuid.NewString()
	snapshot.CausingMessageID = causingMsg.ID
	snapshot.CreatedAt = time.Now()
	if err := k.store.CreateSnapshot(ctx, snapshot); err != nil {
		return err
	}
	return k.store.UpdateTask(ctx, task)
}

// CreateStackedTask spawns a follow-up task whose base branch is the
// parent task's work branch rather than the repository's default branch,
// letting a chain of tasks build on each other's unmerged changes before
// they land as one PR stack.
//
// If the parent is busy streaming: queue=true retains this as the parent's
// sole queued follow-up action, to run once the current turn ends; queue=false
// waits for the parent's in-flight turn to unwind (it does not interrupt it --
// a stacked PR is additive, not a correction) before creating the child.
func (k *Kernel) CreateStackedTask(ctx context.Context, parentID, prompt string, queue bool) (*models.Task, error) {
	lock := k.lockFor(parentID)
	if !lock.TryLock() {
		if queue {
			return nil, k.store.SetQueuedAction(ctx, &models.QueuedAction{
				TaskID: parentID, Kind: models.QueuedActionStackedPR, Content: prompt, QueuedAt: time.Now(),
			})
		}
		lock.Lock()
	}
	defer lock.Unlock()

	parent, err := k.store.GetTask(ctx, parentID)
	if err != nil {
		return nil, err
	}
	return k.createStackedTaskLocked(ctx, parent, prompt)
}

// createStackedTaskLocked does the actual work of CreateStackedTask. The
// caller must already hold parent's per-task lock -- used both by the public
// CreateStackedTask and by drainQueuedAction, which is already running
// inside the parent's locked runTurns call when a queued stacked-PR request
// is drained.
func (k *Kernel) createStackedTaskLocked(ctx context.Context, parent *models.Task, prompt string) (*models.Task, error) {
	child := &models.Task{
		ID:           uuid.NewString(),
		UserID:       parent.UserID,
		RepoFullName: parent.RepoFullName,
		BaseBranch:   parent.WorkBranch,
		WorkBranch:   fmt.Sprintf("shadow/%s-%s", k.stackedSlug(ctx, prompt), randomSuffix(6)),
		Prompt:       prompt,
		Status:       models.StatusInitializing,
		InitStatus:   models.InitInactive,
		ParentTaskID: parent.ID,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := k.store.CreateTask(ctx, child); err != nil {
		return nil, fmt.Errorf("kernel: create stacked task: %w", err)
	}

	// Seed the child with the prompt as its first turn, and leave the
	// parent a weak reference to it so history(parent) surfaces the link.
	if _, err := k.messages.AppendUser(ctx, child.ID, prompt); err != nil {
		return nil, fmt.Errorf("kernel: seed stacked task message: %w", err)
	}
	if _, err := k.messages.AppendUserWithChild(ctx, parent.ID, prompt, child.ID); err != nil {
		return nil, fmt.Errorf("kernel: record stacked task reference: %w", err)
	}

	if mc, ok := k.modelCtxs.Get(parent.ID); ok {
		k.modelCtxs.Set(child.ID, modelctx.Build(child.ID, mc.MainModel, mc.MiniModel, mc.APIKeys))
	}

	// The child's sandbox needs a moment to come up before it can stream;
	// kick its first turn off asynchronously rather than blocking the
	// caller on sandbox readiness.
	go k.startStackedTaskSoon(child.ID)

	return child, nil
}

// startStackedTaskSoon runs a stacked child task's first turn a short delay
// after creation, giving the (external) sandbox init pipeline time to
// provision the child's workspace. The seed message was already appended
// by createStackedTaskLocked, so this goes straight to followUp + runTurns
// rather than through Submit, which would append a second copy of the
// prompt.
func (k *Kernel) startStackedTaskSoon(taskID string) {
	time.Sleep(2 * time.Second)
	ctx := context.Background()

	if err := k.followUp(ctx, taskID); err != nil {
		k.log.Error("stacked task follow-up failed", "task_id", taskID, "error", err)
		return
	}

	lock := k.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()
	if err := k.runTurns(ctx, taskID); err != nil {
		k.log.Error("stacked task initial turn failed", "task_id", taskID, "error", err)
	}
}

// stackedSlug asks the configured namer for a branch slug derived from
// prompt, falling back to a mechanical slugification when no namer is
// configured or it fails.
func (k *Kernel) stackedSlug(ctx context.Context, prompt string) string {
	if k.namer != nil {
		genCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if slug, err := k.namer.GenerateBranchSlug(genCtx, prompt); err == nil && strings.TrimSpace(slug) != "" {
			return slugify(slug)
		}
	}
	return slugify(prompt)
}

// slugify lowercases prompt, replaces runs of non-alphanumeric characters
// with a single hyphen, and trims the result to a short branch-friendly
// length.
func slugify(prompt string) string {
	var b strings.Builder
	lastHyphen := true // true to suppress a leading hyphen
	for _, r := range strings.ToLower(prompt) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "task"
	}
	const maxSlugLen = 32
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}
	return slug
}

const slugSuffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomSuffix returns an n-character lowercase alphanumeric suffix used to
// keep stacked-task branch names unique even for identical prompts.
func randomSuffix(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = slugSuffixAlphabet[rand.Intn(len(slugSuffixAlphabet))]
	}
	return string(b)
}

// repairToolArguments attempts the spec's one-shot tool-argument repair
// (§4.6, §7, §8 boundary behavior) when a tool call's arguments failed
// validateToolArguments: it re-issues a single non-streaming call asking
// the model to fix the malformed JSON, and accepts the result only if it
// is itself valid JSON. A second failure (repair errors, or still-invalid
// JSON) is surfaced as the original validation error rather than retried.
func (k *Kernel) repairToolArguments(ctx context.Context, provider llm.Provider, req llm.CompletionRequest, call *models.ToolCallPart, origErr error) (json.RawMessage, error) {
	fixed, err := provider.RepairToolArguments(ctx, req, call.ID, string(call.Input), origErr.Error())
	if err != nil {
		return nil, origErr
	}
	fixedRaw := json.RawMessage(fixed)
	if !json.Valid(fixedRaw) {
		return nil, origErr
	}
	return fixedRaw, nil
}

// validateToolArguments is a small guard used by executeToolCalls before
// tool execution; kept here so the kernel package owns the single
// definition of "well-formed tool call" rather than duplicating
// json.Valid checks at each call site.
func validateToolArguments(input json.RawMessage) error {
	if len(input) == 0 {
		return nil
	}
	if !json.Valid(input) {
		return fmt.Errorf("kernel: tool call arguments are not valid JSON")
	}
	return nil
}
