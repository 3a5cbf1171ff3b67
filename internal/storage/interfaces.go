// Package storage defines the persistence interfaces for Shadow's task state
// and provides two implementations: a CockroachDB-backed store for
// production and an in-memory store for tests, mirroring the teacher's
// internal/storage dual-backend split.
package storage

import (
	"context"

	"github.com/shadow-org/shadow/pkg/models"
)

// TaskStore persists Task rows.
type TaskStore interface {
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, t *models.Task) error
	ListTasksByRepo(ctx context.Context, repoFullName string) ([]*models.Task, error)
	ListDueForCleanup(ctx context.Context) ([]*models.Task, error)
}

// MessageStore persists the append-only message log.
type MessageStore interface {
	AppendMessage(ctx context.Context, m *models.Message) error
	UpdateMessage(ctx context.Context, m *models.Message) error
	NextSequence(ctx context.Context, taskID string) (int, error)
	ListMessages(ctx context.Context, taskID string) ([]*models.Message, error)
	// TruncateAfter deletes every message for taskID with Sequence > seq,
	// used by the edit flow to discard a turn's descendants before it
	// re-runs.
	TruncateAfter(ctx context.Context, taskID string, seq int) error
}

// TodoStore persists a task's working plan.
type TodoStore interface {
	ReplaceTodos(ctx context.Context, taskID string, todos []models.Todo) error
	ListTodos(ctx context.Context, taskID string) ([]models.Todo, error)
}

// PRSnapshotStore persists pull-request snapshots.
type PRSnapshotStore interface {
	CreateSnapshot(ctx context.Context, s *models.PRSnapshot) error
	ListSnapshots(ctx context.Context, taskID string) ([]*models.PRSnapshot, error)
}

// QueuedActionStore persists the single pending follow-up action per task.
type QueuedActionStore interface {
	SetQueuedAction(ctx context.Context, a *models.QueuedAction) error
	GetQueuedAction(ctx context.Context, taskID string) (*models.QueuedAction, error)
	ClearQueuedAction(ctx context.Context, taskID string) error
}

// Store bundles every persistence interface the kernel depends on, matching
// the teacher's StoreSet aggregate.
type Store interface {
	TaskStore
	MessageStore
	TodoStore
	PRSnapshotStore
	QueuedActionStore
}
