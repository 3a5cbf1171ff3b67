package storage

import (
	"context"
	"sync"
	"time"

	"github.com/shadow-org/shadow/pkg/models"
)

// MemoryStore is an in-process Store used by unit tests and local
// development, mirroring the teacher's internal/storage/memory.go.
type MemoryStore struct {
	mu       sync.Mutex
	tasks    map[string]*models.Task
	messages map[string][]*models.Message // by task ID, in sequence order
	todos    map[string][]models.Todo
	snaps    map[string][]*models.PRSnapshot
	queued   map[string]*models.QueuedAction
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:    make(map[string]*models.Task),
		messages: make(map[string][]*models.Message),
		todos:    make(map[string][]models.Todo),
		snaps:    make(map[string][]*models.PRSnapshot),
		queued:   make(map[string]*models.QueuedAction),
	}
}

func (s *MemoryStore) CreateTask(ctx context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	cp.UpdatedAt = time.Now()
	s.tasks[t.ID] = &cp
	return nil
}

func (s *MemoryStore) ListTasksByRepo(ctx context.Context, repoFullName string) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	for _, t := range s.tasks {
		if t.RepoFullName == repoFullName && t.Status != models.StatusArchived {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListDueForCleanup(ctx context.Context) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []*models.Task
	for _, t := range s.tasks {
		if t.Status == models.StatusArchived || t.ScheduledCleanupAt == nil {
			continue
		}
		if t.ScheduledCleanupAt.After(now) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) NextSequence(ctx context.Context, taskID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[taskID]) + 1, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[m.TaskID] = append(s.messages[m.TaskID], &cp)
	return nil
}

func (s *MemoryStore) UpdateMessage(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.messages[m.TaskID] {
		if existing.ID == m.ID {
			*existing = *m
			existing.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) ListMessages(ctx context.Context, taskID string) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Message, len(s.messages[taskID]))
	for i, m := range s.messages[taskID] {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) TruncateAfter(ctx context.Context, taskID string, seq int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.messages[taskID][:0]
	for _, m := range s.messages[taskID] {
		if m.Sequence <= seq {
			kept = append(kept, m)
		}
	}
	s.messages[taskID] = kept
	return nil
}

func (s *MemoryStore) ReplaceTodos(ctx context.Context, taskID string, todos []models.Todo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]models.Todo, len(todos))
	copy(cp, todos)
	s.todos[taskID] = cp
	return nil
}

func (s *MemoryStore) ListTodos(ctx context.Context, taskID string) ([]models.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Todo, len(s.todos[taskID]))
	copy(out, s.todos[taskID])
	return out, nil
}

func (s *MemoryStore) CreateSnapshot(ctx context.Context, sn *models.PRSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sn
	s.snaps[sn.TaskID] = append(s.snaps[sn.TaskID], &cp)
	return nil
}

func (s *MemoryStore) ListSnapshots(ctx context.Context, taskID string) ([]*models.PRSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.PRSnapshot, len(s.snaps[taskID]))
	for i, sn := range s.snaps[taskID] {
		cp := *sn
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) SetQueuedAction(ctx context.Context, a *models.QueuedAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.queued[a.TaskID] = &cp
	return nil
}

func (s *MemoryStore) GetQueuedAction(ctx context.Context, taskID string) (*models.QueuedAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.queued[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ClearQueuedAction(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queued, taskID)
	return nil
}

var _ Store = (*MemoryStore)(nil)
