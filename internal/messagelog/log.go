// Package messagelog implements the Message Log (C1): the append-only,
// per-task sequence of Messages that is the single source of truth for a
// task's conversation. Writers are serialized per task by the Task Stream
// Kernel (internal/kernel); this package only enforces the sequence
// invariant and performs the storage round trip.
package messagelog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shadow-org/shadow/internal/storage"
	"github.com/shadow-org/shadow/pkg/models"
)

// Log provides ordered, durable access to one task's message history.
type Log struct {
	store storage.MessageStore
	log   *slog.Logger
}

// New returns a Log backed by store.
func New(store storage.MessageStore, logger *slog.Logger) *Log {
	return &Log{store: store, log: logger}
}

// AppendUser writes a user message and returns it with its assigned
// sequence number.
func (l *Log) AppendUser(ctx context.Context, taskID, content string) (*models.Message, error) {
	seq, err := l.store.NextSequence(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("messagelog: next sequence: %w", err)
	}
	m := &models.Message{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Sequence:  seq,
		Role:      models.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := l.store.AppendMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("messagelog: append user message: %w", err)
	}
	l.log.Info("appended user message", "task_id", taskID, "sequence", seq)
	return m, nil
}

// AppendUserWithChild writes a user message on a parent task that records a
// stacked follow-up task's id, giving the parent a weak reference to the
// child. Used by the kernel's stacked-task creator; never written by the
// normal Submit path.
func (l *Log) AppendUserWithChild(ctx context.Context, taskID, content, childTaskID string) (*models.Message, error) {
	seq, err := l.store.NextSequence(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("messagelog: next sequence: %w", err)
	}
	m := &models.Message{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		Sequence:    seq,
		Role:        models.RoleUser,
		Content:     content,
		ChildTaskID: childTaskID,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := l.store.AppendMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("messagelog: append child-ref message: %w", err)
	}
	l.log.Info("appended stacked-task reference", "task_id", taskID, "sequence", seq, "child_task_id", childTaskID)
	return m, nil
}

// BeginAssistant reserves the next sequence number for a streaming
// assistant message and writes an empty, is_streaming=true placeholder row
// that later calls to AppendPart/Finish fill in.
func (l *Log) BeginAssistant(ctx context.Context, taskID string) (*models.Message, error) {
	seq, err := l.store.NextSequence(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("messagelog: next sequence: %w", err)
	}
	m := &models.Message{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		Sequence:    seq,
		Role:        models.RoleAssistant,
		IsStreaming: true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := l.store.AppendMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("messagelog: begin assistant message: %w", err)
	}
	return m, nil
}

// AppendPart appends one Part to a streaming assistant message and
// persists the updated row. Call sites own folding the chunk stream into
// parts (internal/chunkmux); this method just durably records the result.
// Content is recomputed from the message's text parts on every call, so it
// always equals their concatenation (§4.7's content backing-store rule).
func (l *Log) AppendPart(ctx context.Context, m *models.Message, part models.Part) error {
	m.Parts = append(m.Parts, part)
	m.Content = textContent(m.Parts)
	if err := l.store.UpdateMessage(ctx, m); err != nil {
		return fmt.Errorf("messagelog: append part: %w", err)
	}
	return nil
}

// textContent concatenates every PartText part's text in order, which is
// the assistant message's denormalized Content field.
func textContent(parts []models.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Kind == models.PartText && p.Text != nil {
			b.WriteString(p.Text.Text)
		}
	}
	return b.String()
}

// Finish marks a streaming assistant message complete with the given
// finish reason and usage.
func (l *Log) Finish(ctx context.Context, m *models.Message, reason models.FinishReason, usage *models.Usage) error {
	m.IsStreaming = false
	m.FinishReason = reason
	m.Usage = usage
	if err := l.store.UpdateMessage(ctx, m); err != nil {
		return fmt.Errorf("messagelog: finish message: %w", err)
	}
	l.log.Info("finished assistant message", "task_id", m.TaskID, "sequence", m.Sequence, "reason", reason)
	return nil
}

// History returns the task's full message log in sequence order.
func (l *Log) History(ctx context.Context, taskID string) ([]*models.Message, error) {
	msgs, err := l.store.ListMessages(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("messagelog: history: %w", err)
	}
	return msgs, nil
}
