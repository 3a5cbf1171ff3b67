package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/shadow-org/shadow/pkg/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("storage: not found")

// nullString converts an optional string field to the NULL-aware form jsonb
// and text columns that aren't always set (e.g. Message.ChildTaskID) need.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CockroachStore is a database/sql-backed Store using raw parameterized SQL,
// matching the teacher's internal/storage/cockroach.go approach rather than
// an ORM. Structured columns (Parts, Usage) are stored as jsonb; todos are
// rows of their own todos table.
type CockroachStore struct {
	db *sql.DB
}

// NewCockroachStore opens a connection pool against dsn (a CockroachDB /
// PostgreSQL wire-compatible connection string) and verifies connectivity.
func NewCockroachStore(ctx context.Context, dsn string) (*CockroachStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return &CockroachStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *CockroachStore) Close() error { return s.db.Close() }

func (s *CockroachStore) CreateTask(ctx context.Context, t *models.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, user_id, repo_full_name, base_branch, work_branch, prompt,
			status, init_status, sandbox_id, sandbox_address, workspace_path,
			pull_request_number, pull_request_url, parent_task_id,
			stop_requested, scheduled_cleanup_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		t.ID, t.UserID, t.RepoFullName, t.BaseBranch, t.WorkBranch, t.Prompt,
		t.Status, t.InitStatus, t.SandboxID, t.SandboxAddress, t.WorkspacePath,
		t.PullRequestNumber, t.PullRequestURL, t.ParentTaskID,
		t.StopRequested, t.ScheduledCleanupAt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: create task: %w", err)
	}
	return nil
}

func (s *CockroachStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, repo_full_name, base_branch, work_branch, prompt,
			status, init_status, sandbox_id, sandbox_address, workspace_path,
			pull_request_number, pull_request_url, parent_task_id,
			stop_requested, scheduled_cleanup_at, created_at, updated_at
		FROM tasks WHERE id = $1`, id)

	t := &models.Task{}
	if err := row.Scan(
		&t.ID, &t.UserID, &t.RepoFullName, &t.BaseBranch, &t.WorkBranch, &t.Prompt,
		&t.Status, &t.InitStatus, &t.SandboxID, &t.SandboxAddress, &t.WorkspacePath,
		&t.PullRequestNumber, &t.PullRequestURL, &t.ParentTaskID,
		&t.StopRequested, &t.ScheduledCleanupAt, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get task: %w", err)
	}
	return t, nil
}

func (s *CockroachStore) UpdateTask(ctx context.Context, t *models.Task) error {
	t.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			status=$2, init_status=$3, sandbox_id=$4, sandbox_address=$5,
			pull_request_number=$6, pull_request_url=$7, work_branch=$8,
			stop_requested=$9, scheduled_cleanup_at=$10, updated_at=$11, workspace_path=$12
		WHERE id=$1`,
		t.ID, t.Status, t.InitStatus, t.SandboxID, t.SandboxAddress,
		t.PullRequestNumber, t.PullRequestURL, t.WorkBranch,
		t.StopRequested, t.ScheduledCleanupAt, t.UpdatedAt, t.WorkspacePath)
	if err != nil {
		return fmt.Errorf("storage: update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *CockroachStore) ListTasksByRepo(ctx context.Context, repoFullName string) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, repo_full_name, base_branch, work_branch, prompt,
			status, init_status, sandbox_id, sandbox_address, workspace_path,
			pull_request_number, pull_request_url, parent_task_id,
			stop_requested, scheduled_cleanup_at, created_at, updated_at
		FROM tasks WHERE repo_full_name = $1 AND status != $2`, repoFullName, models.StatusArchived)
	if err != nil {
		return nil, fmt.Errorf("storage: list tasks by repo: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t := &models.Task{}
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.RepoFullName, &t.BaseBranch, &t.WorkBranch, &t.Prompt,
			&t.Status, &t.InitStatus, &t.SandboxID, &t.SandboxAddress, &t.WorkspacePath,
			&t.PullRequestNumber, &t.PullRequestURL, &t.ParentTaskID,
			&t.StopRequested, &t.ScheduledCleanupAt, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *CockroachStore) ListDueForCleanup(ctx context.Context) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, repo_full_name, base_branch, work_branch, prompt,
			status, init_status, sandbox_id, sandbox_address, workspace_path,
			pull_request_number, pull_request_url, parent_task_id,
			stop_requested, scheduled_cleanup_at, created_at, updated_at
		FROM tasks
		WHERE scheduled_cleanup_at IS NOT NULL AND scheduled_cleanup_at <= now()
		  AND status != $1`, models.StatusArchived)
	if err != nil {
		return nil, fmt.Errorf("storage: list due for cleanup: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t := &models.Task{}
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.RepoFullName, &t.BaseBranch, &t.WorkBranch, &t.Prompt,
			&t.Status, &t.InitStatus, &t.SandboxID, &t.SandboxAddress, &t.WorkspacePath,
			&t.PullRequestNumber, &t.PullRequestURL, &t.ParentTaskID,
			&t.StopRequested, &t.ScheduledCleanupAt, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *CockroachStore) NextSequence(ctx context.Context, taskID string) (int, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT max(sequence) FROM messages WHERE task_id = $1`, taskID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("storage: next sequence: %w", err)
	}
	return int(seq.Int64) + 1, nil
}

func (s *CockroachStore) AppendMessage(ctx context.Context, m *models.Message) error {
	parts, err := json.Marshal(m.Parts)
	if err != nil {
		return fmt.Errorf("storage: marshal parts: %w", err)
	}
	usage, err := json.Marshal(m.Usage)
	if err != nil {
		return fmt.Errorf("storage: marshal usage: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, task_id, sequence, role, content, parts, is_streaming,
			finish_reason, usage, child_task_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		m.ID, m.TaskID, m.Sequence, m.Role, m.Content, parts, m.IsStreaming,
		m.FinishReason, usage, nullString(m.ChildTaskID), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: append message: %w", err)
	}
	return nil
}

func (s *CockroachStore) UpdateMessage(ctx context.Context, m *models.Message) error {
	parts, err := json.Marshal(m.Parts)
	if err != nil {
		return fmt.Errorf("storage: marshal parts: %w", err)
	}
	usage, err := json.Marshal(m.Usage)
	if err != nil {
		return fmt.Errorf("storage: marshal usage: %w", err)
	}
	m.UpdatedAt = time.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET parts=$2, is_streaming=$3, finish_reason=$4, usage=$5, updated_at=$6, content=$7
		WHERE id=$1`, m.ID, parts, m.IsStreaming, m.FinishReason, usage, m.UpdatedAt, m.Content)
	if err != nil {
		return fmt.Errorf("storage: update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *CockroachStore) ListMessages(ctx context.Context, taskID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, sequence, role, content, parts, is_streaming,
			finish_reason, usage, child_task_id, created_at, updated_at
		FROM messages WHERE task_id = $1 ORDER BY sequence ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("storage: list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m := &models.Message{}
		var partsRaw, usageRaw []byte
		var childTaskID sql.NullString
		if err := rows.Scan(
			&m.ID, &m.TaskID, &m.Sequence, &m.Role, &m.Content, &partsRaw, &m.IsStreaming,
			&m.FinishReason, &usageRaw, &childTaskID, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan message: %w", err)
		}
		m.ChildTaskID = childTaskID.String
		if len(partsRaw) > 0 {
			if err := json.Unmarshal(partsRaw, &m.Parts); err != nil {
				return nil, fmt.Errorf("storage: unmarshal parts: %w", err)
			}
		}
		if len(usageRaw) > 0 && string(usageRaw) != "null" {
			if err := json.Unmarshal(usageRaw, &m.Usage); err != nil {
				return nil, fmt.Errorf("storage: unmarshal usage: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *CockroachStore) TruncateAfter(ctx context.Context, taskID string, seq int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE task_id = $1 AND sequence > $2`, taskID, seq)
	if err != nil {
		return fmt.Errorf("storage: truncate messages after %d: %w", seq, err)
	}
	return nil
}

func (s *CockroachStore) ReplaceTodos(ctx context.Context, taskID string, todos []models.Todo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM todos WHERE task_id = $1`, taskID); err != nil {
		return fmt.Errorf("storage: clear todos: %w", err)
	}
	for _, td := range todos {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO todos (id, task_id, content, status, sequence, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			td.ID, taskID, td.Content, td.Status, td.Sequence, td.UpdatedAt); err != nil {
			return fmt.Errorf("storage: insert todo: %w", err)
		}
	}
	return tx.Commit()
}

func (s *CockroachStore) ListTodos(ctx context.Context, taskID string) ([]models.Todo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, content, status, sequence, updated_at
		FROM todos WHERE task_id = $1 ORDER BY sequence ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("storage: list todos: %w", err)
	}
	defer rows.Close()

	var out []models.Todo
	for rows.Next() {
		var td models.Todo
		if err := rows.Scan(&td.ID, &td.TaskID, &td.Content, &td.Status, &td.Sequence, &td.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan todo: %w", err)
		}
		out = append(out, td)
	}
	return out, rows.Err()
}

func (s *CockroachStore) CreateSnapshot(ctx context.Context, sn *models.PRSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pr_snapshots (
			id, task_id, causing_message_id, kind, number, title, description,
			additions, deletions, changed_files, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		sn.ID, sn.TaskID, sn.CausingMessageID, sn.Kind, sn.Number, sn.Title, sn.Description,
		sn.Additions, sn.Deletions, sn.ChangedFiles, sn.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create pr snapshot: %w", err)
	}
	return nil
}

func (s *CockroachStore) ListSnapshots(ctx context.Context, taskID string) ([]*models.PRSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, causing_message_id, kind, number, title, description,
			additions, deletions, changed_files, created_at
		FROM pr_snapshots WHERE task_id = $1 ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("storage: list pr snapshots: %w", err)
	}
	defer rows.Close()

	var out []*models.PRSnapshot
	for rows.Next() {
		sn := &models.PRSnapshot{}
		if err := rows.Scan(&sn.ID, &sn.TaskID, &sn.CausingMessageID, &sn.Kind, &sn.Number, &sn.Title,
			&sn.Description, &sn.Additions, &sn.Deletions, &sn.ChangedFiles, &sn.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan pr snapshot: %w", err)
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

func (s *CockroachStore) SetQueuedAction(ctx context.Context, a *models.QueuedAction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queued_actions (task_id, kind, content, queued_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (task_id) DO UPDATE SET kind=$2, content=$3, queued_at=$4`,
		a.TaskID, a.Kind, a.Content, a.QueuedAt)
	if err != nil {
		return fmt.Errorf("storage: set queued action: %w", err)
	}
	return nil
}

func (s *CockroachStore) GetQueuedAction(ctx context.Context, taskID string) (*models.QueuedAction, error) {
	a := &models.QueuedAction{}
	err := s.db.QueryRowContext(ctx, `
		SELECT task_id, kind, content, queued_at FROM queued_actions WHERE task_id = $1`, taskID,
	).Scan(&a.TaskID, &a.Kind, &a.Content, &a.QueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get queued action: %w", err)
	}
	return a, nil
}

func (s *CockroachStore) ClearQueuedAction(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queued_actions WHERE task_id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("storage: clear queued action: %w", err)
	}
	return nil
}
