package models

import "time"

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusInitializing Status = "INITIALIZING"
	StatusRunning      Status = "RUNNING"
	StatusCompleted    Status = "COMPLETED"
	StatusStopped      Status = "STOPPED"
	StatusFailed       Status = "FAILED"
	StatusArchived     Status = "ARCHIVED"
)

// Terminal reports whether no further transition out of this status is valid.
func (s Status) Terminal() bool {
	return s == StatusArchived
}

// InitStatus tracks whether a task is the one actively occupying its sandbox
// slot, independent of Status.
type InitStatus string

const (
	InitInactive InitStatus = "INACTIVE"
	InitActive   InitStatus = "ACTIVE"
)

// Task is one unit of autonomous coding work: a prompt, a cloned repository,
// a sandbox, and the running conversation that drives them.
type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	RepoFullName string    `json:"repo_full_name"` // "owner/repo"
	BaseBranch  string     `json:"base_branch"`
	WorkBranch  string     `json:"work_branch"`
	Prompt      string     `json:"prompt"`
	Status      Status     `json:"status"`
	InitStatus  InitStatus `json:"init_status"`

	SandboxID      string `json:"sandbox_id,omitempty"`
	SandboxAddress string `json:"sandbox_address,omitempty"`
	WorkspacePath  string `json:"workspace_path,omitempty"`

	PullRequestNumber int    `json:"pull_request_number,omitempty"`
	PullRequestURL    string `json:"pull_request_url,omitempty"`

	ParentTaskID string `json:"parent_task_id,omitempty"` // set for stacked follow-up tasks

	StopRequested bool `json:"stop_requested"`

	ScheduledCleanupAt *time.Time `json:"scheduled_cleanup_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QueuedActionKind distinguishes a follow-up user message, a stop request
// and a stacked-PR request.
type QueuedActionKind string

const (
	QueuedActionMessage   QueuedActionKind = "message"
	QueuedActionStop      QueuedActionKind = "stop"
	QueuedActionStackedPR QueuedActionKind = "stacked_pr"
)

// QueuedAction is the single pending follow-up a task may hold while it is
// busy streaming. A new queued action replaces the old one whatever their
// kinds; a stop action interrupts rather than queues.
type QueuedAction struct {
	TaskID  string           `json:"task_id"`
	Kind    QueuedActionKind `json:"kind"`
	Content string           `json:"content,omitempty"`
	QueuedAt time.Time       `json:"queued_at"`
}

// Todo is one line item of the task's working plan, surfaced to the client
// via todo-update chunks.
type Todo struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Content   string    `json:"content"`
	Status    string    `json:"status"` // pending, in_progress, completed, cancelled
	Sequence  int       `json:"sequence"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PRSnapshotKind distinguishes a first publish from a later update.
type PRSnapshotKind string

const (
	PRSnapshotCreated PRSnapshotKind = "CREATED"
	PRSnapshotUpdated PRSnapshotKind = "UPDATED"
)

// PRSnapshot records one point-in-time state of the task's pull request,
// tied to the assistant message whose commit caused it.
type PRSnapshot struct {
	ID                string         `json:"id"`
	TaskID            string         `json:"task_id"`
	CausingMessageID  string         `json:"causing_message_id"`
	Kind              PRSnapshotKind `json:"kind"`
	Number            int            `json:"number"`
	Title             string         `json:"title"`
	Description       string         `json:"description"`
	Additions         int            `json:"additions"`
	Deletions         int            `json:"deletions"`
	ChangedFiles      int            `json:"changed_files"`
	CreatedAt         time.Time      `json:"created_at"`
}
