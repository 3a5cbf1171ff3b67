package models

// Provider identifies an LLM vendor family. Shadow shapes requests
// differently per family (see internal/llm) even when the wire protocol
// unifies their output into Chunk.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// OperationKind selects which model tier a Task Model Context should resolve
// to: the user's chosen main model for the conversation itself, or a
// cheaper "mini" model for cheap, structured, non-conversational operations.
type OperationKind string

const (
	OperationConversation OperationKind = "conversation"
	OperationCommitMessage OperationKind = "commit_message"
	OperationPRTitle       OperationKind = "pr_title"
	OperationPRDescription OperationKind = "pr_description"
)

// ModelContext is the immutable, per-task binding between a user's
// configured models/credentials and the LLM Stream Adapter. It never
// changes after task creation; a new task gets a fresh one.
type ModelContext struct {
	TaskID    string            `json:"task_id"`
	MainModel string            `json:"main_model"`
	MiniModel string            `json:"mini_model,omitempty"`
	APIKeys   map[Provider]string `json:"-"` // never serialized
}

// ModelForOperation picks the model string an operation should use: the
// main model for live conversation turns, the mini model (falling back to
// the main model if none is configured) for cheap auxiliary generations.
func (c *ModelContext) ModelForOperation(op OperationKind) string {
	if op == OperationConversation || c.MiniModel == "" {
		return c.MainModel
	}
	return c.MiniModel
}
