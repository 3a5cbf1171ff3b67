package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// FinishReason records why an assistant message's stream ended.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishToolCalls      FinishReason = "tool_calls"
	FinishLength         FinishReason = "length"
	FinishStopRequested  FinishReason = "stop_requested"
	FinishError          FinishReason = "error"
)

// Message is one append-only entry in a task's message log. Assistant
// messages carry a sequence of Parts, with Content holding the
// concatenation of their text parts; see Part and its concrete variants
// below.
type Message struct {
	ID        string       `json:"id"`
	TaskID    string       `json:"task_id"`
	Sequence  int          `json:"sequence"`
	Role      Role         `json:"role"`
	Content   string       `json:"content,omitempty"` // assistant: concatenated text parts
	Parts     []Part       `json:"parts,omitempty"`   // assistant messages only

	IsStreaming bool          `json:"is_streaming"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Usage       *Usage        `json:"usage,omitempty"`

	// ChildTaskID is set on a parent task's user message when that message
	// spawned a stacked follow-up task, giving the parent a weak reference
	// to the child without the child owning anything back.
	ChildTaskID string `json:"child_task_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Usage records token accounting for one assistant message.
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheReadTokens      int `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens  int `json:"cache_creation_tokens,omitempty"`
}

// PartKind discriminates the tagged-union variants of Part.
type PartKind string

const (
	PartText              PartKind = "text"
	PartReasoning          PartKind = "reasoning"
	PartRedactedReasoning  PartKind = "redacted_reasoning"
	PartToolCall           PartKind = "tool_call"
	PartToolResult         PartKind = "tool_result"
	PartError              PartKind = "error"
)

// Part is one segment of an assistant message. Exactly one of the pointer
// fields is populated, selected by Kind; this mirrors the chunk wire
// protocol (see Chunk in chunk.go) so that folding a chunk stream into a
// stored message is a straight append, and replaying a stored message back
// out as chunks is a straight iteration.
type Part struct {
	Kind PartKind `json:"kind"`

	Text              *TextPart             `json:"text,omitempty"`
	Reasoning         *ReasoningPart        `json:"reasoning,omitempty"`
	RedactedReasoning *RedactedReasoningPart `json:"redacted_reasoning,omitempty"`
	ToolCall          *ToolCallPart         `json:"tool_call,omitempty"`
	ToolResult        *ToolResultPart       `json:"tool_result,omitempty"`
	Error             *ErrorPart            `json:"error,omitempty"`
}

// TextPart is a run of assistant-visible prose.
type TextPart struct {
	Text string `json:"text"`
}

// ReasoningPart is a run of provider "thinking" output, with an optional
// signature used to authenticate it back to the provider on the next turn.
type ReasoningPart struct {
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
}

// RedactedReasoningPart stands in for reasoning content the provider
// encrypted rather than returning in the clear.
type RedactedReasoningPart struct {
	Data string `json:"data"`
}

// ToolCallPart is a request to invoke one tool. Name is namespaced
// "server:tool" for MCP-provided tools, bare for built-in tools.
type ToolCallPart struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultPart is the outcome of executing a ToolCallPart with the
// matching ID. IsValid is false whenever the tool reported a failure: a
// usage error (bad arguments, not-found path), arguments that could not be
// repaired into valid JSON, or a remote sandbox that stayed unreachable
// after retries.
type ToolResultPart struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsValid    bool   `json:"is_valid"`
}

// ErrorPart terminates a message when the stream could not continue.
type ErrorPart struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
