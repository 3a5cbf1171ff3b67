package models

import "time"

// Chunk is the unified wire-protocol event for a task's live stream. It is
// versioned and forward-compatible: add fields, don't rename or remove them.
// Exactly one payload pointer is populated for a given Type.
type Chunk struct {
	Version int       `json:"version"`
	Type    ChunkType `json:"type"`
	Time    time.Time `json:"time"`

	TaskID   string `json:"task_id"`
	Sequence uint64 `json:"seq"` // monotonic within the task's stream

	TextDelta         *TextDeltaChunk         `json:"text_delta,omitempty"`
	Reasoning         *ReasoningChunk         `json:"reasoning,omitempty"`
	ReasoningSignature *ReasoningSignatureChunk `json:"reasoning_signature,omitempty"`
	RedactedReasoning *RedactedReasoningChunk `json:"redacted_reasoning,omitempty"`
	ToolCallStart     *ToolCallStartChunk     `json:"tool_call_start,omitempty"`
	ToolCallDelta     *ToolCallDeltaChunk     `json:"tool_call_delta,omitempty"`
	ToolCall          *ToolCallChunk          `json:"tool_call,omitempty"`
	ToolResult        *ToolResultChunk        `json:"tool_result,omitempty"`
	Usage             *UsageChunk             `json:"usage,omitempty"`
	Finish            *FinishChunk            `json:"finish,omitempty"`
	Error             *ErrorChunk             `json:"error,omitempty"`
	TodoUpdate        *TodoUpdateChunk        `json:"todo_update,omitempty"`
	TerminalOutput    *TerminalOutputChunk    `json:"terminal_output,omitempty"`
}

// ChunkType identifies the kind of chunk on the wire.
type ChunkType string

const (
	ChunkTextDelta          ChunkType = "text-delta"
	ChunkReasoning          ChunkType = "reasoning"
	ChunkReasoningSignature ChunkType = "reasoning-signature"
	ChunkRedactedReasoning  ChunkType = "redacted-reasoning"
	ChunkToolCallStart      ChunkType = "tool-call-start"
	ChunkToolCallDelta      ChunkType = "tool-call-delta"
	ChunkToolCall           ChunkType = "tool-call"
	ChunkToolResult         ChunkType = "tool-result"
	ChunkUsage              ChunkType = "usage"
	ChunkFinish             ChunkType = "finish"
	ChunkComplete           ChunkType = "complete"
	ChunkError              ChunkType = "error"
	ChunkTodoUpdate         ChunkType = "todo-update"
	ChunkTerminalOutput     ChunkType = "terminal-output"
)

// TextDeltaChunk is an incremental run of assistant-visible prose.
type TextDeltaChunk struct {
	Delta string `json:"delta"`
}

// ReasoningChunk is an incremental run of provider "thinking" text.
type ReasoningChunk struct {
	Delta string `json:"delta"`
}

// ReasoningSignatureChunk carries the signature that authenticates a
// completed reasoning block back to the provider on the next turn.
type ReasoningSignatureChunk struct {
	Signature string `json:"signature"`
}

// RedactedReasoningChunk stands in for provider-encrypted reasoning content.
type RedactedReasoningChunk struct {
	Data string `json:"data"`
}

// ToolCallStartChunk announces a new tool call before its arguments stream in.
type ToolCallStartChunk struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ToolCallDeltaChunk is an incremental fragment of a tool call's JSON arguments.
type ToolCallDeltaChunk struct {
	ID    string `json:"id"`
	Delta string `json:"delta"`
}

// ToolCallChunk is the completed, parsed tool call.
type ToolCallChunk struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input []byte `json:"input"`
}

// ToolResultChunk is the outcome of executing a tool call.
type ToolResultChunk struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsValid    bool   `json:"is_valid"`
}

// UsageChunk reports token accounting, usually the last non-terminal chunk
// before Finish.
type UsageChunk struct {
	InputTokens        int `json:"input_tokens"`
	OutputTokens       int `json:"output_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
}

// FinishChunk terminates one assistant message's stream.
type FinishChunk struct {
	Reason FinishReason `json:"reason"`
}

// ErrorChunk terminates a stream when it could not continue.
type ErrorChunk struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// TodoUpdateChunk replaces the task's working plan.
type TodoUpdateChunk struct {
	Todos []Todo `json:"todos"`
}

// TerminalOutputChunk streams raw sandbox shell output for a running tool
// call, ahead of its final ToolResultChunk.
type TerminalOutputChunk struct {
	ToolCallID string `json:"tool_call_id"`
	Stream     string `json:"stream"` // "stdout" or "stderr"
	Data       string `json:"data"`
}
