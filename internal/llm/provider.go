// Package llm implements the LLM Stream Adapter (C6): one interface that
// both the Anthropic and GPT-5 provider families satisfy, each shaping its
// request to its own dialect (system-block cache control and interleaved
// thinking for Anthropic; pinned temperature and reasoning-effort for
// GPT-5) while emitting the same unified models.Chunk stream.
package llm

import (
	"context"

	"github.com/shadow-org/shadow/pkg/models"
)

// ToolSpec describes one tool the model may call, in the provider-neutral
// shape both dialects translate into their own tool-schema format.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// CompletionRequest is a provider-neutral description of one streaming
// turn.
type CompletionRequest struct {
	Model         string
	SystemPrompt  string
	Messages      []*models.Message
	Tools         []ToolSpec
	ThinkingBudget int // Anthropic-family only; ignored by GPT-5 dialect
	ReasoningEffort string // GPT-5-family only; ignored by Anthropic dialect
	MaxTokens     int
}

// Provider streams one completion as a sequence of Chunks on the returned
// channel, closing it when the turn ends (Finish or Error chunk sent
// first). The context governs cancellation; closing it stops the stream
// but does not itself emit an Error chunk -- callers check ctx.Err().
type Provider interface {
	Stream(ctx context.Context, req CompletionRequest) (<-chan models.Chunk, error)

	// RepairToolArguments re-issues a single non-streaming call asking the
	// model to fix malformed JSON arguments for one tool call, used by the
	// kernel when a finished tool call's arguments are not valid JSON.
	RepairToolArguments(ctx context.Context, req CompletionRequest, toolCallID, badArguments, parseError string) (fixed string, err error)
}

// ForProvider returns the configured Provider implementation for p.
func ForProvider(p models.Provider, apiKeys map[models.Provider]string) (Provider, error) {
	switch p {
	case models.ProviderAnthropic:
		return NewAnthropicProvider(apiKeys[models.ProviderAnthropic]), nil
	case models.ProviderOpenAI:
		return NewOpenAIProvider(apiKeys[models.ProviderOpenAI]), nil
	default:
		return nil, &UnsupportedProviderError{Provider: p}
	}
}
