package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/shadow-org/shadow/pkg/models"
)

// AnthropicProvider shapes requests for the Anthropic family: the system
// prompt is sent as a system block with ephemeral cache control, thinking
// is requested via a thinking budget, and every streaming request carries
// the anthropic-beta header enabling interleaved thinking and fine-grained
// tool streaming.
type AnthropicProvider struct {
	client *anthropic.Client
}

// NewAnthropicProvider returns a Provider backed by the Anthropic Messages
// API using apiKey.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{client: &client}
}

func (p *AnthropicProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan models.Chunk, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
		System: []anthropic.TextBlockParam{
			{
				Text:         req.SystemPrompt,
				CacheControl: anthropic.NewCacheControlEphemeralParam(),
			},
		},
		Messages: toAnthropicMessages(req.Messages),
		Tools:    toAnthropicTools(req.Tools),
	}
	if req.ThinkingBudget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(req.ThinkingBudget))
	}

	stream := p.client.Messages.NewStreaming(ctx, params,
		option.WithHeader("anthropic-beta", "interleaved-thinking-2025-05-14,fine-grained-tool-streaming-2025-05-14"))

	out := make(chan models.Chunk, 16)
	go func() {
		defer close(out)
		var seq uint64

		emit := func(c models.Chunk) {
			seq++
			c.Sequence = seq
			select {
			case out <- c:
			case <-ctx.Done():
			}
		}

		acc := anthropic.Message{}
		var toolCallID string
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				emit(models.Chunk{Type: models.ChunkError, Error: &models.ErrorChunk{Message: err.Error(), Retryable: true}})
				return
			}
			emitAnthropicEvent(emit, event, &toolCallID)
		}
		if err := stream.Err(); err != nil {
			emit(models.Chunk{Type: models.ChunkError, Error: &models.ErrorChunk{Message: err.Error(), Retryable: isRetryableAnthropicError(err)}})
			return
		}

		emit(models.Chunk{Type: models.ChunkUsage, Usage: &models.UsageChunk{
			InputTokens:         int(acc.Usage.InputTokens),
			OutputTokens:        int(acc.Usage.OutputTokens),
			CacheReadTokens:     int(acc.Usage.CacheReadInputTokens),
			CacheCreationTokens: int(acc.Usage.CacheCreationInputTokens),
		}})
		emit(models.Chunk{Type: models.ChunkFinish, Finish: &models.FinishChunk{Reason: anthropicStopReason(acc.StopReason)}})
	}()

	return out, nil
}

// emitAnthropicEvent translates one stream event into chunks. toolCallID
// holds the ID of the tool_use block currently streaming, since Anthropic's
// input_json_delta events do not repeat it.
func emitAnthropicEvent(emit func(models.Chunk), event anthropic.MessageStreamEventUnion, toolCallID *string) {
	switch variant := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		switch block := variant.ContentBlock.AsAny().(type) {
		case anthropic.ToolUseBlock:
			*toolCallID = block.ID
			emit(models.Chunk{Type: models.ChunkToolCallStart, ToolCallStart: &models.ToolCallStartChunk{ID: block.ID, Name: block.Name}})
		}
	case anthropic.ContentBlockDeltaEvent:
		switch delta := variant.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			emit(models.Chunk{Type: models.ChunkTextDelta, TextDelta: &models.TextDeltaChunk{Delta: delta.Text}})
		case anthropic.ThinkingDelta:
			emit(models.Chunk{Type: models.ChunkReasoning, Reasoning: &models.ReasoningChunk{Delta: delta.Thinking}})
		case anthropic.SignatureDelta:
			emit(models.Chunk{Type: models.ChunkReasoningSignature, ReasoningSignature: &models.ReasoningSignatureChunk{Signature: delta.Signature}})
		case anthropic.InputJSONDelta:
			emit(models.Chunk{Type: models.ChunkToolCallDelta, ToolCallDelta: &models.ToolCallDeltaChunk{ID: *toolCallID, Delta: delta.PartialJSON}})
		}
	}
}

func anthropicStopReason(reason anthropic.StopReason) models.FinishReason {
	switch reason {
	case anthropic.StopReasonToolUse:
		return models.FinishToolCalls
	case anthropic.StopReasonMaxTokens:
		return models.FinishLength
	default:
		return models.FinishStop
	}
}

func (p *AnthropicProvider) RepairToolArguments(ctx context.Context, req CompletionRequest, toolCallID, badArguments, parseError string) (string, error) {
	prompt := fmt.Sprintf(
		"The arguments you returned for tool call %s did not parse as valid JSON (%s). Here is what you sent:\n\n%s\n\nReturn ONLY corrected JSON arguments, nothing else.",
		toolCallID, parseError, badArguments)

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: repair tool arguments: %w", err)
	}
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			return text.Text, nil
		}
	}
	return "", fmt.Errorf("llm: repair tool arguments: no text content returned")
}

func toAnthropicMessages(msgs []*models.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			for _, part := range m.Parts {
				switch part.Kind {
				case models.PartText:
					blocks = append(blocks, anthropic.NewTextBlock(part.Text.Text))
				case models.PartToolCall:
					var input any
					_ = json.Unmarshal(part.ToolCall.Input, &input)
					blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, input, part.ToolCall.Name))
				case models.PartToolResult:
					blocks = append(blocks, anthropic.NewToolResultBlock(part.ToolResult.ToolCallID, part.ToolResult.Content, !part.ToolResult.IsValid))
				}
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}
	return out
}

func toAnthropicTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.InputSchema,
				},
			},
		})
	}
	return out
}

func isRetryableAnthropicError(err error) bool {
	var apiErr *anthropic.Error
	if ok := asAnthropicError(err, &apiErr); ok {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func asAnthropicError(err error, target **anthropic.Error) bool {
	apiErr, ok := err.(*anthropic.Error)
	if ok {
		*target = apiErr
	}
	return ok
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 8192
	}
	return n
}
