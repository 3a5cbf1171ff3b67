package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/shadow-org/shadow/pkg/models"
)

// gpt5Temperature is the only temperature the GPT-5 family accepts.
const gpt5Temperature = 1.0

// OpenAIProvider shapes requests for the GPT-5 family: temperature is
// pinned to 1, token budget is sent as max_completion_tokens, and
// reasoning effort is passed as a provider option rather than a
// thinking-budget token count.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider returns a Provider backed by the OpenAI chat completions
// API using apiKey.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(apiKey)}
}

func (p *OpenAIProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan models.Chunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:                req.Model,
		Temperature:          gpt5Temperature,
		MaxCompletionTokens:  maxTokensOrDefault(req.MaxTokens),
		Messages:             toOpenAIMessages(req.SystemPrompt, req.Messages),
		Tools:                toOpenAITools(req.Tools),
		Stream:               true,
		ReasoningEffort:      req.ReasoningEffort,
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("llm: create stream: %w", err)
	}

	out := make(chan models.Chunk, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		var seq uint64
		emit := func(c models.Chunk) {
			seq++
			c.Sequence = seq
			select {
			case out <- c:
			case <-ctx.Done():
			}
		}

		toolCallNames := map[int]string{}
		var usage *models.UsageChunk
		var finishReason models.FinishReason = models.FinishStop

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				emit(models.Chunk{Type: models.ChunkError, Error: &models.ErrorChunk{Message: err.Error(), Retryable: isRetryableOpenAIError(err)}})
				return
			}
			if resp.Usage != nil {
				usage = &models.UsageChunk{
					InputTokens:  resp.Usage.PromptTokens,
					OutputTokens: resp.Usage.CompletionTokens,
				}
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content != "" {
					emit(models.Chunk{Type: models.ChunkTextDelta, TextDelta: &models.TextDeltaChunk{Delta: choice.Delta.Content}})
				}
				for _, tc := range choice.Delta.ToolCalls {
					idx := 0
					if tc.Index != nil {
						idx = *tc.Index
					}
					if _, seen := toolCallNames[idx]; !seen && tc.Function.Name != "" {
						toolCallNames[idx] = tc.ID
						emit(models.Chunk{Type: models.ChunkToolCallStart, ToolCallStart: &models.ToolCallStartChunk{ID: tc.ID, Name: tc.Function.Name}})
					}
					if tc.Function.Arguments != "" {
						emit(models.Chunk{Type: models.ChunkToolCallDelta, ToolCallDelta: &models.ToolCallDeltaChunk{ID: toolCallNames[idx], Delta: tc.Function.Arguments}})
					}
				}
				switch choice.FinishReason {
				case openai.FinishReasonToolCalls:
					finishReason = models.FinishToolCalls
				case openai.FinishReasonLength:
					finishReason = models.FinishLength
				}
			}
		}

		if usage != nil {
			emit(models.Chunk{Type: models.ChunkUsage, Usage: usage})
		}
		emit(models.Chunk{Type: models.ChunkFinish, Finish: &models.FinishChunk{Reason: finishReason}})
	}()

	return out, nil
}

func (p *OpenAIProvider) RepairToolArguments(ctx context.Context, req CompletionRequest, toolCallID, badArguments, parseError string) (string, error) {
	prompt := fmt.Sprintf(
		"The arguments you returned for tool call %s did not parse as valid JSON (%s). Here is what you sent:\n\n%s\n\nReturn ONLY corrected JSON arguments, nothing else.",
		toolCallID, parseError, badArguments)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: gpt5Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: repair tool arguments: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: repair tool arguments: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(systemPrompt string, msgs []*models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, m := range msgs {
		switch m.Role {
		case models.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case models.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			for _, part := range m.Parts {
				switch part.Kind {
				case models.PartText:
					msg.Content += part.Text.Text
				case models.PartToolCall:
					msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
						ID:   part.ToolCall.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      part.ToolCall.Name,
							Arguments: string(part.ToolCall.Input),
						},
					})
				}
			}
			out = append(out, msg)
		}
	}
	return out
}

func toOpenAITools(tools []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

func isRetryableOpenAIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return false
}
