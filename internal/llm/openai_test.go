package llm

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/shadow-org/shadow/pkg/models"
)

func TestToOpenAIMessagesIncludesSystemPromptFirst(t *testing.T) {
	msgs := []*models.Message{
		{Role: models.RoleUser, Content: "fix the bug"},
	}
	out := toOpenAIMessages("You are Shadow.", msgs)

	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if out[0].Role != openai.ChatMessageRoleSystem || out[0].Content != "You are Shadow." {
		t.Fatalf("expected system prompt first, got %+v", out[0])
	}
	if out[1].Role != openai.ChatMessageRoleUser || out[1].Content != "fix the bug" {
		t.Fatalf("expected user message second, got %+v", out[1])
	}
}

func TestToOpenAIMessagesFlattensAssistantParts(t *testing.T) {
	msgs := []*models.Message{
		{
			Role: models.RoleAssistant,
			Parts: []models.Part{
				{Kind: models.PartText, Text: &models.TextPart{Text: "Running the tests now."}},
				{Kind: models.PartToolCall, ToolCall: &models.ToolCallPart{ID: "c1", Name: "run_terminal_cmd", Input: json.RawMessage(`{"command":"go test ./..."}`)}},
			},
		},
	}
	out := toOpenAIMessages("", msgs)

	if len(out) != 1 {
		t.Fatalf("expected 1 message, got %d", len(out))
	}
	if out[0].Content != "Running the tests now." {
		t.Fatalf("content = %q", out[0].Content)
	}
	if len(out[0].ToolCalls) != 1 || out[0].ToolCalls[0].Function.Name != "run_terminal_cmd" {
		t.Fatalf("tool calls not preserved: %+v", out[0].ToolCalls)
	}
}

func TestToOpenAIToolsMapsSchema(t *testing.T) {
	tools := []ToolSpec{
		{Name: "edit_file", Description: "Edit a file", InputSchema: map[string]any{"type": "object"}},
	}
	out := toOpenAITools(tools)
	if len(out) != 1 || out[0].Function.Name != "edit_file" {
		t.Fatalf("tools not mapped: %+v", out)
	}
}
