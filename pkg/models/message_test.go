package models

import (
	"encoding/json"
	"testing"
)

func TestPartMarshalRoundTrip(t *testing.T) {
	part := Part{
		Kind: PartToolCall,
		ToolCall: &ToolCallPart{
			ID:    "call_1",
			Name:  "shadow:run_terminal_cmd",
			Input: json.RawMessage(`{"command":"go build ./..."}`),
		},
	}

	data, err := json.Marshal(part)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Part
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Kind != PartToolCall {
		t.Fatalf("kind = %q, want %q", got.Kind, PartToolCall)
	}
	if got.ToolCall == nil || got.ToolCall.Name != "shadow:run_terminal_cmd" {
		t.Fatalf("tool call not round-tripped: %+v", got.ToolCall)
	}
	if got.Text != nil || got.Reasoning != nil || got.Error != nil {
		t.Fatalf("unrelated variants should stay nil, got %+v", got)
	}
}

func TestMessageAssistantPartsAreOrdered(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Parts: []Part{
			{Kind: PartReasoning, Reasoning: &ReasoningPart{Text: "thinking..."}},
			{Kind: PartText, Text: &TextPart{Text: "Here is the fix."}},
			{Kind: PartToolCall, ToolCall: &ToolCallPart{ID: "c1", Name: "edit_file"}},
			{Kind: PartToolResult, ToolResult: &ToolResultPart{ToolCallID: "c1", Content: "ok", IsValid: true}},
		},
		FinishReason: FinishToolCalls,
	}

	if len(msg.Parts) != 4 {
		t.Fatalf("expected 4 parts, got %d", len(msg.Parts))
	}
	if msg.Parts[0].Kind != PartReasoning || msg.Parts[len(msg.Parts)-1].Kind != PartToolResult {
		t.Fatalf("part order not preserved: %+v", msg.Parts)
	}
}
