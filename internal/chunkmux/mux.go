// Package chunkmux implements the Chunk Multiplexer (C7): it folds a single
// provider chunk stream into an assistant Message's Parts (durably, via the
// Message Log) while simultaneously fanning the same chunks out to every
// live subscriber of the task's stream (SSE/WebSocket clients).
package chunkmux

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shadow-org/shadow/internal/messagelog"
	"github.com/shadow-org/shadow/pkg/models"
)

// Hub fans a task's chunk stream out to subscribers. One Hub exists per
// currently-streaming task; the Kernel creates it when a turn starts and
// discards it when the turn ends.
type Hub struct {
	mu   sync.Mutex
	subs map[chan models.Chunk]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan models.Chunk]struct{})}
}

// Subscribe registers a new subscriber and returns a channel of chunks plus
// an unsubscribe function. The channel is closed by Unsubscribe or when the
// Hub itself is closed at turn end.
func (h *Hub) Subscribe() (<-chan models.Chunk, func()) {
	ch := make(chan models.Chunk, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	unsub := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, unsub
}

// Broadcast publishes a chunk that did not come from folding the provider's
// own stream -- currently used by the kernel to push a todo-update chunk
// out-of-band when the todo_write tool runs.
func (h *Hub) Broadcast(c models.Chunk) {
	h.broadcast(c)
}

func (h *Hub) broadcast(c models.Chunk) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- c:
		default: // a slow subscriber never blocks the turn
		}
	}
}

// CloseAll closes every remaining subscriber channel, used at turn end.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}

// toolCallAccumulator tracks one in-flight tool call's streamed JSON
// arguments until its matching ToolCall chunk (or, if the provider never
// sends one, until Fold ends the message) closes it out.
type toolCallAccumulator struct {
	id   string
	name string
	args bytes.Buffer
}

// Mux folds one chunk stream into a Message's Parts, persisting via log and
// broadcasting via hub.
type Mux struct {
	log *messagelog.Log
}

// New returns a Mux backed by log.
func New(log *messagelog.Log) *Mux {
	return &Mux{log: log}
}

// Fold consumes chunks from the provider until the channel closes, folding
// each into msg's Parts (persisting incrementally) and broadcasting it on
// hub. It returns the finish reason and usage the stream ended with, or an
// error if the stream ended with an Error chunk.
func (m *Mux) Fold(ctx context.Context, msg *models.Message, chunks <-chan models.Chunk, hub *Hub) (models.FinishReason, *models.Usage, error) {
	var (
		textBuf      bytes.Buffer
		reasoningBuf bytes.Buffer
		toolCalls    = map[string]*toolCallAccumulator{}
		order        []string // tool call IDs in start order, for flushing partial calls on error
		usage        *models.Usage
		finish       models.FinishReason = models.FinishStop
	)

	flushTextWith := func(wctx context.Context) {
		if textBuf.Len() == 0 {
			return
		}
		part := models.Part{Kind: models.PartText, Text: &models.TextPart{Text: textBuf.String()}}
		_ = m.log.AppendPart(wctx, msg, part)
		textBuf.Reset()
	}
	flushReasoningWith := func(wctx context.Context, signature string) {
		if reasoningBuf.Len() == 0 && signature == "" {
			return
		}
		part := models.Part{Kind: models.PartReasoning, Reasoning: &models.ReasoningPart{Text: reasoningBuf.String(), Signature: signature}}
		_ = m.log.AppendPart(wctx, msg, part)
		reasoningBuf.Reset()
	}
	flushText := func() { flushTextWith(ctx) }
	flushReasoning := func(signature string) { flushReasoningWith(ctx, signature) }

	for chunk := range chunks {
		if ctx.Err() != nil {
			// Persistence must still land even though the stream's own
			// context was cancelled -- a cancelled stream is not a
			// database failure.
			persistCtx := context.Background()
			flushTextWith(persistCtx)
			flushReasoningWith(persistCtx, "")
			flushPartialToolCalls(persistCtx, m.log, msg, order, toolCalls)
			return models.FinishStopRequested, usage, nil
		}

		hub.broadcast(chunk)

		switch chunk.Type {
		case models.ChunkTextDelta:
			textBuf.WriteString(chunk.TextDelta.Delta)
		case models.ChunkReasoning:
			flushText()
			reasoningBuf.WriteString(chunk.Reasoning.Delta)
		case models.ChunkReasoningSignature:
			flushReasoning(chunk.ReasoningSignature.Signature)
		case models.ChunkRedactedReasoning:
			part := models.Part{Kind: models.PartRedactedReasoning, RedactedReasoning: &models.RedactedReasoningPart{Data: chunk.RedactedReasoning.Data}}
			_ = m.log.AppendPart(ctx, msg, part)
		case models.ChunkToolCallStart:
			flushText()
			flushReasoning("")
			acc := &toolCallAccumulator{id: chunk.ToolCallStart.ID, name: chunk.ToolCallStart.Name}
			toolCalls[acc.id] = acc
			order = append(order, acc.id)
		case models.ChunkToolCallDelta:
			if acc, ok := toolCalls[chunk.ToolCallDelta.ID]; ok {
				acc.args.WriteString(chunk.ToolCallDelta.Delta)
			}
		case models.ChunkToolCall:
			acc, ok := toolCalls[chunk.ToolCall.ID]
			input := chunk.ToolCall.Input
			name := chunk.ToolCall.Name
			if ok {
				if len(input) == 0 {
					input = acc.args.Bytes()
				}
				if name == "" {
					name = acc.name
				}
				delete(toolCalls, chunk.ToolCall.ID)
			}
			part := models.Part{Kind: models.PartToolCall, ToolCall: &models.ToolCallPart{ID: chunk.ToolCall.ID, Name: name, Input: input}}
			_ = m.log.AppendPart(ctx, msg, part)
		case models.ChunkToolResult:
			part := models.Part{Kind: models.PartToolResult, ToolResult: &models.ToolResultPart{
				ToolCallID: chunk.ToolResult.ToolCallID,
				Content:    chunk.ToolResult.Content,
				IsValid:    chunk.ToolResult.IsValid,
			}}
			_ = m.log.AppendPart(ctx, msg, part)
		case models.ChunkUsage:
			usage = &models.Usage{
				InputTokens:         chunk.Usage.InputTokens,
				OutputTokens:        chunk.Usage.OutputTokens,
				CacheReadTokens:     chunk.Usage.CacheReadTokens,
				CacheCreationTokens: chunk.Usage.CacheCreationTokens,
			}
		case models.ChunkFinish:
			finish = chunk.Finish.Reason
		case models.ChunkError:
			flushText()
			flushReasoning("")
			flushPartialToolCalls(ctx, m.log, msg, order, toolCalls)
			part := models.Part{Kind: models.PartError, Error: &models.ErrorPart{Message: chunk.Error.Message, Retryable: chunk.Error.Retryable}}
			_ = m.log.AppendPart(ctx, msg, part)
			return models.FinishError, usage, fmt.Errorf("chunkmux: stream error: %s", chunk.Error.Message)
		}
	}

	flushText()
	flushReasoning("")
	flushPartialToolCalls(ctx, m.log, msg, order, toolCalls)

	return finish, usage, nil
}

// flushPartialToolCalls persists any tool call whose arguments finished
// streaming but whose terminal ToolCall chunk never arrived -- e.g. because
// the stream ended in an error. Without this, a tool call's arguments would
// be silently dropped instead of surfacing (possibly malformed) for repair.
func flushPartialToolCalls(ctx context.Context, log *messagelog.Log, msg *models.Message, order []string, pending map[string]*toolCallAccumulator) {
	for _, id := range order {
		acc, ok := pending[id]
		if !ok {
			continue
		}
		part := models.Part{Kind: models.PartToolCall, ToolCall: &models.ToolCallPart{ID: acc.id, Name: acc.name, Input: json.RawMessage(acc.args.Bytes())}}
		_ = log.AppendPart(ctx, msg, part)
		delete(pending, id)
	}
}
