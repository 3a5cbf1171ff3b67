package minigen

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadow-org/shadow/internal/llm"
	"github.com/shadow-org/shadow/pkg/models"
)

type stubProvider struct {
	text string
	err  string
}

func (p *stubProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan models.Chunk, error) {
	out := make(chan models.Chunk, 2)
	if p.err != "" {
		out <- models.Chunk{Type: models.ChunkError, Error: &models.ErrorChunk{Message: p.err}}
		close(out)
		return out, nil
	}
	out <- models.Chunk{Type: models.ChunkTextDelta, TextDelta: &models.TextDeltaChunk{Delta: p.text}}
	close(out)
	return out, nil
}

func (p *stubProvider) RepairToolArguments(ctx context.Context, req llm.CompletionRequest, toolCallID, badArguments, parseError string) (string, error) {
	return "{}", nil
}

func TestNewPicksProviderByKey(t *testing.T) {
	gen, err := New("anthropic-key", "")
	require.NoError(t, err)
	require.NotNil(t, gen)
	assert.Equal(t, "claude-haiku-4-6", gen.model)

	gen, err = New("", "openai-key")
	require.NoError(t, err)
	require.NotNil(t, gen)
	assert.Equal(t, "gpt-5.2-mini", gen.model)

	gen, err = New("", "")
	require.NoError(t, err)
	assert.Nil(t, gen)
}

func TestGenerateCommitMessageTruncatesToFiftyChars(t *testing.T) {
	gen := &Generator{model: "mini", provider: &stubProvider{text: "Add a very long commit subject that definitely exceeds fifty characters."}}
	msg, err := gen.GenerateCommitMessage(context.Background(), "diff")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(msg), 50)
}

func TestGenerateCommitMessagePropagatesProviderError(t *testing.T) {
	gen := &Generator{model: "mini", provider: &stubProvider{err: "rate limited"}}
	_, err := gen.GenerateCommitMessage(context.Background(), "diff")
	require.Error(t, err)
}

func TestGeneratePRDescriptionParsesTitleAndBody(t *testing.T) {
	gen := &Generator{model: "mini", provider: &stubProvider{text: "TITLE: Add health endpoint\nBODY:\nAdds a /health route returning 200."}}
	title, body, err := gen.GeneratePRDescription(context.Background(), "add health endpoint", "diff")
	require.NoError(t, err)
	assert.Equal(t, "Add health endpoint", title)
	assert.Equal(t, "Adds a /health route returning 200.", body)
}

func TestGeneratePRDescriptionRejectsMalformedResponse(t *testing.T) {
	gen := &Generator{model: "mini", provider: &stubProvider{text: "not the expected format"}}
	_, _, err := gen.GeneratePRDescription(context.Background(), "prompt", "diff")
	require.Error(t, err)
}

func TestGenerateBranchSlugTruncates(t *testing.T) {
	gen := &Generator{model: "mini", provider: &stubProvider{text: "this-is-a-very-long-slug-that-exceeds-the-forty-character-cap"}}
	slug, err := gen.GenerateBranchSlug(context.Background(), "prompt")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(slug), 40)
}

func TestNilGeneratorMethodsReturnError(t *testing.T) {
	var gen *Generator
	_, err := gen.GenerateCommitMessage(context.Background(), "diff")
	assert.Error(t, err)
	_, _, err = gen.GeneratePRDescription(context.Background(), "p", "d")
	assert.Error(t, err)
	_, err = gen.GenerateBranchSlug(context.Background(), "p")
	assert.Error(t, err)
}
