// Package minigen implements the mini-model text generators the Git
// Worker (C4), PR Worker (C5), and stacked-task spawn path in the Task
// Stream Kernel (C8) each call out to: a short commit subject from a
// diff, a PR title+description from a prompt and diff, and a branch slug
// from a follow-up prompt. All three are the same shape -- one
// non-streaming-equivalent call to a mini model, drained from the LLM
// Stream Adapter's unified chunk stream -- grounded on the teacher's
// internal/agent/providers "ask the model for one short piece of text"
// pattern already cited for gitworker and prworker in DESIGN.md.
package minigen

import (
	"context"
	"fmt"
	"strings"

	"github.com/shadow-org/shadow/internal/infra"
	"github.com/shadow-org/shadow/internal/llm"
	"github.com/shadow-org/shadow/internal/modelctx"
	"github.com/shadow-org/shadow/pkg/models"
)

// Generator drains a mini-model completion into plain text using a fixed
// provider/model/API-key triple. It is process-scoped (not per-task)
// because the kernel's Git Worker and PR Worker are themselves
// process-scoped singletons; per-task model choice stays with the
// conversational stream, which already goes through the per-task
// ModelContext and the kernel's providerFor factory.
type Generator struct {
	model    string
	provider llm.Provider
}

// New picks an Anthropic mini model if anthropicKey is set, falling back
// to an OpenAI mini model, and returns nil if neither key is configured
// (callers treat a nil *Generator as "no generator", same as today's nil
// wiring in cmd/shadow/main.go).
func New(anthropicKey, openAIKey string) (*Generator, error) {
	switch {
	case anthropicKey != "":
		return &Generator{
			model:    modelctx.DefaultMiniModel("claude-sonnet-4-6"),
			provider: llm.NewAnthropicProvider(anthropicKey),
		}, nil
	case openAIKey != "":
		return &Generator{
			model:    modelctx.DefaultMiniModel("gpt-5.2"),
			provider: llm.NewOpenAIProvider(openAIKey),
		}, nil
	default:
		return nil, nil
	}
}

// complete runs one streaming turn to completion and returns the
// concatenated text-delta content, failing on an Error chunk.
func (g *Generator) complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	req := llm.CompletionRequest{
		Model:        g.model,
		SystemPrompt: systemPrompt,
		Messages: []*models.Message{
			{Role: models.RoleUser, Content: userText},
		},
		MaxTokens: 512,
	}
	chunks, err := g.provider.Stream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("minigen: start stream: %w", err)
	}

	var text strings.Builder
	for c := range chunks {
		switch c.Type {
		case models.ChunkTextDelta:
			if c.TextDelta != nil {
				text.WriteString(c.TextDelta.Delta)
			}
		case models.ChunkError:
			if c.Error != nil {
				return "", fmt.Errorf("minigen: provider error: %s", c.Error.Message)
			}
			return "", fmt.Errorf("minigen: provider error")
		}
	}
	return strings.TrimSpace(text.String()), nil
}

const commitMessageSystemPrompt = `You write a single short git commit subject line, imperative mood, no trailing period, at most 50 characters. Reply with only the subject line.`

// GenerateCommitMessage implements gitworker.CommitMessageGenerator.
func (g *Generator) GenerateCommitMessage(ctx context.Context, diff string) (string, error) {
	if g == nil {
		return "", fmt.Errorf("minigen: no generator configured")
	}
	subject, err := g.complete(ctx, commitMessageSystemPrompt, diff)
	if err != nil {
		return "", err
	}
	subject = strings.TrimSuffix(subject, ".")
	return infra.TruncateRunes(subject, 50), nil
}

const prDescriptionSystemPrompt = `You write a pull request title and description for a code change. Reply in exactly this format with no extra commentary:
TITLE: <at most 50 characters>
BODY:
<description, may span multiple lines>`

// GeneratePRDescription implements prworker.DescriptionGenerator.
func (g *Generator) GeneratePRDescription(ctx context.Context, prompt, diff string) (title, body string, err error) {
	if g == nil {
		return "", "", fmt.Errorf("minigen: no generator configured")
	}
	userText := fmt.Sprintf("Task: %s\n\nDiff:\n%s", prompt, diff)
	raw, err := g.complete(ctx, prDescriptionSystemPrompt, userText)
	if err != nil {
		return "", "", err
	}
	return parseTitleBody(raw)
}

func parseTitleBody(raw string) (title, body string, err error) {
	lines := strings.SplitN(raw, "\n", 2)
	first := strings.TrimSpace(lines[0])
	if !strings.HasPrefix(first, "TITLE:") {
		return "", "", fmt.Errorf("minigen: malformed PR description response")
	}
	title = infra.TruncateRunes(strings.TrimSpace(strings.TrimPrefix(first, "TITLE:")), 50)
	if len(lines) < 2 {
		return title, "", nil
	}
	body = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[1]), "BODY:"))
	return title, body, nil
}

const branchSlugSystemPrompt = `You turn a short coding task description into a git-branch-safe slug: lowercase letters, digits, and hyphens only, at most 40 characters, no leading or trailing hyphen. Reply with only the slug.`

// GenerateBranchSlug implements kernel.StackedTaskNamer.
func (g *Generator) GenerateBranchSlug(ctx context.Context, prompt string) (string, error) {
	if g == nil {
		return "", fmt.Errorf("minigen: no generator configured")
	}
	slug, err := g.complete(ctx, branchSlugSystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	return infra.TruncateRunes(slug, 40), nil
}
