// Package prworker implements the PR Worker (C5): creating and updating the
// draft pull request that tracks a task's branch. There is no teacher
// precedent for a GitHub PR client; it is built the way the teacher wraps
// external provisioning APIs in internal/tools/sandbox/daytona.go -- one
// client per process, config resolved once, retry on 5xx/secondary rate
// limits -- applied to github.com/google/go-github instead of the Daytona
// API client.
package prworker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/go-github/v66/github"

	"github.com/shadow-org/shadow/internal/infra"
	"github.com/shadow-org/shadow/internal/retry"
	"github.com/shadow-org/shadow/pkg/models"
)

// DescriptionGenerator produces a PR title and body from a task's prompt
// and diff. In production this is a process-scoped minigen.Generator
// backed by a mini model.
type DescriptionGenerator interface {
	GeneratePRDescription(ctx context.Context, prompt, diff string) (title, body string, err error)
}

// Worker creates and updates pull requests for tasks.
type Worker struct {
	client    *github.Client
	generator DescriptionGenerator
	log       *slog.Logger
}

// New returns a Worker using client for the GitHub REST API.
func New(client *github.Client, generator DescriptionGenerator, logger *slog.Logger) *Worker {
	return &Worker{client: client, generator: generator, log: logger}
}

// Publish creates the task's PR if it doesn't have one yet, or updates the
// existing one otherwise. It is idempotent: calling it twice for the same
// task state does not create a duplicate PR, because the PR number is
// persisted on the Task after the first call.
//
// Failure here is non-blocking: the caller logs and continues the task
// rather than failing the turn, per spec.
func (w *Worker) Publish(ctx context.Context, task *models.Task, diff string) (*models.PRSnapshot, error) {
	owner, repo, err := splitRepo(task.RepoFullName)
	if err != nil {
		return nil, err
	}

	title, body := w.generateOrFallback(ctx, task.Prompt, diff)

	if task.PullRequestNumber == 0 {
		return w.create(ctx, task, owner, repo, title, body)
	}
	return w.update(ctx, task, owner, repo, title, body)
}

func (w *Worker) generateOrFallback(ctx context.Context, prompt, diff string) (title, body string) {
	fallbackTitle := infra.TruncateRunes(prompt, 72)
	if w.generator == nil {
		return fallbackTitle, "Automated changes from Shadow.\n\nTask prompt:\n" + prompt
	}

	title, body, err := w.generator.GeneratePRDescription(ctx, prompt, diff)
	if err != nil || strings.TrimSpace(title) == "" {
		w.log.Warn("pr description generation failed, using fallback", "error", err)
		return fallbackTitle, "Automated changes from Shadow.\n\nTask prompt:\n" + prompt
	}
	return title, body
}

func (w *Worker) create(ctx context.Context, task *models.Task, owner, repo, title, body string) (*models.PRSnapshot, error) {
	var pr *github.PullRequest
	err := retry.Do(ctx, retry.DefaultPolicy, func(ctx context.Context) error {
		draft := true
		var err error
		pr, _, err = w.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
			Title: &title,
			Head:  &task.WorkBranch,
			Base:  &task.BaseBranch,
			Body:  &body,
			Draft: &draft,
		})
		return classify(err)
	})
	if err != nil {
		return nil, fmt.Errorf("prworker: create pr: %w", err)
	}

	task.PullRequestNumber = pr.GetNumber()
	task.PullRequestURL = pr.GetHTMLURL()

	return &models.PRSnapshot{
		TaskID:       task.ID,
		Kind:         models.PRSnapshotCreated,
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		Description:  pr.GetBody(),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: pr.GetChangedFiles(),
	}, nil
}

func (w *Worker) update(ctx context.Context, task *models.Task, owner, repo, title, body string) (*models.PRSnapshot, error) {
	var pr *github.PullRequest
	err := retry.Do(ctx, retry.DefaultPolicy, func(ctx context.Context) error {
		var err error
		pr, _, err = w.client.PullRequests.Edit(ctx, owner, repo, task.PullRequestNumber, &github.PullRequest{
			Title: &title,
			Body:  &body,
		})
		return classify(err)
	})
	if err != nil {
		return nil, fmt.Errorf("prworker: update pr: %w", err)
	}

	return &models.PRSnapshot{
		TaskID:       task.ID,
		Kind:         models.PRSnapshotUpdated,
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		Description:  pr.GetBody(),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: pr.GetChangedFiles(),
	}, nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode < 500 {
		return fmt.Errorf("%w: %v", retry.ErrNotRetryable, err)
	}
	return err
}

func splitRepo(fullName string) (owner, repo string, err error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("prworker: invalid repo full name %q", fullName)
	}
	return parts[0], parts[1], nil
}
