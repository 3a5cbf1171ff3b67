// Package gitworker implements the Git Worker (C4): committing a task's
// sandbox working tree and pushing it to the task's work branch by shelling
// out to the git CLI with a context-bound exec.CommandContext, captured
// output, and a timeout.
package gitworker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/shadow-org/shadow/internal/infra"
	"github.com/shadow-org/shadow/internal/retry"
)

const (
	commitAuthorName  = "Shadow"
	commitAuthorEmail = "shadow@users.noreply.github.com"
	maxSubjectLen     = 50
)

// CommitMessageGenerator produces a short commit subject from a diff. In
// production this is a process-scoped minigen.Generator backed by a mini
// model; tests supply a deterministic stand-in.
type CommitMessageGenerator interface {
	GenerateCommitMessage(ctx context.Context, diff string) (string, error)
}

// Worker drives git operations in a task's sandbox working tree.
type Worker struct {
	log       *slog.Logger
	generator CommitMessageGenerator
}

// New returns a Worker. generator may be nil, in which case commits always
// use the fallback message.
func New(generator CommitMessageGenerator, logger *slog.Logger) *Worker {
	return &Worker{log: logger, generator: generator}
}

// CoAuthorIdentity formats a task owner's id as a "Name <email>" git trailer
// identity. The kernel only carries an opaque user id, not a real display
// name or address, so the email half is synthesized the same way GitHub
// does for accounts that keep their address private.
func CoAuthorIdentity(userID string) string {
	if userID == "" {
		return ""
	}
	return fmt.Sprintf("%s <%s@users.noreply.github.com>", userID, userID)
}

func (w *Worker) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, out.String())
	}
	return out.String(), nil
}

// HasChanges reports whether the working tree has anything to commit,
// using `git status --porcelain`.
func (w *Worker) HasChanges(ctx context.Context, dir string) (bool, error) {
	out, err := w.run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("gitworker: status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// EnsureBranch checks out work branch, creating it from base if it doesn't
// exist yet.
func (w *Worker) EnsureBranch(ctx context.Context, dir, base, work string) error {
	if _, err := w.run(ctx, dir, "rev-parse", "--verify", work); err == nil {
		_, err := w.run(ctx, dir, "checkout", work)
		return err
	}
	if _, err := w.run(ctx, dir, "checkout", "-b", work, base); err != nil {
		return fmt.Errorf("gitworker: create branch %s: %w", work, err)
	}
	return nil
}

// CommitAndPush stages all changes, generates (or falls back to) a commit
// message, commits with Shadow as author and pushes. coAuthor, if set, must
// already be a valid "Name <email>" git trailer identity (see
// CoAuthorIdentity) and is recorded as a Co-authored-by trailer. A push
// failure is returned to the caller but is non-fatal to the task: the spec
// treats publish failure as retry-on-next-turn, not a hard error.
func (w *Worker) CommitAndPush(ctx context.Context, dir, branch, coAuthor string) (pushed bool, err error) {
	dirty, err := w.HasChanges(ctx, dir)
	if err != nil {
		return false, err
	}
	if !dirty {
		return false, nil
	}

	if _, err := w.run(ctx, dir, "add", "-A"); err != nil {
		return false, fmt.Errorf("gitworker: add: %w", err)
	}

	diff, _ := w.run(ctx, dir, "diff", "--cached", "--stat")
	subject := w.commitMessage(ctx, diff)

	commitArgs := []string{
		"commit",
		"--author", fmt.Sprintf("%s <%s>", commitAuthorName, commitAuthorEmail),
		"-m", subject,
	}
	if coAuthor != "" {
		commitArgs[len(commitArgs)-1] = subject + "\n\nCo-authored-by: " + coAuthor
	}
	if _, err := w.run(ctx, dir, commitArgs...); err != nil {
		return false, fmt.Errorf("gitworker: commit: %w", err)
	}

	pushErr := retry.Do(ctx, retry.DefaultPolicy, func(ctx context.Context) error {
		_, err := w.run(ctx, dir, "push", "-u", "origin", branch)
		return err
	})
	if pushErr != nil {
		w.log.Warn("push failed, will retry on next turn", "branch", branch, "error", pushErr)
		return false, pushErr
	}
	return true, nil
}

func (w *Worker) commitMessage(ctx context.Context, diff string) string {
	fallback := "Update files"

	if w.generator == nil {
		return fallback
	}

	genCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	msg, err := w.generator.GenerateCommitMessage(genCtx, diff)
	if err != nil || strings.TrimSpace(msg) == "" {
		w.log.Warn("commit message generation failed, using fallback", "error", err)
		return fallback
	}
	msg = strings.TrimSpace(strings.SplitN(msg, "\n", 2)[0])
	return infra.TruncateRunes(msg, maxSubjectLen)
}
