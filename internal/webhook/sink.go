// Package webhook implements the Webhook Sink (C10): verifying inbound
// GitHub webhook deliveries via constant-time HMAC-SHA256 comparison, and
// archiving a repository's tasks when their pull request closes.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shadow-org/shadow/internal/storage"
	"github.com/shadow-org/shadow/pkg/models"
)

// ErrInvalidSignature is returned by Verify when the signature does not
// match.
var ErrInvalidSignature = fmt.Errorf("webhook: invalid signature")

// Sink handles verified GitHub webhook deliveries.
type Sink struct {
	secret string
	store  storage.TaskStore
	log    *slog.Logger
}

// New returns a Sink that verifies deliveries against secret.
func New(secret string, store storage.TaskStore, logger *slog.Logger) *Sink {
	return &Sink{secret: secret, store: store, log: logger}
}

// Verify checks an "X-Hub-Signature-256: sha256=<hex>" header against
// body, using a constant-time comparison so response timing never leaks
// information about the correct signature.
func (s *Sink) Verify(body []byte, signatureHeader string) error {
	const prefix = "sha256="
	if !strings.HasPrefix(signatureHeader, prefix) {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, prefix))
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(body)
	want := mac.Sum(nil)

	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

type pullRequestEvent struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	Repository  struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	PullRequest struct {
		Merged bool `json:"merged"`
	} `json:"pull_request"`
}

// HandlePullRequestEvent archives every non-archived task in the event's
// repository whose pull request number matches, when the event reports the
// PR was closed. Tasks for other PRs in the same repository are untouched.
func (s *Sink) HandlePullRequestEvent(ctx context.Context, body []byte) error {
	var evt pullRequestEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("webhook: decode pull_request event: %w", err)
	}
	if evt.Action != "closed" {
		return nil
	}

	tasks, err := s.store.ListTasksByRepo(ctx, evt.Repository.FullName)
	if err != nil {
		return fmt.Errorf("webhook: list tasks: %w", err)
	}

	for _, t := range tasks {
		if t.PullRequestNumber != evt.Number {
			continue
		}
		t.Status = models.StatusArchived
		if err := s.store.UpdateTask(ctx, t); err != nil {
			return fmt.Errorf("webhook: archive task %s: %w", t.ID, err)
		}
		s.log.Info("archived task on pull request close", "task_id", t.ID, "pr_number", evt.Number, "merged", evt.PullRequest.Merged)
	}
	return nil
}
