package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shadow-org/shadow/internal/retry"
)

// RemoteExecutor dispatches tool calls to the sandbox sidecar's HTTP API,
// wrapping one HTTP client per connection with retry on transient
// failures.
type RemoteExecutor struct {
	Addr       string
	HTTPClient *http.Client
	Policy     retry.Policy
}

// NewRemoteExecutor returns a RemoteExecutor that calls the sidecar at addr
// (e.g. "http://10.0.4.12:7000").
func NewRemoteExecutor(addr string) *RemoteExecutor {
	return &RemoteExecutor{
		Addr:       addr,
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
		Policy:     retry.DefaultPolicy,
	}
}

type remoteRequest struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

func (e *RemoteExecutor) Execute(ctx context.Context, name string, input json.RawMessage) (Result, error) {
	reqBody, err := json.Marshal(remoteRequest{Tool: name, Input: input})
	if err != nil {
		return Result{}, fmt.Errorf("tools: marshal request: %w", err)
	}

	var result Result
	err = retry.Do(ctx, e.Policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Addr+"/tools/execute", bytes.NewReader(reqBody))
		if err != nil {
			return fmt.Errorf("%w: build request: %v", retry.ErrNotRetryable, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.HTTPClient.Do(req)
		if err != nil {
			return err // transport failure: retryable
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("sandbox sidecar returned %d: %s", resp.StatusCode, string(body))
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("%w: sandbox sidecar returned %d: %s", retry.ErrNotRetryable, resp.StatusCode, string(body))
		}

		return json.Unmarshal(body, &result)
	})
	if err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}
	return result, nil
}

var _ Executor = (*RemoteExecutor)(nil)
