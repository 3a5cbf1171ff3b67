// Package tools implements the Tool Executor (C2): the uniform interface
// the Task Stream Kernel calls to run a tool call part, backed by either a
// local (host filesystem) implementation or a remote (sandbox sidecar over
// HTTP) implementation. Both satisfy Executor and never throw across the
// interface boundary -- every failure, including "tool doesn't exist,"
// comes back as a Result with Success=false.
package tools

import (
	"context"
	"encoding/json"
)

// Result is the uniform, tagged outcome of one tool invocation.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Executor runs a single named tool with the given JSON-encoded input.
type Executor interface {
	Execute(ctx context.Context, name string, input json.RawMessage) (Result, error)
}

// Dispatch picks the Local executor when addr is empty (no sandbox attached
// yet, e.g. while the sandbox is still provisioning) and the Remote executor
// otherwise.
func Dispatch(local *LocalExecutor, remote *RemoteExecutor, sandboxAddr string) Executor {
	if sandboxAddr == "" {
		return local
	}
	return remote
}
