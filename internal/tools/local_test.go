package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestLocalExecutorWriteThenReadFile(t *testing.T) {
	dir := t.TempDir()
	e := NewLocalExecutor(dir)
	ctx := context.Background()

	writeInput, _ := json.Marshal(writeFileInput{Path: "notes/todo.md", Content: "- fix bug"})
	res, err := e.Execute(ctx, "write_file", writeInput)
	if err != nil || !res.Success {
		t.Fatalf("write_file failed: err=%v res=%+v", err, res)
	}

	readInput, _ := json.Marshal(readFileInput{Path: "notes/todo.md"})
	res, err = e.Execute(ctx, "read_file", readInput)
	if err != nil || !res.Success {
		t.Fatalf("read_file failed: err=%v res=%+v", err, res)
	}

	var out map[string]string
	if err := json.Unmarshal(res.Data, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if out["content"] != "- fix bug" {
		t.Fatalf("content = %q, want %q", out["content"], "- fix bug")
	}
}

func TestLocalExecutorRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	e := NewLocalExecutor(dir)
	ctx := context.Background()

	readInput, _ := json.Marshal(readFileInput{Path: "../../etc/passwd"})
	res, err := e.Execute(ctx, "read_file", readInput)
	if err != nil {
		t.Fatalf("execute returned error instead of a failed Result: %v", err)
	}
	if res.Success {
		t.Fatal("expected escape attempt to fail")
	}
}

func TestLocalExecutorUnknownTool(t *testing.T) {
	dir := t.TempDir()
	e := NewLocalExecutor(dir)
	res, err := e.Execute(context.Background(), "does_not_exist", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("execute should not error for unknown tools: %v", err)
	}
	if res.Success {
		t.Fatal("expected unknown tool to fail gracefully")
	}
}

func TestLocalExecutorRunTerminalCmd(t *testing.T) {
	dir := t.TempDir()
	e := NewLocalExecutor(dir)
	input, _ := json.Marshal(runTerminalInput{Command: "echo hello > " + filepath.Join("out.txt")})
	res, err := e.Execute(context.Background(), "run_terminal_cmd", input)
	if err != nil || !res.Success {
		t.Fatalf("run_terminal_cmd failed: err=%v res=%+v", err, res)
	}
}
