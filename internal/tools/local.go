package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LocalExecutor runs tools directly against a workspace directory on the
// host: context-bound exec.CommandContext with captured stdout/stderr and a
// hard timeout. It is the "local" half of the Tool Executor contract --
// everything the remote sidecar exposes over HTTP, this instead performs
// in-process against WorkspaceRoot.
type LocalExecutor struct {
	WorkspaceRoot string
	ShellTimeout  time.Duration

	mu         sync.Mutex
	background map[string]*backgroundJob
}

type backgroundJob struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
	done   bool
	exit   int
}

// NewLocalExecutor returns a LocalExecutor rooted at workspaceRoot.
func NewLocalExecutor(workspaceRoot string) *LocalExecutor {
	return &LocalExecutor{
		WorkspaceRoot: workspaceRoot,
		ShellTimeout:  2 * time.Minute,
		background:    make(map[string]*backgroundJob),
	}
}

func (e *LocalExecutor) Execute(ctx context.Context, name string, input json.RawMessage) (Result, error) {
	switch name {
	case "read_file":
		return e.readFile(input)
	case "write_file":
		return e.writeFile(input)
	case "search_replace":
		return e.searchReplace(input)
	case "delete_file":
		return e.deleteFile(input)
	case "list_directory":
		return e.listDirectory(input)
	case "grep_search":
		return e.grepSearch(input)
	case "search_files":
		return e.searchFiles(input)
	case "run_terminal_cmd":
		return e.runTerminal(ctx, input)
	case "check_background_job":
		return e.checkBackgroundJob(input)
	case "git_status":
		return e.gitStatus(ctx)
	case "git_diff":
		return e.gitDiff(ctx, input)
	case "web_search":
		return Result{Success: false, Message: "web_search requires a remote sandbox sidecar; not available to the local executor"}, nil
	case "semantic_search":
		return Result{Success: false, Message: "semantic_search requires the codebase index, out of this kernel's scope"}, nil
	default:
		return Result{Success: false, Message: fmt.Sprintf("unknown tool %q", name)}, nil
	}
}

func (e *LocalExecutor) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	abs := filepath.Join(e.WorkspaceRoot, clean)
	if !strings.HasPrefix(abs, filepath.Clean(e.WorkspaceRoot)+string(filepath.Separator)) && abs != filepath.Clean(e.WorkspaceRoot) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return abs, nil
}

type readFileInput struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line,omitempty"` // 1-indexed, inclusive; 0 means "from the start"
	EndLine   int    `json:"end_line,omitempty"`   // 1-indexed, inclusive; 0 means "to the end"
}

func (e *LocalExecutor) readFile(input json.RawMessage) (Result, error) {
	var in readFileInput
	if err := json.Unmarshal(input, &in); err != nil {
		return Result{Success: false, Message: "invalid input: " + err.Error()}, nil
	}
	abs, err := e.resolve(in.Path)
	if err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}

	content := string(data)
	if in.StartLine > 0 || in.EndLine > 0 {
		lines := strings.Split(content, "\n")
		start := in.StartLine - 1
		if start < 0 {
			start = 0
		}
		end := in.EndLine
		if end == 0 || end > len(lines) {
			end = len(lines)
		}
		if start > end {
			start = end
		}
		content = strings.Join(lines[start:end], "\n")
	}

	payload, _ := json.Marshal(map[string]string{"content": content})
	return Result{Success: true, Data: payload}, nil
}

type writeFileInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (e *LocalExecutor) writeFile(input json.RawMessage) (Result, error) {
	var in writeFileInput
	if err := json.Unmarshal(input, &in); err != nil {
		return Result{Success: false, Message: "invalid input: " + err.Error()}, nil
	}
	abs, err := e.resolve(in.Path)
	if err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}
	if err := os.WriteFile(abs, []byte(in.Content), 0o644); err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}
	return Result{Success: true}, nil
}

type searchReplaceInput struct {
	Path   string `json:"path"`
	Search string `json:"search"`
	Replace string `json:"replace"`
}

// searchReplace requires Search to occur exactly once in the file: zero
// matches means nothing to anchor the edit to, and more than one means the
// edit is ambiguous about which occurrence the caller intended.
func (e *LocalExecutor) searchReplace(input json.RawMessage) (Result, error) {
	var in searchReplaceInput
	if err := json.Unmarshal(input, &in); err != nil {
		return Result{Success: false, Message: "invalid input: " + err.Error()}, nil
	}
	abs, err := e.resolve(in.Path)
	if err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}

	content := string(data)
	count := strings.Count(content, in.Search)
	if count == 0 {
		return Result{Success: false, Message: "search text not found in file"}, nil
	}
	if count > 1 {
		return Result{Success: false, Message: fmt.Sprintf("search text is ambiguous: matched %d times, expected exactly 1", count)}, nil
	}

	updated := strings.Replace(content, in.Search, in.Replace, 1)
	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}
	return Result{Success: true}, nil
}

type deleteFileInput struct {
	Path string `json:"path"`
}

func (e *LocalExecutor) deleteFile(input json.RawMessage) (Result, error) {
	var in deleteFileInput
	if err := json.Unmarshal(input, &in); err != nil {
		return Result{Success: false, Message: "invalid input: " + err.Error()}, nil
	}
	abs, err := e.resolve(in.Path)
	if err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}
	if err := os.Remove(abs); err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}
	return Result{Success: true}, nil
}

type listDirectoryInput struct {
	Path string `json:"path"`
}

func (e *LocalExecutor) listDirectory(input json.RawMessage) (Result, error) {
	var in listDirectoryInput
	if err := json.Unmarshal(input, &in); err != nil {
		return Result{Success: false, Message: "invalid input: " + err.Error()}, nil
	}
	abs, err := e.resolve(in.Path)
	if err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}

	type entry struct {
		Name  string `json:"name"`
		IsDir bool   `json:"is_dir"`
	}
	out := make([]entry, 0, len(entries))
	for _, ent := range entries {
		out = append(out, entry{Name: ent.Name(), IsDir: ent.IsDir()})
	}
	payload, _ := json.Marshal(map[string]any{"entries": out})
	return Result{Success: true, Data: payload}, nil
}

type grepSearchInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"` // defaults to the workspace root
}

type grepMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

const maxSearchResults = 200

// grepSearch does a plain substring scan over workspace text files rather
// than shelling out to the system `grep`, so it behaves identically on
// every platform the kernel runs on.
func (e *LocalExecutor) grepSearch(input json.RawMessage) (Result, error) {
	var in grepSearchInput
	if err := json.Unmarshal(input, &in); err != nil {
		return Result{Success: false, Message: "invalid input: " + err.Error()}, nil
	}
	if in.Pattern == "" {
		return Result{Success: false, Message: "pattern is required"}, nil
	}
	root, err := e.resolve(in.Path)
	if err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}

	var matches []grepMatch
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries rather than aborting the whole search
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= maxSearchResults {
			return nil
		}
		f, openErr := os.Open(path)
		if openErr != nil {
			return nil
		}
		defer f.Close()

		rel, _ := filepath.Rel(e.WorkspaceRoot, path)
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			if strings.Contains(scanner.Text(), in.Pattern) {
				matches = append(matches, grepMatch{Path: rel, Line: lineNo, Text: scanner.Text()})
				if len(matches) >= maxSearchResults {
					break
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return Result{Success: false, Message: walkErr.Error()}, nil
	}

	payload, _ := json.Marshal(map[string]any{"matches": matches, "truncated": len(matches) >= maxSearchResults})
	return Result{Success: true, Data: payload}, nil
}

type searchFilesInput struct {
	Query string `json:"query"`
}

type fileMatch struct {
	Path  string `json:"path"`
	Score int    `json:"score"`
}

// searchFiles does fuzzy filename matching: every query character must
// appear in the candidate path in order, scored by how tightly packed the
// matched characters are so "tighter" matches rank first.
func (e *LocalExecutor) searchFiles(input json.RawMessage) (Result, error) {
	var in searchFilesInput
	if err := json.Unmarshal(input, &in); err != nil {
		return Result{Success: false, Message: "invalid input: " + err.Error()}, nil
	}
	query := strings.ToLower(in.Query)
	if query == "" {
		return Result{Success: false, Message: "query is required"}, nil
	}

	var matches []fileMatch
	walkErr := filepath.WalkDir(e.WorkspaceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(e.WorkspaceRoot, path)
		if score, ok := fuzzyScore(query, strings.ToLower(rel)); ok {
			matches = append(matches, fileMatch{Path: rel, Score: score})
		}
		return nil
	})
	if walkErr != nil {
		return Result{Success: false, Message: walkErr.Error()}, nil
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score < matches[j].Score })
	if len(matches) > maxSearchResults {
		matches = matches[:maxSearchResults]
	}

	payload, _ := json.Marshal(map[string]any{"matches": matches})
	return Result{Success: true, Data: payload}, nil
}

// fuzzyScore reports whether every rune of query appears in candidate in
// order, and if so a score equal to the span consumed (lower is tighter,
// hence better).
func fuzzyScore(query, candidate string) (int, bool) {
	qi := 0
	first, last := -1, -1
	for i, r := range candidate {
		if qi >= len(query) {
			break
		}
		if rune(query[qi]) == r {
			if first == -1 {
				first = i
			}
			last = i
			qi++
		}
	}
	if qi < len(query) {
		return 0, false
	}
	return last - first, true
}

func (e *LocalExecutor) gitStatus(ctx context.Context) (Result, error) {
	out, err := e.runGit(ctx, "status", "--porcelain")
	if err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}
	payload, _ := json.Marshal(map[string]string{"status": out})
	return Result{Success: true, Data: payload}, nil
}

type gitDiffInput struct {
	Base string `json:"base,omitempty"`
}

func (e *LocalExecutor) gitDiff(ctx context.Context, input json.RawMessage) (Result, error) {
	var in gitDiffInput
	_ = json.Unmarshal(input, &in)

	args := []string{"diff"}
	if in.Base != "" {
		args = append(args, in.Base)
	}
	out, err := e.runGit(ctx, args...)
	if err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}
	payload, _ := json.Marshal(map[string]string{"diff": out})
	return Result{Success: true, Data: payload}, nil
}

func (e *LocalExecutor) runGit(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = e.WorkspaceRoot
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, out.String())
	}
	return out.String(), nil
}

type runTerminalInput struct {
	Command     string `json:"command"`
	IsBackground bool  `json:"is_background,omitempty"`
	Timeout     int    `json:"timeout,omitempty"` // seconds; 0 uses the executor default
}

func (e *LocalExecutor) runTerminal(ctx context.Context, input json.RawMessage) (Result, error) {
	var in runTerminalInput
	if err := json.Unmarshal(input, &in); err != nil {
		return Result{Success: false, Message: "invalid input: " + err.Error()}, nil
	}

	if in.IsBackground {
		return e.runBackground(in.Command)
	}

	timeout := e.ShellTimeout
	if in.Timeout > 0 {
		timeout = time.Duration(in.Timeout) * time.Second
	}
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "bash", "-lc", in.Command)
	cmd.Dir = e.WorkspaceRoot
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	payload, _ := json.Marshal(map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": cmd.ProcessState.ExitCode(),
	})

	if runErr != nil && cctx.Err() != nil {
		return Result{Success: false, Message: "command timed out", Data: payload}, nil
	}
	if runErr != nil {
		return Result{Success: false, Message: runErr.Error(), Data: payload}, nil
	}
	return Result{Success: true, Data: payload}, nil
}

// runBackground starts cmd detached from the calling tool call's context: a
// background command is never awaited. Its output is buffered in-process
// and retrievable by job id via check_background_job.
func (e *LocalExecutor) runBackground(command string) (Result, error) {
	cmd := exec.Command("bash", "-lc", command)
	cmd.Dir = e.WorkspaceRoot
	job := &backgroundJob{cmd: cmd}
	cmd.Stdout = &job.stdout
	cmd.Stderr = &job.stderr

	if err := cmd.Start(); err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}

	jobID := strconv.Itoa(cmd.Process.Pid)
	e.mu.Lock()
	e.background[jobID] = job
	e.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		e.mu.Lock()
		job.done = true
		job.exit = cmd.ProcessState.ExitCode()
		e.mu.Unlock()
	}()

	payload, _ := json.Marshal(map[string]any{"job_id": jobID})
	return Result{Success: true, Data: payload}, nil
}

type checkBackgroundJobInput struct {
	JobID string `json:"job_id"`
}

func (e *LocalExecutor) checkBackgroundJob(input json.RawMessage) (Result, error) {
	var in checkBackgroundJobInput
	if err := json.Unmarshal(input, &in); err != nil {
		return Result{Success: false, Message: "invalid input: " + err.Error()}, nil
	}

	e.mu.Lock()
	job, ok := e.background[in.JobID]
	e.mu.Unlock()
	if !ok {
		return Result{Success: false, Message: fmt.Sprintf("no background job %q", in.JobID)}, nil
	}

	e.mu.Lock()
	payload, _ := json.Marshal(map[string]any{
		"done":      job.done,
		"exit_code": job.exit,
		"stdout":    job.stdout.String(),
		"stderr":    job.stderr.String(),
	})
	e.mu.Unlock()
	return Result{Success: true, Data: payload}, nil
}

var _ Executor = (*LocalExecutor)(nil)
