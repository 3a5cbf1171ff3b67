package kernel

import (
	"fmt"

	"github.com/shadow-org/shadow/internal/llm"
	"github.com/shadow-org/shadow/pkg/models"
)

// nativeToolSpecs describes the tool surface every turn offers the model:
// the Tool Executor's file/shell/search operations (internal/tools.Executor,
// dispatched either locally or to the sandbox sidecar) plus the kernel's own
// todo_write handler. Schemas mirror the input structs each tool unmarshals
// in internal/tools/local.go exactly, so a well-formed call from the model
// never fails LocalExecutor/RemoteExecutor's own json.Unmarshal.
func nativeToolSpecs() []llm.ToolSpec {
	return []llm.ToolSpec{
		{
			Name:        "read_file",
			Description: "Read a file from the workspace, optionally restricted to a line range.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":       map[string]any{"type": "string"},
					"start_line": map[string]any{"type": "integer", "description": "1-indexed, inclusive; omit for the start of the file"},
					"end_line":   map[string]any{"type": "integer", "description": "1-indexed, inclusive; omit for the end of the file"},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "write_file",
			Description: "Write a file in the workspace, creating it (and any parent directories) if it doesn't exist.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"path", "content"},
			},
		},
		{
			Name:        "search_replace",
			Description: "Replace one exact, uniquely-occurring text span in a file. Fails if the search text occurs zero or more than one times.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"search":  map[string]any{"type": "string"},
					"replace": map[string]any{"type": "string"},
				},
				"required": []string{"path", "search", "replace"},
			},
		},
		{
			Name:        "delete_file",
			Description: "Delete a file from the workspace.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []string{"path"},
			},
		},
		{
			Name:        "list_directory",
			Description: "List the entries of a directory in the workspace.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []string{"path"},
			},
		},
		{
			Name:        "grep_search",
			Description: "Search workspace text files for a substring pattern, optionally scoped to a path.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pattern": map[string]any{"type": "string"},
					"path":    map[string]any{"type": "string", "description": "defaults to the workspace root"},
				},
				"required": []string{"pattern"},
			},
		},
		{
			Name:        "search_files",
			Description: "Fuzzy-search workspace file paths by name.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			},
		},
		{
			Name:        "run_terminal_cmd",
			Description: "Run a shell command in the workspace, in the foreground (with a timeout) or backgrounded for later polling with check_background_job.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command":      map[string]any{"type": "string"},
					"is_background": map[string]any{"type": "boolean"},
					"timeout":      map[string]any{"type": "integer", "description": "seconds; 0 uses the executor default"},
				},
				"required": []string{"command"},
			},
		},
		{
			Name:        "check_background_job",
			Description: "Poll a backgrounded run_terminal_cmd job for its current output and exit status.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"job_id": map[string]any{"type": "string"}},
				"required":   []string{"job_id"},
			},
		},
		{
			Name:        "git_status",
			Description: "Show the workspace's git status (porcelain).",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        "git_diff",
			Description: "Show the workspace's git diff against an optional base ref.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"base": map[string]any{"type": "string"}},
			},
		},
		{
			Name:        "web_search",
			Description: "Search the web. Only available when the task is running in a remote sandbox.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			},
		},
		{
			Name:        "semantic_search",
			Description: "Search the repository's codebase index by meaning rather than exact text. Only available once the index is ready.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			},
		},
		{
			Name:        todoWriteTool,
			Description: "Replace the task's working plan with an updated ordered list of todo items.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"todos": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"id":      map[string]any{"type": "string"},
								"content": map[string]any{"type": "string"},
								"status":  map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "completed", "cancelled"}},
							},
							"required": []string{"id", "content", "status"},
						},
					},
				},
				"required": []string{"todos"},
			},
		},
	}
}

// buildSystemPrompt assembles the per-turn system prompt: the repo-overview
// bootstrap spec.md §4.8.1 describes (task identity, repo, and branches the
// sandbox has checked out) plus fixed operating instructions for the tool
// surface above. Unlike the optional persisted repo-overview/memory system
// messages spec.md describes, this one is cheap to regenerate every turn
// from fields already on the Task, so it is not itself persisted to the
// message log.
func buildSystemPrompt(task *models.Task) string {
	return fmt.Sprintf(
		"You are Shadow, an autonomous coding agent working in a sandboxed clone of %s.\n"+
			"Base branch: %s. Your working branch: %s.\n"+
			"Task: %s\n\n"+
			"Use the provided tools to read and edit files, search the workspace, and run "+
			"shell commands; use todo_write to keep your working plan current. Make the "+
			"smallest change that satisfies the task, verify it, and stop once you are done -- "+
			"your changes are committed and pushed automatically when your turn ends.",
		task.RepoFullName, task.BaseBranch, task.WorkBranch, task.Prompt,
	)
}
