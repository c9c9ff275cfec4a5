package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// toolExecutor executes tool calls from the API runtime inside a
// working directory, honoring the role's capability set.
type toolExecutor struct {
	workDir  string
	allowed  map[Tool]bool
	bashRead bool
}

func newToolExecutor(workDir string, allowed []Tool) *toolExecutor {
	set := make(map[Tool]bool, len(allowed))
	bashRead := false
	for _, t := range allowed {
		set[t] = true
		if t == ToolBashRead {
			bashRead = true
		}
	}
	return &toolExecutor{workDir: workDir, allowed: set, bashRead: bashRead}
}

// toolResult is the outcome of one tool call.
type toolResult struct {
	Content string
	IsError bool
}

func errResult(format string, args ...any) toolResult {
	return toolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

// execute runs a tool by name with the given JSON input.
func (e *toolExecutor) execute(ctx context.Context, name string, input json.RawMessage) toolResult {
	switch name {
	case "Read":
		return e.guarded(ToolRead, func() toolResult { return e.execRead(input) })
	case "Write":
		return e.guarded(ToolWrite, func() toolResult { return e.execWrite(input) })
	case "Edit":
		return e.guarded(ToolEdit, func() toolResult { return e.execEdit(input) })
	case "Bash":
		return e.execBash(ctx, input)
	case "Glob":
		return e.guarded(ToolGlob, func() toolResult { return e.execGlob(input) })
	case "Grep":
		return e.guarded(ToolGrep, func() toolResult { return e.execGrep(ctx, input) })
	default:
		return errResult("unknown tool: %s", name)
	}
}

func (e *toolExecutor) guarded(t Tool, fn func() toolResult) toolResult {
	if !e.allowed[t] {
		return errResult("tool %s is not permitted for this role", t)
	}
	return fn()
}

func (e *toolExecutor) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.workDir, path)
}

func (e *toolExecutor) execRead(input json.RawMessage) toolResult {
	var params struct {
		FilePath string `json:"file_path"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errResult("invalid parameters: %v", err)
	}

	content, err := os.ReadFile(e.resolvePath(params.FilePath))
	if err != nil {
		return errResult("failed to read file: %v", err)
	}

	lines := strings.Split(string(content), "\n")
	start := 0
	if params.Offset > 0 {
		start = params.Offset - 1
		if start >= len(lines) {
			return errResult("offset beyond end of file")
		}
	}
	end := len(lines)
	if params.Limit > 0 && start+params.Limit < end {
		end = start + params.Limit
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	return toolResult{Content: b.String()}
}

func (e *toolExecutor) execWrite(input json.RawMessage) toolResult {
	var params struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errResult("invalid parameters: %v", err)
	}

	path := e.resolvePath(params.FilePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errResult("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0o644); err != nil {
		return errResult("failed to write file: %v", err)
	}
	return toolResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(params.Content), params.FilePath)}
}

func (e *toolExecutor) execEdit(input json.RawMessage) toolResult {
	var params struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errResult("invalid parameters: %v", err)
	}

	path := e.resolvePath(params.FilePath)
	content, err := os.ReadFile(path)
	if err != nil {
		return errResult("failed to read file: %v", err)
	}

	text := string(content)
	count := strings.Count(text, params.OldString)
	if count == 0 {
		return errResult("old_string not found in file")
	}
	if count > 1 && !params.ReplaceAll {
		return errResult("old_string occurs %d times; pass replace_all or make it unique", count)
	}

	var updated string
	if params.ReplaceAll {
		updated = strings.ReplaceAll(text, params.OldString, params.NewString)
	} else {
		updated = strings.Replace(text, params.OldString, params.NewString, 1)
	}
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return errResult("failed to write file: %v", err)
	}
	return toolResult{Content: fmt.Sprintf("replaced %d occurrence(s) in %s", count, params.FilePath)}
}

// writeCommands lists command prefixes the read-only bash guard
// rejects. Coarse by intent: read roles should not mutate anything.
var writeCommands = []string{
	"rm ", "mv ", "cp ", "mkdir", "touch", "chmod", "chown", "truncate",
	"tee ", "dd ", "ln ", "git add", "git commit", "git push", "git merge",
	"git checkout", "git reset", "git clean", "git branch -D", "git worktree",
}

func (e *toolExecutor) execBash(ctx context.Context, input json.RawMessage) toolResult {
	if !e.allowed[ToolBash] && !e.bashRead {
		return errResult("tool Bash is not permitted for this role")
	}

	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errResult("invalid parameters: %v", err)
	}
	if params.Command == "" {
		return errResult("command is required")
	}

	if !e.allowed[ToolBash] && e.bashRead {
		lower := strings.ToLower(params.Command)
		for _, w := range writeCommands {
			if strings.Contains(lower, w) {
				return errResult("command rejected: this role has read-only shell access")
			}
		}
		if strings.ContainsAny(params.Command, ">") {
			return errResult("command rejected: output redirection is not permitted for this role")
		}
	}

	timeout := 120 * time.Second
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "bash", "-c", params.Command)
	cmd.Dir = e.workDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return toolResult{Content: fmt.Sprintf("%s\n(error: %v)", truncateOutput(string(out)), err), IsError: true}
	}
	return toolResult{Content: truncateOutput(string(out))}
}

func (e *toolExecutor) execGlob(input json.RawMessage) toolResult {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errResult("invalid parameters: %v", err)
	}

	root := e.workDir
	if params.Path != "" {
		root = e.resolvePath(params.Path)
	}

	var matches []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		ok, _ := filepath.Match(params.Pattern, rel)
		if !ok {
			ok, _ = filepath.Match(params.Pattern, d.Name())
		}
		if ok {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return errResult("glob failed: %v", err)
	}
	if len(matches) == 0 {
		return toolResult{Content: "no files matched"}
	}
	return toolResult{Content: strings.Join(matches, "\n")}
}

func (e *toolExecutor) execGrep(ctx context.Context, input json.RawMessage) toolResult {
	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
		Glob    string `json:"glob"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return errResult("invalid parameters: %v", err)
	}

	args := []string{"-rn", "--no-color", "-e", params.Pattern}
	if params.Glob != "" {
		args = append(args, "--include", params.Glob)
	}
	target := "."
	if params.Path != "" {
		target = params.Path
	}
	args = append(args, target)

	cmd := exec.CommandContext(ctx, "grep", args...)
	cmd.Dir = e.workDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if len(out) == 0 {
			return toolResult{Content: "no matches"}
		}
		return toolResult{Content: truncateOutput(string(out)), IsError: true}
	}
	return toolResult{Content: truncateOutput(string(out))}
}

func truncateOutput(s string) string {
	const max = 30000
	if len(s) > max {
		return s[:max] + "\n... (output truncated)"
	}
	return s
}
