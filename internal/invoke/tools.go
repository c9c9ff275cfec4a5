package invoke

import (
	"github.com/anthropics/anthropic-sdk-go"
)

// toolDefinitions returns the tool schemas offered to the model for
// the given capability set. These mirror the tools available in the
// CLI runtime so prompts transfer between runtimes.
func toolDefinitions(allowed []Tool) []anthropic.ToolUnionParam {
	var out []anthropic.ToolUnionParam
	for _, t := range allowed {
		switch t {
		case ToolRead:
			out = append(out, toolParam("Read",
				"Read a file from the filesystem. Returns file contents with line numbers.",
				map[string]interface{}{
					"file_path": prop("string", "Absolute path to the file to read"),
					"offset":    prop("integer", "Line number to start reading from (1-indexed, optional)"),
					"limit":     prop("integer", "Maximum number of lines to read (optional)"),
				},
				[]string{"file_path"}))
		case ToolWrite:
			out = append(out, toolParam("Write",
				"Write content to a file. Creates parent directories if needed.",
				map[string]interface{}{
					"file_path": prop("string", "Absolute path to the file to write"),
					"content":   prop("string", "Content to write to the file"),
				},
				[]string{"file_path", "content"}))
		case ToolEdit:
			out = append(out, toolParam("Edit",
				"Edit a file by replacing text. The old_string must be unique unless replace_all is true.",
				map[string]interface{}{
					"file_path":   prop("string", "Absolute path to the file to edit"),
					"old_string":  prop("string", "The exact text to find and replace"),
					"new_string":  prop("string", "The text to replace it with"),
					"replace_all": prop("boolean", "If true, replace all occurrences (default: false)"),
				},
				[]string{"file_path", "old_string", "new_string"}))
		case ToolBash, ToolBashRead:
			out = append(out, toolParam("Bash",
				"Execute a bash command and return the output.",
				map[string]interface{}{
					"command": prop("string", "The bash command to execute"),
					"timeout": prop("integer", "Timeout in milliseconds (optional, default 120000)"),
				},
				[]string{"command"}))
		case ToolGlob:
			out = append(out, toolParam("Glob",
				"Find files matching a glob pattern.",
				map[string]interface{}{
					"pattern": prop("string", "Glob pattern to match (e.g. '**/*.go')"),
					"path":    prop("string", "Directory to search in (optional, defaults to working directory)"),
				},
				[]string{"pattern"}))
		case ToolGrep:
			out = append(out, toolParam("Grep",
				"Search file contents using regex patterns.",
				map[string]interface{}{
					"pattern": prop("string", "Regex pattern to search for"),
					"path":    prop("string", "File or directory to search in (optional)"),
					"glob":    prop("string", "Glob pattern to filter files (e.g. '*.go')"),
				},
				[]string{"pattern"}))
		}
	}
	return out
}

func toolParam(name, desc string, props map[string]interface{}, required []string) anthropic.ToolUnionParam {
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String(desc),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: props,
				Required:   required,
			},
		},
	}
}

func prop(typ, desc string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": desc}
}

// allowedToolNames returns the CLI tool names for a capability set,
// used by the subprocess runtime's --allowedTools flag.
func allowedToolNames(allowed []Tool) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range allowed {
		name := string(t)
		if t == ToolBashRead {
			name = string(ToolBash)
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
