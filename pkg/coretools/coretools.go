// Package coretools provides workspace file tools that the command-line host
// registers alongside execute_code. Every path is confined to the workspace
// root, and the write tools support preview.
package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harun/hostpilot/pkg/toolexecutor"
)

const defaultReadLimit = 200000

// ErrOutsideWorkspace is returned for paths that escape the workspace root
var ErrOutsideWorkspace = errors.New("path is outside workspace root")

// Options configures core tool registration.
type Options struct {
	WorkspaceRoot string
}

// Definitions returns the core tool definitions bound to opts.
func Definitions(opts Options) []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		listFilesTool(opts),
		readFileTool(opts),
		writeFileTool(opts),
		editFileTool(opts),
	}
}

// RegisterCoreTools registers the workspace file tools.
func RegisterCoreTools(executor *toolexecutor.ToolExecutor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	if strings.TrimSpace(opts.WorkspaceRoot) == "" {
		return errors.New("workspace root is required")
	}

	for _, tool := range Definitions(opts) {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func listFilesTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "list_files",
		Description: "List entries of a workspace directory, directories first.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Relative directory path (default: workspace root)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			pathValue, _ := params["path"].(string)
			if strings.TrimSpace(pathValue) == "" {
				pathValue = "."
			}
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return nil, err
			}

			entries, err := os.ReadDir(target)
			if err != nil {
				return nil, err
			}
			sort.SliceStable(entries, func(i, j int) bool {
				if entries[i].IsDir() != entries[j].IsDir() {
					return entries[i].IsDir()
				}
				return entries[i].Name() < entries[j].Name()
			})

			if len(entries) == 0 {
				return "(empty)", nil
			}
			var b strings.Builder
			for _, e := range entries {
				if e.IsDir() {
					fmt.Fprintf(&b, "%s/\n", e.Name())
					continue
				}
				size := int64(-1)
				if info, err := e.Info(); err == nil {
					size = info.Size()
				}
				fmt.Fprintf(&b, "%s (%d bytes)\n", e.Name(), size)
			}
			return b.String(), nil
		},
	}
}

func readFileTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file from the workspace.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "max_bytes", Type: "integer", Description: "Maximum bytes to read (default 200000)", Required: false, Default: defaultReadLimit},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			pathValue, _ := params["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return nil, err
			}

			maxBytes := int64(defaultReadLimit)
			if raw, ok := params["max_bytes"].(float64); ok && raw > 0 {
				maxBytes = int64(raw)
			}

			data, truncated, err := readFileWithLimit(target, maxBytes)
			if err != nil {
				return nil, err
			}
			if truncated {
				return string(data) + "\n[truncated]", nil
			}
			return string(data), nil
		},
	}
}

func writeFileTool(opts Options) toolexecutor.ToolDefinition {
	plan := func(params map[string]any) (string, string, bool, error) {
		pathValue, _ := params["path"].(string)
		target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
		if err != nil {
			return "", "", false, err
		}
		content, _ := params["content"].(string)
		appendMode, _ := params["append"].(bool)
		return target, content, appendMode, nil
	}

	return toolexecutor.ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file in the workspace.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "content", Type: "string", Description: "File content", Required: true},
			{Name: "append", Type: "boolean", Description: "Append to file (default false)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			target, content, appendMode, err := plan(params)
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, err
			}

			flag := os.O_CREATE | os.O_WRONLY
			if appendMode {
				flag |= os.O_APPEND
			} else {
				flag |= os.O_TRUNC
			}
			f, err := os.OpenFile(target, flag, 0o644)
			if err != nil {
				return nil, err
			}
			if _, err := f.WriteString(content); err != nil {
				f.Close()
				return nil, err
			}
			if err := f.Close(); err != nil {
				return nil, err
			}

			verb := "wrote"
			if appendMode {
				verb = "appended"
			}
			return fmt.Sprintf("%s %d bytes to %s", verb, len(content), relPath(opts.WorkspaceRoot, target)), nil
		},
		Preview: func(ctx context.Context, params map[string]any) (any, error) {
			target, content, appendMode, err := plan(params)
			if err != nil {
				return nil, err
			}
			rel := relPath(opts.WorkspaceRoot, target)
			info, statErr := os.Stat(target)
			switch {
			case statErr != nil:
				return fmt.Sprintf("would create %s with %d bytes", rel, len(content)), nil
			case appendMode:
				return fmt.Sprintf("would append %d bytes to %s (%d bytes)", len(content), rel, info.Size()), nil
			default:
				return fmt.Sprintf("would overwrite %s (%d bytes) with %d bytes", rel, info.Size(), len(content)), nil
			}
		},
	}
}

type edit struct {
	target      string
	updated     string
	occurrences int
}

func editFileTool(opts Options) toolexecutor.ToolDefinition {
	plan := func(params map[string]any) (edit, error) {
		pathValue, _ := params["path"].(string)
		target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
		if err != nil {
			return edit{}, err
		}
		search, _ := params["search"].(string)
		replace, _ := params["replace"].(string)
		replaceAll, _ := params["replace_all"].(bool)
		if search == "" {
			return edit{}, fmt.Errorf("search is required")
		}

		data, err := os.ReadFile(target)
		if err != nil {
			return edit{}, err
		}
		content := string(data)

		e := edit{target: target}
		if replaceAll {
			e.occurrences = strings.Count(content, search)
			e.updated = strings.ReplaceAll(content, search, replace)
		} else if idx := strings.Index(content, search); idx >= 0 {
			e.occurrences = 1
			e.updated = content[:idx] + replace + content[idx+len(search):]
		}
		if e.occurrences == 0 {
			return edit{}, fmt.Errorf("search text not found")
		}
		return e, nil
	}

	return toolexecutor.ToolDefinition{
		Name:        "edit_file",
		Description: "Replace text in a workspace file.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "search", Type: "string", Description: "Text to search for", Required: true},
			{Name: "replace", Type: "string", Description: "Replacement text", Required: true},
			{Name: "replace_all", Type: "boolean", Description: "Replace all occurrences (default false)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			e, err := plan(params)
			if err != nil {
				return nil, err
			}
			if err := os.WriteFile(e.target, []byte(e.updated), 0o644); err != nil {
				return nil, err
			}
			return fmt.Sprintf("replaced %d occurrence(s) in %s", e.occurrences, relPath(opts.WorkspaceRoot, e.target)), nil
		},
		Preview: func(ctx context.Context, params map[string]any) (any, error) {
			e, err := plan(params)
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("would replace %d occurrence(s) in %s", e.occurrences, relPath(opts.WorkspaceRoot, e.target)), nil
		},
	}
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	if limit <= 0 {
		limit = defaultReadLimit
	}
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, file, limit); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}
	extra := make([]byte, 1)
	n, _ := file.Read(extra)
	return buf.Bytes(), n > 0, nil
}

func resolvePathInWorkspace(workspaceRoot string, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}
	root := filepath.Clean(workspaceRoot)
	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideWorkspace, pathValue)
	}
	return candidate, nil
}

func relPath(root, target string) string {
	rel, err := filepath.Rel(filepath.Clean(root), target)
	if err != nil {
		return target
	}
	return rel
}
