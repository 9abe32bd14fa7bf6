package handlers

import (
	"context"
	"fmt"
	"os"

	"kaioken/internal/extract"
	"kaioken/internal/logging"
	"kaioken/internal/store"
	"kaioken/internal/tools"
)

const maxReadBytes = 200_000

// ReadFileTool returns the read_file tool: a pure (ungated) read of a
// workspace file, fed straight into the rule-based extractor's OnFileRead
// classifier so a file's inferred purpose and any recognizable pattern
// become durable memories the moment the model looks at it (spec §4.3).
func ReadFileTool(rules *extract.RuleExtractor, memStore *store.MemoryStore) *tools.Tool {
	return &tools.Tool{
		Name:        "read_file",
		Description: "Read a file from the workspace",
		Kind:        tools.KindPure,
		Schema: tools.Schema{
			Required: []string{"path"},
			Properties: map[string]tools.Property{
				"path": {Type: "string", Description: "Path to the file, relative to the workspace root"},
			},
		},
		Execute: executeReadFile(rules, memStore),
	}
}

func executeReadFile(rules *extract.RuleExtractor, memStore *store.MemoryStore) tools.ExecuteFunc {
	return func(ctx context.Context, args map[string]any) (string, error) {
		path, _ := args["path"].(string)
		if path == "" {
			return "", fmt.Errorf("path is required")
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", path, err)
		}

		content := string(data)
		if len(content) > maxReadBytes {
			content = content[:maxReadBytes] + "\n...[truncated]"
		}

		if rules != nil && memStore != nil {
			if _, err := rules.OnFileRead(ctx, memStore, extract.FileReadEvent{Path: path, Content: content}); err != nil {
				logging.ToolsDebug("read_file %s: rule extraction failed: %v", path, err)
			}
		}

		logging.Tools("read_file: %s (%d bytes)", path, len(data))
		return content, nil
	}
}

// ApplyPatchTool returns the apply_patch tool: an approval-gated full-file
// overwrite (the simplest patch semantics the turn engine's KindPatch path
// supports), feeding the written path into OnFileEdit the same way
// run_command's completion feeds OnExecComplete.
func ApplyPatchTool(rules *extract.RuleExtractor, memStore *store.MemoryStore) *tools.Tool {
	return &tools.Tool{
		Name:        "apply_patch",
		Description: "Overwrite a file in the workspace with new contents",
		Kind:        tools.KindPatch,
		Schema: tools.Schema{
			Required: []string{"path", "content"},
			Properties: map[string]tools.Property{
				"path":    {Type: "string", Description: "Path to the file, relative to the workspace root"},
				"content": {Type: "string", Description: "The file's full new contents"},
			},
		},
		Execute: executeApplyPatch(rules, memStore),
	}
}

func executeApplyPatch(rules *extract.RuleExtractor, memStore *store.MemoryStore) tools.ExecuteFunc {
	return func(ctx context.Context, args map[string]any) (string, error) {
		path, _ := args["path"].(string)
		content, _ := args["content"].(string)
		if path == "" {
			return "", fmt.Errorf("path is required")
		}

		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", path, err)
		}

		if rules != nil && memStore != nil {
			if _, err := rules.OnFileEdit(ctx, memStore, path); err != nil {
				logging.ToolsDebug("apply_patch %s: rule extraction failed: %v", path, err)
			}
		}

		logging.Tools("apply_patch: %s (%d bytes written)", path, len(content))
		return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
	}
}
