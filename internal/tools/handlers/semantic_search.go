package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"kaioken/internal/logging"
	"kaioken/internal/tools"
)

const (
	searchDeadline = 120 * time.Second
	indexDeadline  = 180 * time.Second
)

// sgrepResult mirrors the external indexer's JSON output shape for one hit.
type sgrepResult struct {
	File    string  `json:"file"`
	Line    int     `json:"line"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
}

// SemanticSearchTool returns the semantic_search tool, which shells out to
// the bundled sgrep binary rather than reimplementing code search in-process
// (spec Non-goals explicitly exclude the indexer's internals).
func SemanticSearchTool() *tools.Tool {
	return &tools.Tool{
		Name:        "semantic_search",
		Description: "Search the codebase semantically via the bundled indexer",
		Kind:        tools.KindPure,
		Schema: tools.Schema{
			Required: []string{"query"},
			Properties: map[string]tools.Property{
				"query":   {Type: "string", Description: "Natural-language search query"},
				"limit":   {Type: "number", Description: "Maximum results", Default: 20},
				"path":    {Type: "string", Description: "Restrict search to this path"},
				"glob":    {Type: "string", Description: "Restrict search to files matching this glob"},
				"context": {Type: "boolean", Description: "Include surrounding lines in each result"},
				"filters": {Type: "object", Description: "Additional key/value filters passed to the indexer", AdditionalProperties: &tools.Property{Type: "string"}},
			},
		},
		Execute: executeSemanticSearch,
	}
}

func executeSemanticSearch(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("query must not be empty")
	}

	results, err := runSgrepSearch(ctx, args)
	if err != nil {
		return "", err
	}

	if len(results) == 0 {
		logging.ToolsDebug("semantic_search: no hits, reindexing and retrying once")
		if err := runSgrepIndex(ctx, args); err != nil {
			return "", fmt.Errorf("reindex failed: %w", err)
		}
		results, err = runSgrepSearch(ctx, args)
		if err != nil {
			return "", err
		}
	}

	if len(results) == 0 {
		return "No results found.", nil
	}

	var sb strings.Builder
	for _, r := range results {
		fmt.Fprintf(&sb, "%s:%d (%.2f) %s\n", r.File, r.Line, r.Score, r.Snippet)
	}
	return sb.String(), nil
}

func runSgrepSearch(ctx context.Context, args map[string]any) ([]sgrepResult, error) {
	cmdArgs := []string{"search", "--json"}
	query, _ := args["query"].(string)
	cmdArgs = append(cmdArgs, "--query", query)

	if limit, ok := asInt(args["limit"]); ok && limit > 0 {
		cmdArgs = append(cmdArgs, "--limit", fmt.Sprint(limit))
	}
	if p, ok := args["path"].(string); ok && p != "" {
		cmdArgs = append(cmdArgs, "--path", p)
	}
	if g, ok := args["glob"].(string); ok && g != "" {
		cmdArgs = append(cmdArgs, "--glob", g)
	}
	if c, ok := args["context"].(bool); ok && c {
		cmdArgs = append(cmdArgs, "--context")
	}
	if filters, ok := args["filters"].(map[string]any); ok {
		for k, v := range filters {
			if vs, ok := v.(string); ok {
				cmdArgs = append(cmdArgs, "--filter", fmt.Sprintf("%s=%s", k, vs))
			}
		}
	}

	out, err := runSgrep(ctx, searchDeadline, cmdArgs)
	if err != nil {
		return nil, err
	}

	var results []sgrepResult
	if err := json.Unmarshal(out, &results); err != nil {
		return nil, fmt.Errorf("parsing sgrep output: %w", err)
	}
	return results, nil
}

func runSgrepIndex(ctx context.Context, args map[string]any) error {
	cmdArgs := []string{"index"}
	if p, ok := args["path"].(string); ok && p != "" {
		cmdArgs = append(cmdArgs, "--path", p)
	}
	_, err := runSgrep(ctx, indexDeadline, cmdArgs)
	return err
}

func runSgrep(ctx context.Context, deadline time.Duration, cmdArgs []string) ([]byte, error) {
	execCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	binary := sgrepBinaryPath()
	cmd := exec.CommandContext(execCtx, binary, cmdArgs...)
	cmd.Env = append(os.Environ(),
		"SGREP_CPU_PRESET="+envOrDefault("KAIOKEN_SGREP_CPU_PRESET", "balanced"),
		"SGREP_DEVICE="+envOrDefault("KAIOKEN_SGREP_DEVICE", "cpu"),
		"SGREP_EMBEDDER_POOL_SIZE="+envOrDefault("KAIOKEN_SGREP_EMBEDDER_POOL_SIZE", "4"),
		"SGREP_MAX_THREADS="+envOrDefault("KAIOKEN_SGREP_MAX_THREADS", "4"),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("sgrep timed out after %s", deadline)
		}
		return nil, fmt.Errorf("sgrep failed: %w: %s", err, stderr.String())
	}

	return stdout.Bytes(), nil
}

// sgrepBinaryPath resolves the bundled indexer binary, honoring a user-home
// override (spec §6) before falling back to PATH.
func sgrepBinaryPath() string {
	home, err := os.UserHomeDir()
	if err == nil {
		candidate := filepath.Join(home, ".codex-kaioken", "bin", "sgrep")
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate
		}
	}
	return "sgrep"
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
