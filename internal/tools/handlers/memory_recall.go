// Package handlers implements the concrete tool bodies the model calls
// (spec §4.9): memory_recall, memory_save, semantic_search, run_command,
// and subagent_run. Each constructor returns a *tools.Tool bound to one
// store/retriever/session, grounded on the teacher's per-tool-file layout
// in internal/tools/shell.
package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"kaioken/internal/retrieval"
	"kaioken/internal/tools"
	"kaioken/internal/types"
)

// MemoryRecallTool returns the memory_recall tool bound to the given
// retriever, per spec §6's schema: {query, memory_type?, limit?}.
func MemoryRecallTool(r *retrieval.Retriever) *tools.Tool {
	return &tools.Tool{
		Name:        "memory_recall",
		Description: "Recall project memories relevant to a query",
		Kind:        tools.KindPure,
		Schema: tools.Schema{
			Required: []string{"query"},
			Properties: map[string]tools.Property{
				"query":       {Type: "string", Description: "What to recall"},
				"memory_type": {Type: "string", Description: "Restrict to one memory kind", Enum: kindEnum()},
				"limit":       {Type: "number", Description: "Maximum memories to return", Default: types.DefaultMaxRetrievalCount},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if strings.TrimSpace(query) == "" {
				return "", fmt.Errorf("query must not be empty")
			}

			req := retrieval.Request{Query: query, N: types.DefaultMaxRetrievalCount}
			if lim, ok := asInt(args["limit"]); ok && lim > 0 {
				req.N = lim
			}
			if mt, ok := args["memory_type"].(string); ok && mt != "" {
				kind, err := types.ParseMemoryKind(mt)
				if err != nil {
					return "", err
				}
				req.KindFilter = &kind
			}

			memories, err := r.Retrieve(ctx, req)
			if err != nil {
				return "", fmt.Errorf("memory recall failed: %w", err)
			}
			if len(memories) == 0 {
				return "No relevant memories found.", nil
			}

			var sb strings.Builder
			for _, m := range memories {
				fmt.Fprintf(&sb, "- [%s] %s\n", m.Kind, m.Content)
			}
			return sb.String(), nil
		},
	}
}

func kindEnum() []any {
	return []any{
		string(types.KindFact), string(types.KindPattern), string(types.KindDecision),
		string(types.KindLesson), string(types.KindPreference), string(types.KindLocation),
	}
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}
