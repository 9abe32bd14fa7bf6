package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"kaioken/internal/store"
	"kaioken/internal/tools"
	"kaioken/internal/types"
)

// MemorySaveTool returns the memory_save tool bound to the given store,
// per spec §6's schema: {memory_type, content, context?, source_file?}.
func MemorySaveTool(s *store.MemoryStore) *tools.Tool {
	return &tools.Tool{
		Name:        "memory_save",
		Description: "Explicitly save a project memory",
		Kind:        tools.KindPure,
		Schema: tools.Schema{
			Required: []string{"memory_type", "content"},
			Properties: map[string]tools.Property{
				"memory_type": {Type: "string", Description: "One of fact/pattern/decision/lesson/preference/location", Enum: kindEnum()},
				"content":     {Type: "string", Description: "The memory's content"},
				"context":     {Type: "string", Description: "Why this memory matters"},
				"source_file": {Type: "string", Description: "File this memory was derived from, if any"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			memType, _ := args["memory_type"].(string)
			content, _ := args["content"].(string)
			if strings.TrimSpace(content) == "" {
				return "", fmt.Errorf("content must not be empty")
			}

			kind, err := types.ParseMemoryKind(memType)
			if err != nil {
				return "", err
			}

			m := types.NewMemory(uuid.NewString(), kind, content)
			if ctxStr, ok := args["context"].(string); ok {
				m.Context = ctxStr
			}
			if sf, ok := args["source_file"].(string); ok {
				m.SourceFile = sf
			}

			if err := s.Insert(ctx, m); err != nil {
				return "", fmt.Errorf("memory save failed: %w", err)
			}
			return fmt.Sprintf("saved %s memory %s", kind, m.ID), nil
		},
	}
}
