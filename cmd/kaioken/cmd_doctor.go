package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kaioken/internal/types"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the workspace configuration and print memory store stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := buildRuntime(ctx, workspace)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config/wiring error: %v\n", err)
			return err
		}
		defer rt.close()

		fmt.Fprintf(os.Stdout, "workspace:        %s\n", workspace)
		fmt.Fprintf(os.Stdout, "model provider:   %s\n", rt.cfg.Model.Provider)
		fmt.Fprintf(os.Stdout, "model:            %s\n", rt.cfg.Model.Model)
		fmt.Fprintf(os.Stdout, "approval mode:    %s\n", rt.cfg.Approval.Mode)
		fmt.Fprintf(os.Stdout, "sandbox kind:     %s\n", rt.cfg.Approval.SandboxKind)
		fmt.Fprintf(os.Stdout, "embedding:        %s\n", rt.cfg.Embedding.Provider)
		fmt.Fprintf(os.Stdout, "subagent max:     %d\n", rt.cfg.Subagent.MaxConcurrent)

		if rt.cfg.Model.APIKey == "" {
			fmt.Fprintf(os.Stdout, "warning:          no API key configured for provider %q (set %s)\n", rt.cfg.Model.Provider, apiKeyEnvVar(rt.cfg.Model.Provider))
		}

		stats, err := rt.memStore.Stats(ctx)
		if err != nil {
			return fmt.Errorf("store stats: %w", err)
		}
		fmt.Fprintf(os.Stdout, "\nmemory store:\n")
		fmt.Fprintf(os.Stdout, "  total memories:  %d\n", stats.TotalMemories)
		fmt.Fprintf(os.Stdout, "  relationships:   %d\n", stats.Relationships)
		for _, kind := range []string{"lesson", "decision", "preference", "pattern", "location", "fact"} {
			fmt.Fprintf(os.Stdout, "  %-12s %d\n", kind, stats.ByKind[types.MemoryKind(kind)])
		}

		fmt.Fprintln(os.Stdout, "\nkaioken is configured correctly.")
		return nil
	},
}

func apiKeyEnvVar(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	default:
		return "ANTHROPIC_API_KEY"
	}
}
