package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kaioken/internal/types"
)

var memoryKindFlag string

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and manage the workspace's persistent memory store",
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored memories, optionally filtered by kind",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context(), workspace)
		if err != nil {
			return err
		}
		defer rt.close()

		ctx := cmd.Context()
		if memoryKindFlag != "" {
			kind, err := types.ParseMemoryKind(memoryKindFlag)
			if err != nil {
				return err
			}
			mems, err := rt.memStore.GetByKind(ctx, kind)
			if err != nil {
				return fmt.Errorf("list memories: %w", err)
			}
			printMemories(mems)
			return nil
		}

		mems, err := rt.memStore.GetTop(ctx, rt.cfg.Memory.MaxRetrievalCount)
		if err != nil {
			return fmt.Errorf("list memories: %w", err)
		}
		printMemories(mems)
		return nil
	},
}

var memoryPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove memories below the configured minimum importance threshold",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context(), workspace)
		if err != nil {
			return err
		}
		defer rt.close()

		n, err := rt.memStore.PruneLowImportance(cmd.Context(), rt.cfg.Memory.MinImportanceThreshold)
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		fmt.Fprintf(os.Stdout, "pruned %d memories below importance %.2f\n", n, rt.cfg.Memory.MinImportanceThreshold)
		return nil
	},
}

var memoryDecayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Apply one decay cycle to decaying memory kinds",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd.Context(), workspace)
		if err != nil {
			return err
		}
		defer rt.close()

		n, err := rt.memStore.ApplyDecay(cmd.Context(), rt.cfg.Memory.DecayRate)
		if err != nil {
			return fmt.Errorf("decay: %w", err)
		}
		fmt.Fprintf(os.Stdout, "decayed %d memories at rate %.2f\n", n, rt.cfg.Memory.DecayRate)
		return nil
	},
}

func printMemories(mems []*types.Memory) {
	if len(mems) == 0 {
		fmt.Fprintln(os.Stdout, "(no memories)")
		return
	}
	for _, m := range mems {
		fmt.Fprintf(os.Stdout, "%-8s %.2f  %s\n", m.Kind, m.EffectiveImportance(), m.Content)
	}
}

func init() {
	memoryListCmd.Flags().StringVar(&memoryKindFlag, "kind", "", "restrict to one memory kind (fact|pattern|decision|lesson|preference|location)")
	memoryCmd.AddCommand(memoryListCmd, memoryPruneCmd, memoryDecayCmd)
}
