// Package main is the kaioken CLI entrypoint: a thin cobra driver over the
// turn-engine library, mirroring the teacher's cmd/nerd/main.go split
// between a root command with persistent global flags and a family of
// subcommands defined in sibling files (cmd_run.go, cmd_memory.go,
// cmd_doctor.go). The actual session wiring lives in runtime.go.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"kaioken/internal/logging"
)

var (
	verbose   bool
	workspace string
	preset    string
	provider  string
	modelName string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "kaioken",
	Short: "kaioken - an interactive coding-agent runtime with persistent memory",
	Long: `kaioken drives one turn engine loop at a time: it streams a model's
response, dispatches any tool calls the model requests through an
approval-gated sandbox, and extracts durable project memories from the
session as it goes.

Run without a subcommand to start an interactive session.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}

		ws, err := resolveWorkspace()
		if err != nil {
			return err
		}
		workspace = ws

		if err := logging.Initialize(workspace); err != nil {
			fmt.Fprintf(os.Stderr, "warning: file logging not initialized: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive(cmd.Context())
	},
}

func resolveWorkspace() (string, error) {
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getwd: %w", err)
		}
		return wd, nil
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("resolve workspace %q: %w", workspace, err)
	}
	return abs, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "auto", "approval preset: read-only | auto | full-access")
	rootCmd.PersistentFlags().StringVar(&provider, "provider", "", "override the configured model provider (anthropic|openai|gemini)")
	rootCmd.PersistentFlags().StringVar(&modelName, "model", "", "override the configured model slug")

	rootCmd.AddCommand(runCmd, memoryCmd, doctorCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
