// Package config holds the workspace/session configuration loaded from
// <workspace>/.kaioken/config.json, generalizing the teacher's
// logging-only config loader (internal/logging's configFile) to every
// tunable the turn engine needs: approval mode, sandbox policy, model
// slug, reasoning effort, subagent limits, embedding provider, decay
// rate, and retrieval count (spec §10).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"kaioken/internal/logging"
)

// Config is the full session configuration.
type Config struct {
	Approval  ApprovalConfig  `json:"approval"`
	Model     ModelConfig     `json:"model"`
	Embedding EmbeddingConfig `json:"embedding"`
	Memory    MemoryConfig    `json:"memory"`
	Subagent  SubagentConfig  `json:"subagent"`
	Logging   LoggingConfig   `json:"logging"`
}

// DefaultConfig returns the configuration a fresh workspace starts with:
// the "auto" preset, a local no-network embedding engine, and the exact
// decay/prune/injection constants restored from the original
// MemoryConfig::default() (SPEC_FULL.md §13).
func DefaultConfig() *Config {
	return &Config{
		Approval: ApprovalConfig{
			Mode:        "on_request",
			SandboxKind: "workspace_write",
		},
		Model: ModelConfig{
			Provider:        "anthropic",
			Model:           "claude-sonnet-4-5",
			ReasoningEffort: "medium",
			Timeout:         "120s",
		},
		Embedding: EmbeddingConfig{
			Provider:       "local",
			LocalDimensions: 384,
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
			TaskType:       "SEMANTIC_SIMILARITY",
		},
		Memory: MemoryConfig{
			DatabasePath:           "memory/memories.db",
			DecayRate:              0.95,
			MinImportanceThreshold: 0.10,
			MaxMemoriesPerType:     100,
			MaxInjectionTokens:     2000,
			MaxInjectionChars:      8000,
			MaxRetrievalCount:      15,
			ReinforceBoost:         0.02,
		},
		Subagent: SubagentConfig{
			MaxConcurrent:     4,
			DefaultTimeout:    "600s",
			CancelOnParentEnd: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			JSONFormat: false,
			DebugMode:  false,
		},
	}
}

// Load reads <workspace>/.kaioken/config.json, falling back to defaults
// when the file doesn't exist — exactly the behavior internal/logging
// already assumes of it.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(workspace, ".kaioken", "config.json")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Boot("config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	logging.Boot("config loaded: provider=%s model=%s", cfg.Model.Provider, cfg.Model.Model)
	return cfg, nil
}

// Save writes the configuration back to <workspace>/.kaioken/config.json.
func Save(workspace string, cfg *Config) error {
	dir := filepath.Join(workspace, ".kaioken")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config: create %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides layers environment variables over file/defaults,
// matching the teacher's applyEnvOverrides precedence (env wins last).
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.Model.APIKey = key
		if c.Model.Provider == "" {
			c.Model.Provider = "anthropic"
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.Model.APIKey = key
		c.Model.Provider = "openai"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Model.APIKey = key
		c.Model.Provider = "gemini"
	}

	if key := os.Getenv("GENAI_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
	}
	if endpoint := os.Getenv("OLLAMA_ENDPOINT"); endpoint != "" {
		c.Embedding.OllamaEndpoint = endpoint
	}
	if path := os.Getenv("KAIOKEN_MEMORY_DB"); path != "" {
		c.Memory.DatabasePath = path
	}
}

// GetModelTimeout returns the model request timeout as a duration,
// falling back to 120s on an unparseable value.
func (c *Config) GetModelTimeout() time.Duration {
	d, err := time.ParseDuration(c.Model.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetSubagentTimeout returns the per-child timeout as a duration,
// falling back to 600s on an unparseable value.
func (c *Config) GetSubagentTimeout() time.Duration {
	d, err := time.ParseDuration(c.Subagent.DefaultTimeout)
	if err != nil {
		return 600 * time.Second
	}
	return d
}

// ValidReasoningEfforts lists the accepted ModelConfig.ReasoningEffort values.
var ValidReasoningEfforts = []string{"low", "medium", "high"}

// Validate checks invariants the rest of the system assumes hold.
func (c *Config) Validate() error {
	if c.Memory.MaxRetrievalCount < 1 {
		return fmt.Errorf("config: memory.max_retrieval_count must be >= 1")
	}
	if c.Memory.DecayRate <= 0 || c.Memory.DecayRate > 1 {
		return fmt.Errorf("config: memory.decay_rate must be in (0, 1]")
	}
	if c.Subagent.MaxConcurrent < 1 {
		return fmt.Errorf("config: subagent.max_concurrent must be >= 1")
	}

	validEffort := false
	for _, e := range ValidReasoningEfforts {
		if c.Model.ReasoningEffort == e {
			validEffort = true
			break
		}
	}
	if !validEffort {
		return fmt.Errorf("config: model.reasoning_effort %q invalid (valid: %v)", c.Model.ReasoningEffort, ValidReasoningEfforts)
	}
	return nil
}
