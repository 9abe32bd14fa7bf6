package config

// MemoryConfig configures the L2 memory store's lifecycle knobs. Every
// numeric default here is carried verbatim from the original
// MemoryConfig::default() (SPEC_FULL.md §13), not invented.
type MemoryConfig struct {
	// DatabasePath is relative to <workspace>/.kaioken/ unless absolute.
	DatabasePath string `json:"database_path"`

	// DecayRate multiplies importance for decaying kinds. `kaioken run`
	// applies it once at every session start, unconditionally (there is no
	// calendar check, per §13); `kaioken memory decay` applies it on demand.
	DecayRate float64 `json:"decay_rate"`

	// MinImportanceThreshold is the prune_low_importance cutoff.
	MinImportanceThreshold float64 `json:"min_importance_threshold"`

	// MaxMemoriesPerType is loaded and defaulted here, but no component reads
	// it: neither the store (which never refuses an insert) nor
	// internal/retrieval limits how many rows of a single kind exist.
	MaxMemoriesPerType int `json:"max_memories_per_type"`

	MaxInjectionTokens int `json:"max_injection_tokens"`
	MaxInjectionChars  int `json:"max_injection_chars"`
	MaxRetrievalCount  int `json:"max_retrieval_count"`

	// ReinforceBoost is the fixed amount Reinforce adds to importance.
	ReinforceBoost float64 `json:"reinforce_boost"`
}
