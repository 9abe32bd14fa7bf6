package config

// EmbeddingConfig selects and configures the L1 embedding backend.
// Defaults to "local" (no network, spec's required no-network default);
// "ollama" and "genai" are fully wired, opt-in alternates. Field shape
// kept close to the teacher's EmbeddingConfig.
type EmbeddingConfig struct {
	Provider string `json:"provider"` // local | ollama | genai

	LocalDimensions int `json:"local_dimensions"`

	OllamaEndpoint string `json:"ollama_endpoint"`
	OllamaModel    string `json:"ollama_model"`

	GenAIAPIKey string `json:"-"` // env-sourced only
	GenAIModel  string `json:"genai_model"`
	TaskType    string `json:"task_type"`
}
