package config

// ModelConfig selects the LLM backend and its call parameters. Mirrors the
// teacher's LLMConfig shape (provider/model/timeout/API key) generalized
// with a reasoning-effort knob per spec §4.11's plan workflow.
type ModelConfig struct {
	Provider        string `json:"provider"` // anthropic | openai | gemini
	Model           string `json:"model"`
	APIKey          string `json:"-"` // never serialized; env-sourced only
	ReasoningEffort string `json:"reasoning_effort"`
	Timeout         string `json:"timeout"`
}
