// Package embedding provides vector embedding generation for semantic memory
// retrieval. Supports a local in-process backend (the default, no network
// access) plus optional Ollama and Google GenAI backends.
package embedding

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"kaioken/internal/logging"
)

// =============================================================================
// EMBEDDING ENGINE INTERFACE
// =============================================================================

// EmbeddingEngine generates vector embeddings for text.
type EmbeddingEngine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// TaskTypeAwareEngine is an optional interface for engines that can tune
// their embedding for the purpose the text is being embedded for (query vs.
// document, code vs. prose). The store calls GetOptimalTaskType to pick one.
type TaskTypeAwareEngine interface {
	EmbeddingEngine
	EmbedWithTaskType(ctx context.Context, text, taskType string) ([]float32, error)
}

// HealthChecker is an optional interface for embedding engines that support
// health checks. If an engine implements this interface, the system can
// verify availability before attempting batch operations.
type HealthChecker interface {
	// HealthCheck verifies the embedding service is reachable.
	// Returns nil if healthy, error otherwise.
	HealthCheck(ctx context.Context) error
}

// =============================================================================
// EMBEDDING CONFIGURATION
// =============================================================================

// Config holds embedding engine configuration.
type Config struct {
	// Provider: "local" (default, no network), "ollama", or "genai".
	Provider string `json:"provider"`

	// Local engine configuration.
	LocalDimensions int `json:"local_dimensions"` // Default: 384

	// Ollama configuration.
	OllamaEndpoint string `json:"ollama_endpoint"` // Default: "http://localhost:11434"
	OllamaModel    string `json:"ollama_model"`    // Default: "embeddinggemma"

	// GenAI configuration.
	GenAIAPIKey string `json:"genai_api_key"`
	GenAIModel  string `json:"genai_model"` // Default: "gemini-embedding-001"

	// TaskType for GenAI: "SEMANTIC_SIMILARITY", "RETRIEVAL_QUERY", "RETRIEVAL_DOCUMENT", ...
	TaskType string `json:"task_type"`
}

// DefaultConfig returns sensible defaults. The default provider is "local":
// the turn engine's embedding component must not touch the network or disk
// on its own, so the process-wide singleton (see Singleton below) only
// reaches for Ollama or GenAI when a workspace config explicitly opts in.
func DefaultConfig() Config {
	return Config{
		Provider:        "local",
		LocalDimensions: 384,
		OllamaEndpoint:  "http://localhost:11434",
		OllamaModel:     "embeddinggemma",
		GenAIModel:      "gemini-embedding-001",
		TaskType:        "SEMANTIC_SIMILARITY",
	}
}

// =============================================================================
// FACTORY
// =============================================================================

// NewEngine creates an embedding engine based on configuration.
func NewEngine(cfg Config) (EmbeddingEngine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	logging.Embedding("Creating embedding engine with provider=%s", cfg.Provider)

	var engine EmbeddingEngine
	var err error

	switch cfg.Provider {
	case "", "local":
		dims := cfg.LocalDimensions
		if dims <= 0 {
			dims = 384
		}
		logging.Embedding("Initializing local embedding engine: dimensions=%d", dims)
		engine = NewLocalEngine(dims)
	case "ollama":
		logging.Embedding("Initializing Ollama embedding engine: endpoint=%s, model=%s", cfg.OllamaEndpoint, cfg.OllamaModel)
		engine, err = NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		logging.Embedding("Initializing GenAI embedding engine: model=%s, task_type=%s", cfg.GenAIModel, cfg.TaskType)
		engine, err = NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType)
	default:
		err = fmt.Errorf("unsupported embedding provider: %s (use 'local', 'ollama' or 'genai')", cfg.Provider)
		logging.Get(logging.CategoryEmbedding).Error("Unsupported embedding provider: %s", cfg.Provider)
		return nil, err
	}

	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("Failed to create embedding engine: %v", err)
		return nil, err
	}

	logging.Embedding("Embedding engine created successfully: name=%s, dimensions=%d", engine.Name(), engine.Dimensions())
	return engine, nil
}

// =============================================================================
// PROCESS-WIDE SINGLETON
// =============================================================================

var (
	singletonOnce   sync.Once
	singletonEngine EmbeddingEngine
	singletonErr    error
)

// Singleton lazily constructs the process-wide embedding engine from cfg the
// first time it is called and returns the same instance on every subsequent
// call, regardless of cfg passed in later (the first caller wins). This
// matches the turn engine's requirement that L1 be a single, lazily
// constructed service shared by every component that embeds text.
func Singleton(cfg Config) (EmbeddingEngine, error) {
	singletonOnce.Do(func() {
		singletonEngine, singletonErr = NewEngine(cfg)
	})
	return singletonEngine, singletonErr
}

// =============================================================================
// COSINE SIMILARITY UTILITY
// =============================================================================

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical, 0 means
// orthogonal. A length mismatch is an error; a zero-magnitude vector is not
// (it returns 0 similarity, since an all-zero embedding is valid input).
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dotProduct, aMagnitude, bMagnitude float64
	for i := 0; i < len(a); i++ {
		dotProduct += float64(a[i] * b[i])
		aMagnitude += float64(a[i] * a[i])
		bMagnitude += float64(b[i] * b[i])
	}

	if aMagnitude == 0 || bMagnitude == 0 {
		return 0, nil
	}

	return dotProduct / (math.Sqrt(aMagnitude) * math.Sqrt(bMagnitude)), nil
}

// FindTopK returns the indices of the top K most similar vectors to the
// query, ranked by cosine similarity.
func FindTopK(query []float32, corpus [][]float32, k int) ([]SimilarityResult, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "FindTopK")
	defer timer.Stop()

	if k <= 0 {
		k = 10
	}

	results := make([]SimilarityResult, 0, len(corpus))
	for i, vec := range corpus {
		similarity, err := CosineSimilarity(query, vec)
		if err != nil {
			continue
		}
		results = append(results, SimilarityResult{Index: i, Similarity: similarity})
	}

	sortStart := time.Now()
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].Similarity > results[i].Similarity {
				results[i], results[j] = results[j], results[i]
			}
		}
	}
	logging.EmbeddingDebug("FindTopK: sorted %d results in %v", len(results), time.Since(sortStart))

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// SimilarityResult represents a similarity search result.
type SimilarityResult struct {
	Index      int
	Similarity float64
}
