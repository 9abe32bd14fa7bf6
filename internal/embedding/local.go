package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalEngine is a pure in-process embedding engine: deterministic feature
// hashing over word tokens, no network access and no disk writes. It is the
// default engine so the turn-engine core remains usable with no external
// services configured; Ollama and GenAI are opt-in alternates (see
// ollama.go, genai.go) selected through Config.Provider.
type LocalEngine struct {
	dims int
}

// NewLocalEngine returns a LocalEngine producing vectors of the given
// dimensionality. dims <= 0 defaults to 384.
func NewLocalEngine(dims int) *LocalEngine {
	if dims <= 0 {
		dims = 384
	}
	return &LocalEngine{dims: dims}
}

// Embed hashes each whitespace/punctuation-separated token of text into a
// bucket of the output vector (sign determined by a second hash of the same
// token, following the standard feature-hashing trick), then L2-normalizes
// the result. Equal input always produces an equal output: there is no
// randomness and no external state.
func (e *LocalEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, tok := range tokenize(text) {
		h1 := fnv.New32a()
		h1.Write([]byte(tok))
		bucket := int(h1.Sum32() % uint32(e.dims))

		h2 := fnv.New32a()
		h2.Write([]byte(tok))
		h2.Write([]byte{0xff})
		sign := float32(1)
		if h2.Sum32()%2 == 0 {
			sign = -1
		}

		vec[bucket] += sign
	}
	normalize(vec)
	return vec, nil
}

// EmbedBatch embeds each text independently; the local engine has no batch
// API to amortize, so this is a straightforward loop.
func (e *LocalEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// EmbedWithTaskType ignores taskType: the local hashing engine has no
// task-conditioned model to steer, so it satisfies TaskTypeAwareEngine with
// the plain embedding.
func (e *LocalEngine) EmbedWithTaskType(ctx context.Context, text, _ string) ([]float32, error) {
	return e.Embed(ctx, text)
}

// Dimensions returns the configured vector width.
func (e *LocalEngine) Dimensions() int {
	return e.dims
}

// Name returns the engine name.
func (e *LocalEngine) Name() string {
	return "local"
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(vec []float32) {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v * v)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range vec {
		vec[i] /= norm
	}
}
