package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"kaioken/internal/logging"
	"kaioken/internal/model"
	"kaioken/internal/store"
	"kaioken/internal/types"
)

// ModelDeadline bounds how long the auxiliary extraction call may run
// before the turn engine gives up on it (spec §4.4).
const ModelDeadline = 30 * time.Second

// SemanticDedupThreshold is the cosine-similarity floor above which a
// model-proposed memory is considered a duplicate of one already stored
// (spec §4.4).
const SemanticDedupThreshold = 0.85

// extractionSystemPrompt instructs the auxiliary model to return only the
// strict JSON schema ExtractionResult expects.
const extractionSystemPrompt = `You review one turn of a coding session and extract any durable memories worth keeping.
Respond with JSON only, matching exactly:
{"memories": [{"type": "fact|pattern|decision|lesson|preference|location", "content": "...", "context": "optional", "importance": 0.0}]}
Omit memories that are trivial, already obvious from the code, or specific to this one turn only. Return {"memories": []} if nothing is worth keeping.`

// TurnSummaryInput is the raw material a single conversation turn produces,
// gathered by the turn engine for model-driven extraction (spec §4.4).
type TurnSummaryInput struct {
	UserRequest     string
	ToolCalls       []string // one short description per call, e.g. "run_command: npm test"
	FilesTouched    []string
	AgentResponse   string
}

// BuildTurnSummary renders a TurnSummaryInput into the fixed-heading markdown
// summary the auxiliary model is given (spec §4.4).
func BuildTurnSummary(in TurnSummaryInput) string {
	var b strings.Builder
	b.WriteString("## User Request\n")
	b.WriteString(in.UserRequest)
	b.WriteString("\n\n## Tool Calls\n")
	if len(in.ToolCalls) == 0 {
		b.WriteString("(none)")
	} else {
		for _, tc := range in.ToolCalls {
			fmt.Fprintf(&b, "- %s\n", tc)
		}
	}
	b.WriteString("\n\n## Files Touched\n")
	if len(in.FilesTouched) == 0 {
		b.WriteString("(none)")
	} else {
		for _, f := range in.FilesTouched {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	b.WriteString("\n\n## Agent Response\n")
	b.WriteString(in.AgentResponse)
	return b.String()
}

// ExtractedMemory is one candidate the auxiliary model proposed.
type ExtractedMemory struct {
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Context    string  `json:"context,omitempty"`
	Importance float64 `json:"importance,omitempty"`
}

// ExtractionResult is the strict JSON schema the auxiliary model must
// respond with (spec §4.4).
type ExtractionResult struct {
	Memories []ExtractedMemory `json:"memories"`
}

// ModelExtractor runs a single turn's summary through a cheaper auxiliary
// model and writes back whatever durable memories it proposes, deduping
// semantically against the store.
type ModelExtractor struct {
	client model.Client
	model  string
}

// NewModelExtractor constructs a ModelExtractor that calls client using the
// given (typically cheaper/smaller) model identifier.
func NewModelExtractor(client model.Client, modelID string) *ModelExtractor {
	return &ModelExtractor{client: client, model: modelID}
}

// Extract summarizes in, sends it to the auxiliary model under a 30-second
// deadline, and inserts every proposed memory that survives semantic dedup.
// A model error or malformed response is returned as an error but never
// panics; callers should treat extraction failure as non-fatal to the turn.
func (e *ModelExtractor) Extract(ctx context.Context, s *store.MemoryStore, summary string) ([]*types.Memory, error) {
	ctx, cancel := context.WithTimeout(ctx, ModelDeadline)
	defer cancel()

	raw, err := e.complete(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("extract: model call: %w", err)
	}

	result, err := parseExtractionResult(raw)
	if err != nil {
		return nil, fmt.Errorf("extract: parse model response: %w", err)
	}

	var out []*types.Memory
	for _, em := range result.Memories {
		kind, err := types.ParseMemoryKind(em.Type)
		if err != nil {
			logging.Extract("model extractor: skipping memory with unknown type %q", em.Type)
			continue
		}
		content := strings.TrimSpace(em.Content)
		if content == "" {
			continue
		}

		exists, err := s.ExistsSemanticallySimilar(ctx, content, kind, SemanticDedupThreshold)
		if err != nil {
			return out, fmt.Errorf("extract: semantic dedup: %w", err)
		}
		if exists {
			continue
		}

		m := types.NewMemory(uuid.NewString(), kind, content)
		if em.Importance > 0 {
			m.Importance = clamp01(em.Importance)
		}
		m.Context = em.Context

		if err := s.Insert(ctx, m); err != nil {
			return out, fmt.Errorf("extract: insert: %w", err)
		}
		logging.ExtractDebug("model extractor: inserted %s memory %s", kind, m.ID)
		out = append(out, m)
	}
	return out, nil
}

// complete drives the streaming Client to completion and returns the
// concatenated text of the response, the auxiliary call being a single
// non-interactive JSON-producing turn.
func (e *ModelExtractor) complete(ctx context.Context, summary string) (string, error) {
	req := model.Request{
		Model: e.model,
		Messages: []model.Message{
			{Role: "user", Content: extractionSystemPrompt + "\n\n" + summary},
		},
	}

	events, err := e.client.Stream(ctx, req)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for ev := range events {
		switch ev.Kind {
		case model.EventTextDelta:
			b.WriteString(ev.TextDelta)
		case model.EventError:
			return "", ev.Err
		case model.EventDone:
			return b.String(), nil
		}
	}
	return b.String(), nil
}

// parseExtractionResult tolerates the model wrapping its JSON in a fenced
// code block, which auxiliary models commonly do despite instructions.
func parseExtractionResult(raw string) (ExtractionResult, error) {
	var result ExtractionResult
	body := strings.TrimSpace(raw)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	if body == "" {
		return result, nil
	}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return result, err
	}
	return result, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
