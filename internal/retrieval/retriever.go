// Package retrieval is the L5 component: ranks, diversifies, and formats
// memories into a budget-capped context block the turn engine prepends to
// the user message (spec §4.5). Grounded on the teacher's
// internal/retrieval budget-tiered allocation idiom (percentage/cap-based
// selection under a fixed total), generalized from file tiers to memory
// kinds.
package retrieval

import (
	"context"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"kaioken/internal/store"
	"kaioken/internal/types"
)

// Retriever implements spec §4.5's retrieve-rank-diversify pipeline.
type Retriever struct {
	store *store.MemoryStore
}

// New constructs a Retriever over an existing memory store.
func New(s *store.MemoryStore) *Retriever {
	return &Retriever{store: s}
}

// Request is the input to Retrieve.
type Request struct {
	Query      string
	OpenFiles  []string // currently-open file paths, for the file-relevance bonus
	KindFilter *types.MemoryKind
	N          int // configured retrieval count (config.Memory.MaxRetrievalCount)
}

// candidate pairs a memory with its intermediate and final scores.
type candidate struct {
	memory   *types.Memory
	semantic float64
	combined float64
}

// Retrieve runs the full pipeline: semantic search, keyword supplement,
// always-include lessons/decisions, scoring, kind filter, diversify, and
// mark_used on every returned item.
func (r *Retriever) Retrieve(ctx context.Context, req Request) ([]*types.Memory, error) {
	n := req.N
	if n <= 0 {
		n = types.DefaultMaxRetrievalCount
	}

	candidates := make(map[string]*candidate)

	semanticHits, err := r.store.SearchBySimilarity(ctx, req.Query, 2*n)
	if err != nil {
		return nil, err
	}
	for _, hit := range semanticHits {
		candidates[hit.Memory.ID] = &candidate{memory: hit.Memory, semantic: hit.Similarity}
	}

	if len(candidates) < n {
		keywords := extractKeywords(req.Query)
		if len(keywords) > 0 {
			kwHits, err := r.store.SearchByKeywords(ctx, keywords)
			if err != nil {
				return nil, err
			}
			for _, m := range kwHits {
				if _, ok := candidates[m.ID]; !ok {
					candidates[m.ID] = &candidate{memory: m, semantic: 0}
				}
			}
		}
	}

	for _, kind := range []types.MemoryKind{types.KindLesson, types.KindDecision} {
		kindHits, err := r.store.GetByKind(ctx, kind)
		if err != nil {
			return nil, err
		}
		count := 0
		for _, m := range kindHits {
			if count >= 3 {
				break
			}
			if m.Importance < 0.7 {
				continue
			}
			if _, ok := candidates[m.ID]; !ok {
				candidates[m.ID] = &candidate{memory: m, semantic: 0}
			}
			count++
		}
	}

	now := time.Now()
	list := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		if req.KindFilter != nil && c.memory.Kind != *req.KindFilter {
			continue
		}
		c.combined = computeCombinedScore(c.memory, c.semantic, now, req.OpenFiles)
		list = append(list, c)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].combined > list[j].combined })

	selected := diversify(list, n)

	out := make([]*types.Memory, 0, len(selected))
	for _, c := range selected {
		out = append(out, c.memory)
		_ = r.store.MarkUsed(ctx, c.memory.ID)
	}
	return out, nil
}

// computeCombinedScore implements the original retriever.rs formula
// (SPEC_FULL.md §13), deliberately using a different frequency coefficient
// than types.Memory.EffectiveImportance (see SPEC_FULL.md §4.1 addendum).
func computeCombinedScore(m *types.Memory, semantic float64, now time.Time, openFiles []string) float64 {
	days := now.Sub(m.LastUsedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	recency := math.Exp(-days / 30)

	useCount := m.UseCount
	if useCount > 20 {
		useCount = 20
	}
	frequency := 1 + 0.05*float64(useCount)

	combined := semantic*0.35 + m.Importance*0.25 + recency*0.15 + (frequency-1)*0.10 + 0.15

	typeBoost := 1.0
	switch m.Kind {
	case types.KindLesson:
		typeBoost = 1.5
	case types.KindDecision:
		typeBoost = 1.3
	case types.KindPreference:
		typeBoost = 1.2
	}

	fileBoost := 1.0
	if m.SourceFile != "" {
		for _, f := range openFiles {
			if f == m.SourceFile || filepath.Dir(f) == filepath.Dir(m.SourceFile) {
				fileBoost = 1.3
				break
			}
		}
	}

	return combined * typeBoost * fileBoost
}

// diversify selects up to n candidates from a score-descending list. A first
// pass caps any single kind at max(n/3, 2), per spec §4.5 step 6; if that
// leaves fewer than n, the skipped candidates fill the remaining slots in
// score order, so a kind exceeds the cap when other kinds run short.
func diversify(sorted []*candidate, n int) []*candidate {
	kindCap := n / 3
	if kindCap < 2 {
		kindCap = 2
	}

	perKind := make(map[types.MemoryKind]int)
	out := make([]*candidate, 0, n)
	var overflow []*candidate

	for _, c := range sorted {
		if len(out) >= n {
			break
		}
		if perKind[c.memory.Kind] >= kindCap {
			overflow = append(overflow, c)
			continue
		}
		out = append(out, c)
		perKind[c.memory.Kind]++
	}

	for _, c := range overflow {
		if len(out) >= n {
			break
		}
		out = append(out, c)
	}

	return out
}

// extractKeywords pulls non-stopword, alphanumeric, length>2 tokens out of
// free text, per spec §4.5 step 2.
func extractKeywords(query string) []string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	var out []string
	for _, f := range fields {
		lower := strings.ToLower(f)
		if len(lower) > 2 && !stopwords[lower] {
			out = append(out, lower)
		}
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "how": true,
	"was": true, "were": true, "this": true, "that": true, "with": true,
	"have": true, "has": true, "from": true, "into": true,
}
