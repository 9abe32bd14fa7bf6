package retrieval

import (
	"fmt"
	"strings"

	"kaioken/internal/types"
)

const (
	sentinelOpen  = "<project_memory>"
	sentinelClose = "</project_memory>"
	truncatedMark = "... (truncated)"
)

// BuildMemoryContext renders memories grouped by kind under fixed headings
// in InjectionOrder (Lessons -> Decisions -> Preferences -> Patterns ->
// Locations -> Facts), wraps the block in a sentinel tag, and truncates to
// maxChars at the last newline, appending a truncation marker (spec §4.5).
func BuildMemoryContext(memories []*types.Memory, maxChars int) string {
	byKind := make(map[types.MemoryKind][]*types.Memory)
	for _, m := range memories {
		byKind[m.Kind] = append(byKind[m.Kind], m)
	}

	var b strings.Builder
	b.WriteString(sentinelOpen)
	b.WriteString("\n")

	for _, kind := range types.InjectionOrder {
		items := byKind[kind]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n", headingFor(kind))
		for _, m := range items {
			b.WriteString(renderBullet(m))
			b.WriteString("\n")
		}
	}

	b.WriteString(sentinelClose)
	return truncate(b.String(), maxChars)
}

func headingFor(kind types.MemoryKind) string {
	switch kind {
	case types.KindLesson:
		return "Lessons"
	case types.KindDecision:
		return "Decisions"
	case types.KindPreference:
		return "Preferences"
	case types.KindPattern:
		return "Patterns"
	case types.KindLocation:
		return "Locations"
	case types.KindFact:
		return "Facts"
	default:
		return string(kind)
	}
}

// renderBullet formats a single memory as a short bullet. Lessons carry a
// bracket tag and an optional parenthesized context, truncated to 60 chars.
func renderBullet(m *types.Memory) string {
	if m.Kind == types.KindLesson {
		bullet := fmt.Sprintf("- [Lesson] %s", m.Content)
		if m.Context != "" {
			bullet += fmt.Sprintf(" (%s)", truncateContext(m.Context, 60))
		}
		return bullet
	}
	return fmt.Sprintf("- %s", m.Content)
}

func truncateContext(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// truncate cuts s to the last newline within maxChars and appends the
// truncation marker, matching the "length <= 60 for a 40-char budget"
// example in spec §8's testable properties.
func truncate(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	budget := maxChars - len(truncatedMark)
	if budget < 0 {
		budget = 0
	}
	cut := s[:min(budget, len(s))]
	if idx := strings.LastIndex(cut, "\n"); idx >= 0 {
		cut = cut[:idx]
	}
	return cut + "\n" + truncatedMark
}
