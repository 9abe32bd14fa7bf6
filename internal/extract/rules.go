// Package extract implements the two memory extractors (spec §4.3/§4.4):
// a synchronous rule-based classifier (L3) and a model-driven one (L4),
// both writing through the same store dedup path. No teacher file covers
// either — theRebelliousNerd-codenerd extracted "facts" as Mangle
// predicates for its Datalog kernel, which this repo does not carry.
// Grounded directly on spec §4.3/§4.4's prose and the exact constants
// (0.95 fix-lesson importance, 0.85 semantic-dedup threshold, 5-minute
// failure window, 30-second model deadline) SPEC_FULL.md §13 restores from
// the original `extraction.rs`/`model_extractor.rs`.
package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kaioken/internal/logging"
	"kaioken/internal/store"
	"kaioken/internal/types"
)

// FailureWindow is the sliding window a failed command's error stays
// eligible to be paired with a later successful fix (spec §4.3).
const FailureWindow = 5 * time.Minute

// FixLessonImportance is the fixed importance assigned to a detected
// failure->fix lesson (spec §4.3/§8 scenario 2).
const FixLessonImportance = 0.95

// ExecEvent is an observed shell command completion.
type ExecEvent struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

// FileReadEvent is an observed file read.
type FileReadEvent struct {
	Path    string
	Content string
}

// RuleExtractor holds the small amount of state the rule-based classifiers
// need across events within a session: the 5-minute failed-command sliding
// map keyed on the first two whitespace-separated tokens of the command,
// and a per-file "already known" set that OnFileRead consults before
// paying for a fresh ExistsSimilar round-trip.
type RuleExtractor struct {
	mu        sync.Mutex
	failures  map[string]failureEntry
	seenFiles map[string]time.Time
}

type failureEntry struct {
	command    string
	errExcerpt string
	recordedAt time.Time
}

// NewRuleExtractor constructs an extractor with an empty failure map.
func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{
		failures:  make(map[string]failureEntry),
		seenFiles: make(map[string]time.Time),
	}
}

// Forget drops path from the "already known" cache, so the next OnFileRead
// for it re-runs its classifiers instead of short-circuiting. Called by the
// workspace file watcher when a file changes on disk after it was read
// (spec §4.3's location/pattern facts go stale otherwise).
func (e *RuleExtractor) Forget(path string) {
	e.mu.Lock()
	delete(e.seenFiles, path)
	e.mu.Unlock()
}

// OnExecComplete classifies a completed shell command (spec §4.3). Every
// candidate is deduped against the store via ExistsSimilar before insert;
// the returned slice holds only memories that were actually written.
func (e *RuleExtractor) OnExecComplete(ctx context.Context, s *store.MemoryStore, ev ExecEvent) ([]*types.Memory, error) {
	if ev.ExitCode == 0 {
		return e.onSuccess(ctx, s, ev)
	}
	return e.onFailure(ctx, s, ev)
}

func (e *RuleExtractor) onSuccess(ctx context.Context, s *store.MemoryStore, ev ExecEvent) ([]*types.Memory, error) {
	var out []*types.Memory

	if content, ok := packageManagerFact(ev.Command); ok {
		m, err := e.insertIfNew(ctx, s, content, types.KindFact, 0, "")
		if err != nil {
			return out, err
		}
		if m != nil {
			out = append(out, m)
		}
	}
	if content, ok := buildToolFact(ev.Command); ok {
		m, err := e.insertIfNew(ctx, s, content, types.KindFact, 0, "")
		if err != nil {
			return out, err
		}
		if m != nil {
			out = append(out, m)
		}
	}
	if content, ok := testFrameworkFact(ev.Stdout); ok {
		m, err := e.insertIfNew(ctx, s, content, types.KindFact, 0, "")
		if err != nil {
			return out, err
		}
		if m != nil {
			out = append(out, m)
		}
	}

	key := commandKey(ev.Command)
	e.mu.Lock()
	entry, matched := e.failures[key]
	if matched {
		delete(e.failures, key)
	}
	e.mu.Unlock()

	if matched && time.Since(entry.recordedAt) <= FailureWindow {
		content := fmt.Sprintf("When '%s' fails with '%s', try '%s'", entry.command, entry.errExcerpt, ev.Command)
		m, err := e.insertIfNew(ctx, s, content, types.KindLesson, FixLessonImportance, "")
		if err != nil {
			return out, err
		}
		if m != nil {
			out = append(out, m)
		}
	}

	return out, nil
}

func (e *RuleExtractor) onFailure(ctx context.Context, s *store.MemoryStore, ev ExecEvent) ([]*types.Memory, error) {
	var out []*types.Memory

	family, ok := classifyFailureFamily(ev.Stderr)
	if !ok {
		return out, nil
	}

	errExcerpt := strings.TrimSpace(ev.Stderr)
	content := fmt.Sprintf("Command '%s' fails with %s: %s", ev.Command, family, errExcerpt)
	m, err := e.insertIfNew(ctx, s, content, types.KindLesson, 0, "")
	if err != nil {
		return out, err
	}
	if m != nil {
		out = append(out, m)
	}

	key := commandKey(ev.Command)
	e.mu.Lock()
	e.failures[key] = failureEntry{command: ev.Command, errExcerpt: errExcerpt, recordedAt: time.Now()}
	e.mu.Unlock()

	return out, nil
}

// OnFileRead infers a file's purpose (Location) and any recognizable
// coding pattern (Pattern) from its content and path (spec §4.3). A file
// already in the seen-files cache is skipped entirely until Forget
// invalidates it, since both classifiers are pure functions of content
// that a watcher-observed write is the only thing that can change.
func (e *RuleExtractor) OnFileRead(ctx context.Context, s *store.MemoryStore, ev FileReadEvent) ([]*types.Memory, error) {
	e.mu.Lock()
	_, known := e.seenFiles[ev.Path]
	e.mu.Unlock()
	if known {
		return nil, nil
	}

	var out []*types.Memory

	if purpose, ok := inferFilePurpose(ev.Content); ok {
		content := fmt.Sprintf("%s: %s", ev.Path, purpose)
		m, err := e.insertIfNew(ctx, s, content, types.KindLocation, 0, ev.Path)
		if err != nil {
			return out, err
		}
		if m != nil {
			out = append(out, m)
		}
	}

	if pattern, ok := detectPattern(ev.Path, ev.Content); ok {
		m, err := e.insertIfNew(ctx, s, pattern, types.KindPattern, 0, ev.Path)
		if err != nil {
			return out, err
		}
		if m != nil {
			out = append(out, m)
		}
	}

	e.mu.Lock()
	e.seenFiles[ev.Path] = time.Now()
	e.mu.Unlock()

	return out, nil
}

// OnFileEdit records that a file was edited (spec §4.3), deduped like
// every other rule-based memory. The edited path is also dropped from the
// seen-files cache, since an edit is itself a content change OnFileRead
// needs to reclassify on the next read.
func (e *RuleExtractor) OnFileEdit(ctx context.Context, s *store.MemoryStore, path string) (*types.Memory, error) {
	e.mu.Lock()
	delete(e.seenFiles, path)
	e.mu.Unlock()
	return e.insertIfNew(ctx, s, fmt.Sprintf("%s was edited", path), types.KindLocation, 0, path)
}

// userCommandImportance is the fixed importance an explicit user command
// is given, regardless of inferred kind (spec §4.3).
const userCommandImportance = 0.9

// userCorrectionImportance is the fixed importance a user correction is
// given (spec §4.3).
const userCorrectionImportance = 0.85

// OnUserCommand parses an optional "<type>: " prefix off raw (decision:,
// lesson:, pattern:, fact:, preference:, location:); without a recognized
// prefix it falls back to a short heuristic classification.
func (e *RuleExtractor) OnUserCommand(ctx context.Context, s *store.MemoryStore, raw string) (*types.Memory, error) {
	kind, content := parseUserCommand(raw)
	return e.insertIfNew(ctx, s, content, kind, userCommandImportance, "")
}

// OnUserCorrection records a user correction as a Preference (spec §4.3).
func (e *RuleExtractor) OnUserCorrection(ctx context.Context, s *store.MemoryStore, content string) (*types.Memory, error) {
	return e.insertIfNew(ctx, s, content, types.KindPreference, userCorrectionImportance, "")
}

// IsExplicitCommand reports whether raw carries one of OnUserCommand's
// recognized "<type>: " prefixes (decision:, lesson:, pattern:, fact:,
// preference:, location:). The turn engine checks this before every user
// message to decide whether to route it through OnUserCommand.
func IsExplicitCommand(raw string) bool {
	idx := strings.Index(raw, ":")
	if idx <= 0 {
		return false
	}
	_, err := types.ParseMemoryKind(strings.ToLower(strings.TrimSpace(raw[:idx])))
	return err == nil
}

// correctionMarkers are lead-in phrases that signal a user message is
// correcting the agent's prior turn rather than making a fresh request
// (spec §4.3 leaves the exact heuristic unspecified; documented in
// DESIGN.md alongside parseUserCommand's own fallback).
var correctionMarkers = []string{
	"no, ", "no. ", "nope, ", "actually, ", "actually ",
	"that's wrong", "that is wrong", "that's not right", "that's incorrect",
	"not what i meant", "not what i asked", "instead of that",
	"don't do that", "undo that", "revert that",
}

// IsCorrection reports whether raw reads as a correction to the agent's
// immediately preceding turn. The turn engine checks this, after
// IsExplicitCommand finds no prefix, to decide whether to route a user
// message through OnUserCorrection.
func IsCorrection(raw string) bool {
	lower := strings.ToLower(strings.TrimSpace(raw))
	for _, marker := range correctionMarkers {
		if strings.HasPrefix(lower, marker) {
			return true
		}
	}
	return false
}

// insertIfNew checks ExistsSimilar and, if content is not already stored
// under kind, inserts a new memory (with importance overridden to
// forceImportance when > 0, else the kind's default) and returns it.
// Returns (nil, nil) when the content already exists.
func (e *RuleExtractor) insertIfNew(ctx context.Context, s *store.MemoryStore, content string, kind types.MemoryKind, forceImportance float64, sourceFile string) (*types.Memory, error) {
	exists, err := s.ExistsSimilar(ctx, content, kind)
	if err != nil {
		return nil, fmt.Errorf("extract: dedup check: %w", err)
	}
	if exists {
		return nil, nil
	}

	m := types.NewMemory(uuid.NewString(), kind, content)
	if forceImportance > 0 {
		m.Importance = forceImportance
	}
	m.SourceFile = sourceFile

	if err := s.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("extract: insert: %w", err)
	}
	logging.ExtractDebug("rule extractor: inserted %s memory %s", kind, m.ID)
	return m, nil
}

var packageManagerBins = map[string]string{
	"npm": "npm", "yarn": "yarn", "pnpm": "pnpm",
	"pip": "pip", "pip3": "pip",
	"bundle": "bundler", "composer": "composer", "gem": "gem",
}

func packageManagerFact(cmd string) (string, bool) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "", false
	}
	name, ok := packageManagerBins[fields[0]]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("Project uses %s as package manager", name), true
}

func buildToolFact(cmd string) (string, bool) {
	fields := strings.Fields(cmd)
	if len(fields) > 0 && fields[0] == "cargo" {
		return "Project uses Cargo as build tool", true
	}
	return "", false
}

func testFrameworkFact(stdout string) (string, bool) {
	if strings.Contains(stdout, "PASS") || strings.Contains(stdout, "FAIL") {
		return "Project uses Jest as test framework", true
	}
	if strings.Contains(stdout, "collected") {
		return "Project uses pytest as test framework", true
	}
	return "", false
}

// classifyFailureFamily recognizes the three failure families named in
// spec §4.3 from a command's stderr.
func classifyFailureFamily(stderr string) (string, bool) {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "enoent"), strings.Contains(lower, "not found"), strings.Contains(lower, "no such file"):
		return "missing binary", true
	case strings.Contains(lower, "permission denied"):
		return "permission denied", true
	case strings.Contains(lower, "connection refused"):
		return "connection refused", true
	default:
		return "", false
	}
}

func inferFilePurpose(content string) (string, bool) {
	switch {
	case strings.Contains(content, "#[test]"), strings.Contains(content, "describe("):
		return "test file", true
	case strings.Contains(content, "Router"):
		return "routing file", true
	case strings.Contains(content, "authenticate"):
		return "authentication-related file", true
	default:
		return "", false
	}
}

func detectPattern(path, content string) (string, bool) {
	switch {
	case strings.Contains(path, "__tests__/"):
		return "Tests live under __tests__/ directories", true
	case strings.Count(content, "-> Result<") >= 3:
		return "Functions commonly return Result<T, E>", true
	case strings.Contains(content, "async "):
		return "Codebase uses async/await", true
	default:
		return "", false
	}
}

// parseUserCommand splits an optional "<type>: " prefix off raw. Without a
// recognized prefix it falls back to a small keyword heuristic (spec §4.3
// leaves the exact heuristic unspecified; documented in DESIGN.md).
func parseUserCommand(raw string) (types.MemoryKind, string) {
	if idx := strings.Index(raw, ":"); idx > 0 {
		prefix := strings.ToLower(strings.TrimSpace(raw[:idx]))
		if kind, err := types.ParseMemoryKind(prefix); err == nil {
			return kind, strings.TrimSpace(raw[idx+1:])
		}
	}

	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "always"), strings.Contains(lower, "never"):
		return types.KindPattern, raw
	case strings.Contains(lower, "prefer"):
		return types.KindPreference, raw
	case strings.Contains(lower, "decided"), strings.Contains(lower, "decision"):
		return types.KindDecision, raw
	default:
		return types.KindFact, raw
	}
}

// commandKey is the first two whitespace-separated tokens of a command,
// the sliding-map key spec §4.3 specifies.
func commandKey(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) >= 2 {
		return fields[0] + " " + fields[1]
	}
	if len(fields) == 1 {
		return fields[0]
	}
	return ""
}
