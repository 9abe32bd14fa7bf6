// Package store is the memory store (spec §4.2, L2): an embedded
// single-file relational database with three tables (memories,
// relationships, metadata), an optional sqlite-vec memory_vectors table
// that mirrors stored embeddings (no query reads it), and brute-force
// cosine similarity search. Grounded on the teacher's
// internal/store/local_core.go connection-setup pattern (single serialized
// *sql.DB, WAL journal mode, busy timeout) generalized to the spec's exact
// schema and operation set.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"kaioken/internal/embedding"
	"kaioken/internal/logging"
	"kaioken/internal/types"
)

// vectorExtAvailable is set by an init() in vector_cgo.go or vector_stub.go
// depending on build tags.
var vectorExtAvailable bool

// MemoryStore is the L2 component: a single serialized handle over the
// sqlite database, guarding every statement with a mutex held only for the
// duration of the SQL call (embeddings are computed outside the lock, per
// spec §4.2's concurrency note).
type MemoryStore struct {
	mu       sync.RWMutex
	db       *sql.DB
	dbPath   string
	docsDir  string
	engine   embedding.EmbeddingEngine // may be nil
	vectorOn bool
}

// Options configures a new MemoryStore.
type Options struct {
	// DBPath is the path to the sqlite file, typically
	// <workspace>/.kaioken/memory/memories.db.
	DBPath string
	// DocsDir is the sibling human-readable mirror directory, typically
	// <workspace>/.kaioken/memory/docs.
	DocsDir string
	// Engine is the embedding service. May be nil: writes then proceed
	// without an embedding, and search_by_similarity degrades to keyword
	// search (spec §4.2).
	Engine embedding.EmbeddingEngine
}

// Open creates (or opens) the memory store at opts.DBPath, running
// migrations and configuring the connection the way the teacher's
// NewLocalStore does: a single connection, WAL journal mode, a busy
// timeout so concurrent readers never hit SQLITE_BUSY immediately.
func Open(opts Options) (*MemoryStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if opts.DBPath == "" {
		return nil, fmt.Errorf("store: DBPath required")
	}
	if err := os.MkdirAll(filepath.Dir(opts.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("store: create db dir: %w", err)
	}

	db, err := sql.Open(driverName, opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", opts.DBPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	docsDir := opts.DocsDir
	if docsDir == "" {
		docsDir = filepath.Join(filepath.Dir(opts.DBPath), "docs")
	}
	if err := os.MkdirAll(docsDir, 0755); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create docs dir: %w", err)
	}

	s := &MemoryStore{
		db:       db,
		dbPath:   opts.DBPath,
		docsDir:  docsDir,
		engine:   opts.Engine,
		vectorOn: vectorExtAvailable,
	}
	if s.vectorOn {
		if err := s.ensureVectorIndex(); err != nil {
			logging.Get(logging.CategoryStore).Warn("vector index unavailable, falling back to brute force: %v", err)
			s.vectorOn = false
		}
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *MemoryStore) Close() error {
	return s.db.Close()
}

// SetEmbeddingEngine (re)binds the embedding service used for writes and
// similarity search. Passing nil disables embedding; callers then fall back
// to keyword search.
func (s *MemoryStore) SetEmbeddingEngine(e embedding.EmbeddingEngine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = e
}

// Insert writes a memory row, embedding its content if an engine is bound
// (best-effort: embedding failure does not fail the insert), and mirrors a
// human-readable copy to the docs directory. Duplicates are not rejected
// here — dedup is the caller's responsibility via ExistsSimilar /
// ExistsSemanticallySimilar, per spec §4.2.
func (s *MemoryStore) Insert(ctx context.Context, m *types.Memory) error {
	if err := m.Validate(); err != nil {
		return err
	}

	if len(m.Embedding) == 0 && s.engine != nil {
		if vec, err := s.embed(ctx, m.Content); err != nil {
			logging.Get(logging.CategoryStore).Warn("insert %s: embedding failed, storing without vector: %v", m.ID, err)
		} else {
			m.Embedding = vec
		}
	}

	var embBlob []byte
	if len(m.Embedding) > 0 {
		embBlob = types.SerializeEmbedding(m.Embedding)
	}

	s.mu.Lock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO memories
		(id, kind, content, context, source_file, importance, use_count, created_at, last_used_at, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.Kind), m.Content, m.Context, m.SourceFile, m.Importance, m.UseCount,
		m.CreatedAt.Unix(), m.LastUsedAt.Unix(), embBlob)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("store: insert %s: %w", m.ID, err)
	}

	if s.vectorOn && len(m.Embedding) > 0 {
		if err := s.upsertVector(m.ID, m.Embedding); err != nil {
			logging.Get(logging.CategoryStore).Warn("insert %s: vector index upsert failed: %v", m.ID, err)
		}
	}

	if err := s.writeMemoryDoc(m); err != nil {
		logging.Get(logging.CategoryStore).Warn("insert %s: docs mirror failed: %v", m.ID, err)
	}
	return nil
}

func (s *MemoryStore) embed(ctx context.Context, text string) ([]float32, error) {
	return s.engine.Embed(ctx, text)
}

// Get returns a single memory by id, or (nil, sql.ErrNoRows) if absent.
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	s.mu.RLock()
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	m, err := scanMemory(row)
	s.mu.RUnlock()
	return m, err
}

// GetByKind returns every memory of the given kind, unordered beyond
// whatever order sqlite returns by primary key.
func (s *MemoryStore) GetByKind(ctx context.Context, kind types.MemoryKind) ([]*types.Memory, error) {
	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE kind = ?`, string(kind))
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("store: get_by_kind %s: %w", kind, err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// GetTop returns the n memories with the highest effective importance.
func (s *MemoryStore) GetTop(ctx context.Context, n int) ([]*types.Memory, error) {
	all, err := s.allMemories(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].EffectiveImportance() > all[j].EffectiveImportance()
	})
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all, nil
}

// SearchByKeywords performs a disjunctive substring match on content,
// ordered by stored importance descending. Used as the fallback search
// path when no embedding service is available.
func (s *MemoryStore) SearchByKeywords(ctx context.Context, keywords []string) ([]*types.Memory, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	clauses := make([]string, len(keywords))
	args := make([]any, len(keywords))
	for i, kw := range keywords {
		clauses[i] = "content LIKE ?"
		args[i] = "%" + kw + "%"
	}
	query := selectColumns + ` WHERE ` + strings.Join(clauses, " OR ") + ` ORDER BY importance DESC`

	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("store: search_by_keywords: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// SimilarityResult pairs a memory with its similarity score.
type SimilarityResult struct {
	Memory     *types.Memory
	Similarity float64
}

// SearchBySimilarity embeds the query and scores every row that carries an
// embedding by cosine similarity, returning the top n. If no embedding
// engine is bound, it degrades to keyword search with similarity fixed at
// 0.5 for every hit, per spec §4.2.
func (s *MemoryStore) SearchBySimilarity(ctx context.Context, query string, n int) ([]SimilarityResult, error) {
	if s.engine == nil {
		kws := tokenizeKeywords(query)
		hits, err := s.SearchByKeywords(ctx, kws)
		if err != nil {
			return nil, err
		}
		if len(hits) > n {
			hits = hits[:n]
		}
		out := make([]SimilarityResult, len(hits))
		for i, m := range hits {
			out[i] = SimilarityResult{Memory: m, Similarity: 0.5}
		}
		return out, nil
	}

	qvec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: embed query: %w", err)
	}

	all, err := s.allMemories(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]SimilarityResult, 0, len(all))
	for _, m := range all {
		if len(m.Embedding) == 0 {
			continue
		}
		sim, err := embedding.CosineSimilarity(qvec, m.Embedding)
		if err != nil {
			continue
		}
		results = append(results, SimilarityResult{Memory: m, Similarity: sim})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if n > 0 && len(results) > n {
		results = results[:n]
	}
	return results, nil
}

// ExistsSimilar is an exact-content-match presence test for the given kind.
func (s *MemoryStore) ExistsSimilar(ctx context.Context, content string, kind types.MemoryKind) (bool, error) {
	var count int
	s.mu.RLock()
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM memories WHERE kind = ? AND content = ?`, string(kind), content).Scan(&count)
	s.mu.RUnlock()
	if err != nil {
		return false, fmt.Errorf("store: exists_similar: %w", err)
	}
	return count > 0, nil
}

// ExistsSemanticallySimilar embeds content and streams candidates of the
// given kind, returning true on the first match at or above threshold.
func (s *MemoryStore) ExistsSemanticallySimilar(ctx context.Context, content string, kind types.MemoryKind, threshold float64) (bool, error) {
	if s.engine == nil {
		return s.ExistsSimilar(ctx, content, kind)
	}
	qvec, err := s.engine.Embed(ctx, content)
	if err != nil {
		return false, fmt.Errorf("store: embed: %w", err)
	}

	candidates, err := s.GetByKind(ctx, kind)
	if err != nil {
		return false, err
	}
	for _, m := range candidates {
		if len(m.Embedding) == 0 {
			continue
		}
		sim, err := embedding.CosineSimilarity(qvec, m.Embedding)
		if err != nil {
			continue
		}
		if sim >= threshold {
			return true, nil
		}
	}
	return false, nil
}

// Reinforce bumps use-count, last-used, and importance (clamped at 1.0).
func (s *MemoryStore) Reinforce(ctx context.Context, id string, boost float64) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	m.Reinforce(boost)
	return s.updateUsage(ctx, m)
}

// MarkUsed bumps use-count and last-used without touching importance.
func (s *MemoryStore) MarkUsed(ctx context.Context, id string) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	m.MarkUsed()
	return s.updateUsage(ctx, m)
}

func (s *MemoryStore) updateUsage(ctx context.Context, m *types.Memory) error {
	s.mu.Lock()
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET importance = ?, use_count = ?, last_used_at = ? WHERE id = ?`,
		m.Importance, m.UseCount, m.LastUsedAt.Unix(), m.ID)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("store: update usage %s: %w", m.ID, err)
	}
	return nil
}

// ApplyDecay multiplies importance by rate for decaying kinds only, and
// returns the number of rows updated.
func (s *MemoryStore) ApplyDecay(ctx context.Context, rate float64) (int, error) {
	s.mu.Lock()
	res, err := s.db.ExecContext(ctx, `UPDATE memories SET importance = importance * ? WHERE kind NOT IN (?, ?)`,
		rate, string(types.KindLesson), string(types.KindDecision))
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("store: apply_decay: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneLowImportance deletes decaying-kind rows below threshold, then scans
// the docs directory for orphaned mirror files and deletes them.
func (s *MemoryStore) PruneLowImportance(ctx context.Context, threshold float64) (int, error) {
	s.mu.Lock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE kind NOT IN (?, ?) AND importance < ?`,
		string(types.KindLesson), string(types.KindDecision), threshold)
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("store: prune_low_importance: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		if err := s.pruneOrphanDocs(ctx); err != nil {
			logging.Get(logging.CategoryStore).Warn("prune_low_importance: orphan doc cleanup failed: %v", err)
		}
	}
	return int(n), nil
}

// Delete removes a memory and its docs mirror.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	_ = os.Remove(filepath.Join(s.docsDir, id+".md"))
	return nil
}

// AddRelationship inserts a directed edge, ignoring a duplicate (from, to,
// label) triple.
func (s *MemoryStore) AddRelationship(ctx context.Context, e types.RelationshipEdge) error {
	s.mu.Lock()
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO relationships (from_id, to_id, label, created_at) VALUES (?, ?, ?, ?)`,
		e.FromID, e.ToID, e.Label, e.CreatedAt.Unix())
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("store: add_relationship: %w", err)
	}
	return nil
}

// GetRelated returns every relationship edge touching id, in either
// direction.
func (s *MemoryStore) GetRelated(ctx context.Context, id string) ([]types.RelationshipEdge, error) {
	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx, `SELECT from_id, to_id, label, created_at FROM relationships WHERE from_id = ? OR to_id = ?`, id, id)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("store: get_related %s: %w", id, err)
	}
	defer rows.Close()

	var edges []types.RelationshipEdge
	for rows.Next() {
		var e types.RelationshipEdge
		var createdAt int64
		if err := rows.Scan(&e.FromID, &e.ToID, &e.Label, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan relationship: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Stats is a snapshot of the store's aggregate state.
type Stats struct {
	TotalMemories int
	ByKind        map[types.MemoryKind]int
	Relationships int
}

// Stats reports row counts useful for the CLI's doctor command.
func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByKind: make(map[types.MemoryKind]int)}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM memories`).Scan(&st.TotalMemories); err != nil {
		return st, fmt.Errorf("store: stats total: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM relationships`).Scan(&st.Relationships); err != nil {
		return st, fmt.Errorf("store: stats relationships: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(1) FROM memories GROUP BY kind`)
	if err != nil {
		return st, fmt.Errorf("store: stats by_kind: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return st, err
		}
		st.ByKind[types.MemoryKind(kind)] = count
	}
	return st, rows.Err()
}

func (s *MemoryStore) allMemories(ctx context.Context) ([]*types.Memory, error) {
	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx, selectColumns)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("store: scan all: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func tokenizeKeywords(query string) []string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}
