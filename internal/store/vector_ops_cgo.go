//go:build sqlite_vec && cgo

package store

import (
	"fmt"

	"kaioken/internal/types"
)

// ensureVectorIndex creates the vec0 virtual table mirroring memories.embedding,
// sized to the dimensionality of the embedding engine the store was opened
// with. Dimensionality is fixed at table-creation time by sqlite-vec, so a
// store switching embedding providers mid-life must recreate this table;
// that migration path is out of scope here (spec Non-goals: provider
// hot-swap).
func (s *MemoryStore) ensureVectorIndex() error {
	dims := 384
	if s.engine != nil {
		dims = s.engine.Dimensions()
	}
	_, err := s.db.Exec(fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS memory_vectors USING vec0(
		id TEXT PRIMARY KEY,
		embedding FLOAT[%d]
	)`, dims))
	if err != nil {
		return fmt.Errorf("create memory_vectors: %w", err)
	}
	return nil
}

// upsertVector writes or replaces a row's vector in the ANN index.
func (s *MemoryStore) upsertVector(id string, vec []float32) error {
	blob := types.SerializeEmbedding(vec)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT INTO memory_vectors(id, embedding) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET embedding = excluded.embedding`, id, blob)
	return err
}
