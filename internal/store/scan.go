package store

import (
	"database/sql"
	"fmt"
	"time"

	"kaioken/internal/types"
)

// selectColumns is shared by every read path so scanMemory/scanMemories stay
// in lockstep with the column list.
const selectColumns = `SELECT id, kind, content, context, source_file, importance, use_count, created_at, last_used_at, embedding FROM memories`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(r rowScanner) (*types.Memory, error) {
	var (
		m          types.Memory
		kind       string
		createdAt  int64
		lastUsedAt int64
		embBlob    []byte
	)
	err := r.Scan(&m.ID, &kind, &m.Content, &m.Context, &m.SourceFile, &m.Importance, &m.UseCount, &createdAt, &lastUsedAt, &embBlob)
	if err != nil {
		return nil, err
	}
	m.Kind = types.MemoryKind(kind)
	m.CreatedAt = time.Unix(createdAt, 0).UTC()
	m.LastUsedAt = time.Unix(lastUsedAt, 0).UTC()
	if len(embBlob) > 0 {
		vec, err := types.DeserializeEmbedding(embBlob)
		if err != nil {
			return nil, fmt.Errorf("store: deserialize embedding for %s: %w", m.ID, err)
		}
		m.Embedding = vec
	}
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]*types.Memory, error) {
	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
