package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"kaioken/internal/types"
)

// writeMemoryDoc mirrors a memory to docs/<id>.md in the exact format
// spec §13 specifies: "# <kind>\n\nType: <kind>\n\n<content>\n\n<context>".
func (s *MemoryStore) writeMemoryDoc(m *types.Memory) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", m.Kind)
	fmt.Fprintf(&b, "Type: %s\n\n", m.Kind)
	b.WriteString(m.Content)
	b.WriteString("\n\n")
	b.WriteString(m.Context)

	path := filepath.Join(s.docsDir, m.ID+".md")
	return os.WriteFile(path, []byte(b.String()), 0644)
}

// pruneOrphanDocs removes docs/*.md files whose id no longer has a row in
// memories, run after a bulk delete (prune_low_importance).
func (s *MemoryStore) pruneOrphanDocs(ctx context.Context) error {
	entries, err := os.ReadDir(s.docsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read docs dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".md")

		var count int
		s.mu.RLock()
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM memories WHERE id = ?`, id).Scan(&count)
		s.mu.RUnlock()
		if err != nil {
			return fmt.Errorf("check orphan %s: %w", id, err)
		}
		if count == 0 {
			_ = os.Remove(filepath.Join(s.docsDir, entry.Name()))
		}
	}
	return nil
}
