package store

import (
	"database/sql"
	"fmt"

	"kaioken/internal/logging"
)

// CurrentSchemaVersion is bumped whenever a migration is appended.
const CurrentSchemaVersion = 2

// migration is one forward-only schema step, applied in order and recorded
// in the metadata table so RunMigrations is idempotent across process
// restarts, mirroring the teacher's migrations.go Migration/RunMigrations
// pattern (Table/Column/Def tracking, tableExists-guarded ALTERs).
type migration struct {
	version int
	name    string
	apply   func(*sql.Tx) error
}

var migrations = []migration{
	{
		version: 1,
		name:    "initial_schema",
		apply: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE IF NOT EXISTS memories (
					id TEXT PRIMARY KEY,
					kind TEXT NOT NULL,
					content TEXT NOT NULL,
					context TEXT NOT NULL DEFAULT '',
					source_file TEXT NOT NULL DEFAULT '',
					importance REAL NOT NULL,
					use_count INTEGER NOT NULL DEFAULT 0,
					created_at INTEGER NOT NULL,
					last_used_at INTEGER NOT NULL,
					embedding BLOB
				)`,
				`CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind)`,
				`CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance)`,
				`CREATE INDEX IF NOT EXISTS idx_memories_last_used ON memories(last_used_at)`,
				`CREATE TABLE IF NOT EXISTS relationships (
					from_id TEXT NOT NULL,
					to_id TEXT NOT NULL,
					label TEXT NOT NULL,
					created_at INTEGER NOT NULL,
					PRIMARY KEY (from_id, to_id, label)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_id)`,
				`CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_id)`,
				`CREATE TABLE IF NOT EXISTS metadata (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL
				)`,
			}
			for _, s := range stmts {
				if _, err := tx.Exec(s); err != nil {
					return fmt.Errorf("migration %s: %w", "initial_schema", err)
				}
			}
			return nil
		},
	},
	{
		version: 2,
		name:    "relationships_cascade",
		apply: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`CREATE TRIGGER IF NOT EXISTS memories_delete_relationships
				AFTER DELETE ON memories
				BEGIN
					DELETE FROM relationships WHERE from_id = OLD.id OR to_id = OLD.id;
				END`); err != nil {
				return fmt.Errorf("migration %s: %w", "relationships_cascade", err)
			}
			return nil
		},
	},
}

// RunMigrations applies every migration not yet recorded in metadata, in
// version order, each inside its own transaction.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS metadata (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("bootstrap metadata table: %w", err)
	}

	applied, err := appliedVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= applied {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.name, err)
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec(`INSERT INTO metadata(key, value) VALUES ('schema_version', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, fmt.Sprintf("%d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.name, err)
		}
		logging.StoreDebug("applied migration %d: %s", m.version, m.name)
	}
	return nil
}

func appliedVersion(db *sql.DB) (int, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM metadata WHERE key = 'schema_version'`).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	var v int
	if _, err := fmt.Sscanf(value, "%d", &v); err != nil {
		return 0, fmt.Errorf("parse schema_version %q: %w", value, err)
	}
	return v, nil
}
