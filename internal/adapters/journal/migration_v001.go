package journal

import (
	"database/sql"
	"fmt"
)

// migrateV001 creates the sessions and snapshots tables.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			opened_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			closed_at    DATETIME,
			close_reason TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS snapshots (
			session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq          INTEGER NOT NULL,
			primary_state TEXT NOT NULL,
			caret        INTEGER NOT NULL,
			text_len     INTEGER NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			payload      TEXT NOT NULL,
			recorded_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (session_id, seq)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_snapshots_state ON snapshots(primary_state)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_closed ON sessions(closed_at)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migrate v001: %w", err)
		}
	}
	return nil
}
