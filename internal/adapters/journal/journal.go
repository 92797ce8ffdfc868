// Package journal persists drained caret snapshots to SQLite so a
// session's state history survives its in-memory ring.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/okian/caretd/internal/domain/caret"
	"github.com/okian/caretd/pkg/metrics"
)

// Entry is one journaled snapshot.
type Entry struct {
	SessionID  string         `json:"session_id"`
	Seq        int64          `json:"seq"`
	Snapshot   caret.Snapshot `json:"snapshot"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Journal records snapshot history per session.
type Journal interface {
	OpenSession(ctx context.Context, sessionID string) error
	CloseSession(ctx context.Context, sessionID, reason string) error
	Append(ctx context.Context, sessionID string, snaps []caret.Snapshot) error
	List(ctx context.Context, sessionID string, limit int) ([]Entry, error)
	Prune(ctx context.Context, closedBefore time.Time) (int64, error)
	Close() error
}

// SQLiteJournal implements Journal on a SQLite database.
type SQLiteJournal struct {
	db     *sql.DB
	ownsDB bool

	mu     sync.Mutex
	closed bool

	openSession  *sql.Stmt
	closeSession *sql.Stmt
	nextSeq      *sql.Stmt
	insertSnap   *sql.Stmt
	listSnaps    *sql.Stmt
}

var _ Journal = (*SQLiteJournal)(nil)

// Open opens (or creates) the database at path, migrates it, and returns
// a journal that closes the database on Close.
func Open(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// one writer keeps :memory: databases on a single connection
	db.SetMaxOpenConns(1)

	if err := NewMigrationRunner(db).Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	j, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	j.ownsDB = true
	return j, nil
}

// New wraps an already-opened and migrated database. The caller keeps
// ownership of db.
func New(db *sql.DB) (*SQLiteJournal, error) {
	j := &SQLiteJournal{db: db}
	if err := j.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return j, nil
}

func (j *SQLiteJournal) prepareStatements() error {
	var err error

	j.openSession, err = j.db.Prepare(`INSERT OR IGNORE INTO sessions (id) VALUES (?)`)
	if err != nil {
		return err
	}

	j.closeSession, err = j.db.Prepare(`
		UPDATE sessions SET closed_at = CURRENT_TIMESTAMP, close_reason = ?
		WHERE id = ? AND closed_at IS NULL
	`)
	if err != nil {
		return err
	}

	j.nextSeq, err = j.db.Prepare(`SELECT COALESCE(MAX(seq), 0) FROM snapshots WHERE session_id = ?`)
	if err != nil {
		return err
	}

	j.insertSnap, err = j.db.Prepare(`
		INSERT INTO snapshots (session_id, seq, primary_state, caret, text_len, timestamp_ms, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	j.listSnaps, err = j.db.Prepare(`
		SELECT session_id, seq, payload, recorded_at
		FROM snapshots WHERE session_id = ?
		ORDER BY seq DESC LIMIT ?
	`)
	return err
}

func (j *SQLiteJournal) check() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	return nil
}

// OpenSession registers sessionID. Registering twice is a no-op.
func (j *SQLiteJournal) OpenSession(ctx context.Context, sessionID string) error {
	if err := j.check(); err != nil {
		return err
	}
	if _, err := j.openSession.ExecContext(ctx, sessionID); err != nil {
		metrics.RecordJournalError()
		return fmt.Errorf("open session %s: %w", sessionID, err)
	}
	return nil
}

// CloseSession marks sessionID closed with reason.
func (j *SQLiteJournal) CloseSession(ctx context.Context, sessionID, reason string) error {
	if err := j.check(); err != nil {
		return err
	}
	res, err := j.closeSession.ExecContext(ctx, reason, sessionID)
	if err != nil {
		metrics.RecordJournalError()
		return fmt.Errorf("close session %s: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return nil
}

// Append writes snaps after the session's last sequence number in one
// transaction.
func (j *SQLiteJournal) Append(ctx context.Context, sessionID string, snaps []caret.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	if err := j.check(); err != nil {
		return err
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var seq int64
	if err := tx.StmtContext(ctx, j.nextSeq).QueryRowContext(ctx, sessionID).Scan(&seq); err != nil {
		metrics.RecordJournalError()
		return fmt.Errorf("next seq: %w", err)
	}

	insert := tx.StmtContext(ctx, j.insertSnap)
	for _, s := range snaps {
		payload, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		seq++
		if _, err := insert.ExecContext(ctx,
			sessionID, seq, s.Primary.String(), s.Caret, s.TextLen, int64(s.TimestampMS), string(payload),
		); err != nil {
			metrics.RecordJournalError()
			if isForeignKey(err) {
				return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
			}
			return fmt.Errorf("insert snapshot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordJournalError()
		return fmt.Errorf("commit: %w", err)
	}
	metrics.RecordJournalWrite(len(snaps))
	return nil
}

// List returns the newest limit entries for sessionID, oldest first.
// A non-positive limit returns everything.
func (j *SQLiteJournal) List(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if err := j.check(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.listSnaps.QueryContext(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			payload string
		)
		if err := rows.Scan(&e.SessionID, &e.Seq, &payload, &e.RecordedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &e.Snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot %d: %w", e.Seq, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// Prune deletes sessions closed before closedBefore together with their
// snapshots and returns the number of sessions removed.
func (j *SQLiteJournal) Prune(ctx context.Context, closedBefore time.Time) (int64, error) {
	if err := j.check(); err != nil {
		return 0, err
	}
	res, err := j.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE closed_at IS NOT NULL AND closed_at < ?",
		closedBefore.UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the prepared statements and, for journals made by Open,
// the database.
func (j *SQLiteJournal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	stmts := []*sql.Stmt{j.openSession, j.closeSession, j.nextSeq, j.insertSnap, j.listSnaps}
	var errs []error
	for _, st := range stmts {
		if st != nil {
			errs = append(errs, st.Close())
		}
	}
	if j.ownsDB {
		errs = append(errs, j.db.Close())
	}
	return errors.Join(errs...)
}

func isForeignKey(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
