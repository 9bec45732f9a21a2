// Package archive handles SQLite persistence for pulled session logs.
package archive

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver.

	"rotomod/host/link"
)

// Archive wraps SQLite access for session data.
type Archive struct {
	db *sql.DB
}

// Session describes one stored session log.
type Session struct {
	ID        int64
	Device    string
	PulledAt  time.Time
	Records   int
	WrapPoint int
	Unipolar  bool
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Archive, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return a, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY,
			device TEXT NOT NULL,
			pulled_at TEXT NOT NULL,
			records INTEGER NOT NULL,
			wrap_point INTEGER NOT NULL,
			unipolar INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS samples (
			session_id INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			position INTEGER NOT NULL,
			time_us INTEGER NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_pulled_at ON sessions(pulled_at);`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveSession stores one pulled session log and its samples.
func (a *Archive) SaveSession(ctx context.Context, s Session, entries []link.LogEntry) (int64, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	pulledAt := s.PulledAt
	if pulledAt.IsZero() {
		pulledAt = time.Now()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (device, pulled_at, records, wrap_point, unipolar)
		 VALUES (?, ?, ?, ?, ?)`,
		s.Device,
		pulledAt.Format(time.RFC3339Nano),
		len(entries),
		s.WrapPoint,
		s.Unipolar,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if len(entries) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO samples (session_id, seq, position, time_us)
			 VALUES (?, ?, ?, ?)`)
		if err != nil {
			return 0, err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for i, e := range entries {
			if _, err := stmt.ExecContext(ctx, id, i, e.Position, e.Time); err != nil {
				return 0, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// ListSessions returns stored sessions, newest first.
func (a *Archive) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, device, pulled_at, records, wrap_point, unipolar
		 FROM sessions
		 ORDER BY pulled_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var sessions []Session
	for rows.Next() {
		var s Session
		var pulledAt string
		if err := rows.Scan(&s.ID, &s.Device, &pulledAt, &s.Records, &s.WrapPoint, &s.Unipolar); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, pulledAt)
		if err != nil {
			return nil, err
		}
		s.PulledAt = parsed
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Samples returns a session's samples in recording order.
func (a *Archive) Samples(ctx context.Context, sessionID int64) ([]link.LogEntry, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT position, time_us FROM samples
		 WHERE session_id = ?
		 ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var entries []link.LogEntry
	for rows.Next() {
		var e link.LogEntry
		if err := rows.Scan(&e.Position, &e.Time); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteSession removes a session and its samples.
func (a *Archive) DeleteSession(ctx context.Context, sessionID int64) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM samples WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}
