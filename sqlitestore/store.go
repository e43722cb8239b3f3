// Package sqlitestore is an agentsy.Store persisting sessions in a SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/skosovsky/agentsy"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	active     INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	body       TEXT NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

// Store keeps sessions and their messages in SQLite. Like agentsy.MemoryStore it always
// holds at least one session, exactly one of which is active.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ agentsy.SessionStore = (*Store)(nil)

// Open opens (or creates) the database at path and makes sure a session is active.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db %s: %w", path, err)
	}
	// One connection serializes writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create session tables: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var active int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE active = 1`).Scan(&active); err != nil {
			return err
		}
		if active > 0 {
			return nil
		}
		return s.activateNewest(ctx, tx)
	})
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// AppendMessage implements agentsy.Store.
func (s *Store) AppendMessage(ctx context.Context, m agentsy.Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, seq, body)
		SELECT s.id, COALESCE((SELECT MAX(seq) FROM messages WHERE session_id = s.id), 0) + 1, ?
		FROM sessions s WHERE s.active = 1`, string(body))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ActiveSession implements agentsy.Store.
func (s *Store) ActiveSession(ctx context.Context) (agentsy.SessionRecord, error) {
	var id string
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM sessions WHERE active = 1`).Scan(&id); err != nil {
		return agentsy.SessionRecord{}, fmt.Errorf("find active session: %w", err)
	}
	return s.load(ctx, s.db, id)
}

// CreateSession adds an empty session and makes it active.
func (s *Store) CreateSession(ctx context.Context) (agentsy.SessionRecord, error) {
	var rec agentsy.SessionRecord
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		rec, err = s.create(ctx, tx)
		return err
	})
	return rec, err
}

// SwitchSession makes the session with id active. Unknown ids return
// agentsy.ErrSessionNotFound.
func (s *Store) SwitchSession(ctx context.Context, id string) (agentsy.SessionRecord, error) {
	var rec agentsy.SessionRecord
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := activate(ctx, tx, id); err != nil {
			return err
		}
		var err error
		rec, err = s.load(ctx, tx, id)
		return err
	})
	return rec, err
}

// DeleteSession removes the session with id and its messages. Deleting the active session
// activates the newest remaining one; deleting the last session leaves a fresh empty one.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return agentsy.ErrSessionNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
			return err
		}
		var active int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE active = 1`).Scan(&active); err != nil {
			return err
		}
		if active > 0 {
			return nil
		}
		return s.activateNewest(ctx, tx)
	})
}

// Sessions returns every session with its messages, newest first.
func (s *Store) Sessions(ctx context.Context) ([]agentsy.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]agentsy.SessionRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.load(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) load(ctx context.Context, q querier, id string) (agentsy.SessionRecord, error) {
	rec := agentsy.SessionRecord{ID: id}
	var created int64
	err := q.QueryRowContext(ctx, `SELECT created_at FROM sessions WHERE id = ?`, id).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, agentsy.ErrSessionNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("load session %s: %w", id, err)
	}
	rec.CreatedAt = time.Unix(0, created)

	rows, err := q.QueryContext(ctx, `SELECT body FROM messages WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return rec, fmt.Errorf("load messages of %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return rec, err
		}
		var m agentsy.Message
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return rec, fmt.Errorf("decode message of %s: %w", id, err)
		}
		rec.Messages = append(rec.Messages, m)
	}
	return rec, rows.Err()
}

func (s *Store) create(ctx context.Context, tx *sql.Tx) (agentsy.SessionRecord, error) {
	rec := agentsy.SessionRecord{ID: uuid.NewString(), CreatedAt: s.now()}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET active = 0`); err != nil {
		return rec, err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO sessions (id, created_at, active) VALUES (?, ?, 1)`,
		rec.ID, rec.CreatedAt.UnixNano())
	return rec, err
}

// activateNewest activates the newest session, creating one when there is none.
func (s *Store) activateNewest(ctx context.Context, tx *sql.Tx) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM sessions ORDER BY created_at DESC, rowid DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.create(ctx, tx)
		return err
	}
	if err != nil {
		return err
	}
	return activate(ctx, tx, id)
}

func activate(ctx context.Context, tx *sql.Tx, id string) error {
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return agentsy.ErrSessionNotFound
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET active = (id = ?)`, id); err != nil {
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
