package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/coursemate/internal/domain"
)

// sessionTimeout bounds each session query; the session interface carries
// no context of its own.
const sessionTimeout = 5 * time.Second

// tsLayout keeps sub-second precision so history and recency order hold
// within one second.
const tsLayout = time.RFC3339Nano

// SQLiteSessionStore keeps conversation sessions in the sessions and
// messages tables, so history survives restarts.
type SQLiteSessionStore struct {
	db *DB
}

func NewSQLiteSessionStore(db *DB) *SQLiteSessionStore {
	return &SQLiteSessionStore{db: db}
}

func (s *SQLiteSessionStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), sessionTimeout)
}

// GetOrCreate returns session id, creating it if needed. An empty id gets a
// new random one.
func (s *SQLiteSessionStore) GetOrCreate(id string) *domain.Session {
	if id == "" {
		id = uuid.New().String()
	}
	ctx, cancel := s.ctx()
	defer cancel()

	now := time.Now().UTC().Format(tsLayout)
	if _, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		id, now, now,
	); err != nil {
		s.db.log.Error().Err(err).Str("sessionId", id).Msg("failed to create session")
	}

	if sess, err := s.load(ctx, id, false); err == nil {
		return sess
	}
	t, _ := time.Parse(tsLayout, now)
	return &domain.Session{ID: id, CreatedAt: t, UpdatedAt: t}
}

// Get returns the session with its messages, or nil.
func (s *SQLiteSessionStore) Get(id string) *domain.Session {
	ctx, cancel := s.ctx()
	defer cancel()
	sess, err := s.load(ctx, id, true)
	if err != nil {
		return nil
	}
	return sess
}

func (s *SQLiteSessionStore) load(ctx context.Context, id string, withMessages bool) (*domain.Session, error) {
	var created, updated string
	sess := &domain.Session{ID: id}
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&created, &updated)
	if err != nil {
		return nil, err
	}
	sess.CreatedAt = parseTS(created)
	sess.UpdatedAt = parseTS(updated)
	if withMessages {
		sess.Messages = s.history(ctx, id)
	}
	return sess, nil
}

// Append stores msg and bumps the session's updated_at in one transaction.
// The session row is created if it is missing.
func (s *SQLiteSessionStore) Append(sessionID string, msg domain.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	ctx, cancel := s.ctx()
	defer cancel()

	err := s.db.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC().Format(tsLayout)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
			sessionID, now, now,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
			sessionID, msg.Role, msg.Content, msg.Timestamp.UTC().Format(tsLayout),
		)
		return err
	})
	if err != nil {
		s.db.log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to append message")
	}
}

// History returns the session's messages oldest first.
func (s *SQLiteSessionStore) History(sessionID string) []domain.Message {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.history(ctx, sessionID)
}

func (s *SQLiteSessionStore) history(ctx context.Context, sessionID string) []domain.Message {
	msgs, err := queryAll(ctx, s.db.sql,
		`SELECT role, content, timestamp FROM messages WHERE session_id = ? ORDER BY id`,
		func(rows *sql.Rows) (domain.Message, error) {
			var m domain.Message
			var ts string
			err := rows.Scan(&m.Role, &m.Content, &ts)
			m.Timestamp = parseTS(ts)
			return m, err
		}, sessionID)
	if err != nil {
		s.db.log.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to read history")
	}
	return msgs
}

// Delete removes the session and, by cascade, its messages.
func (s *SQLiteSessionStore) Delete(id string) bool {
	ctx, cancel := s.ctx()
	defer cancel()
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		s.db.log.Error().Err(err).Str("sessionId", id).Msg("failed to delete session")
		return false
	}
	n, _ := res.RowsAffected()
	return n > 0
}

// List returns session ids, most recently updated first.
func (s *SQLiteSessionStore) List() []string {
	ctx, cancel := s.ctx()
	defer cancel()
	ids, _ := queryAll(ctx, s.db.sql, `SELECT id FROM sessions ORDER BY updated_at DESC, id`,
		func(rows *sql.Rows) (string, error) {
			var id string
			err := rows.Scan(&id)
			return id, err
		})
	return ids
}

// parseTS reads both our own layout and SQLite's datetime('now') default.
func parseTS(s string) time.Time {
	if t, err := time.Parse(tsLayout, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.DateTime, s)
	return t
}
