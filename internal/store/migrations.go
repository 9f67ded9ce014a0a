package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one forward-only schema step.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations are applied in order; versions never change once released.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create courses, lessons and chunks with FTS5",
		SQL: `
			CREATE TABLE courses (
				title       TEXT PRIMARY KEY,
				link        TEXT NOT NULL DEFAULT '',
				instructor  TEXT NOT NULL DEFAULT '',
				created_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE lessons (
				course_title  TEXT NOT NULL REFERENCES courses(title) ON DELETE CASCADE,
				number        INTEGER NOT NULL,
				title         TEXT NOT NULL,
				link          TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (course_title, number)
			);

			CREATE TABLE course_chunks (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				course_title   TEXT NOT NULL REFERENCES courses(title) ON DELETE CASCADE,
				lesson_number  INTEGER,
				chunk_index    INTEGER NOT NULL,
				content        TEXT NOT NULL
			);

			CREATE INDEX idx_chunks_course ON course_chunks (course_title, lesson_number);

			CREATE VIRTUAL TABLE chunks_fts USING fts5(
				content,
				content='course_chunks',
				content_rowid='id'
			);

			CREATE TRIGGER chunks_ai AFTER INSERT ON course_chunks BEGIN
				INSERT INTO chunks_fts(rowid, content) VALUES (new.id, new.content);
			END;

			CREATE TRIGGER chunks_ad AFTER DELETE ON course_chunks BEGIN
				INSERT INTO chunks_fts(chunks_fts, rowid, content)
				VALUES ('delete', old.id, old.content);
			END;

			CREATE TRIGGER chunks_au AFTER UPDATE ON course_chunks BEGIN
				INSERT INTO chunks_fts(chunks_fts, rowid, content)
				VALUES ('delete', old.id, old.content);
				INSERT INTO chunks_fts(rowid, content) VALUES (new.id, new.content);
			END;

			CREATE VIRTUAL TABLE courses_fts USING fts5(
				title,
				instructor,
				content='courses',
				content_rowid='rowid'
			);

			CREATE TRIGGER courses_ai AFTER INSERT ON courses BEGIN
				INSERT INTO courses_fts(rowid, title, instructor)
				VALUES (new.rowid, new.title, new.instructor);
			END;

			CREATE TRIGGER courses_ad AFTER DELETE ON courses BEGIN
				INSERT INTO courses_fts(courses_fts, rowid, title, instructor)
				VALUES ('delete', old.rowid, old.title, old.instructor);
			END;

			CREATE TRIGGER courses_au AFTER UPDATE ON courses BEGIN
				INSERT INTO courses_fts(courses_fts, rowid, title, instructor)
				VALUES ('delete', old.rowid, old.title, old.instructor);
				INSERT INTO courses_fts(rowid, title, instructor)
				VALUES (new.rowid, new.title, new.instructor);
			END;
		`,
	},
	{
		Version: 2,
		Name:    "create sessions and messages",
		SQL: `
			CREATE TABLE sessions (
				id          TEXT PRIMARY KEY,
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE messages (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				role        TEXT NOT NULL,
				content     TEXT NOT NULL,
				timestamp   TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_messages_session ON messages (session_id, id);
		`,
	},
}

// migrate applies every migration newer than the recorded schema version,
// each in its own transaction.
func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.sql.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		db.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")
		if err := db.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func (db *DB) apply(ctx context.Context, m migration) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, m.Version)
		return err
	})
}
