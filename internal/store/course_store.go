package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/soyeahso/coursemate/internal/domain"
	"github.com/soyeahso/coursemate/internal/search"
)

// CourseStore holds course metadata and lesson chunks, and answers content
// searches through SQLite FTS5. It implements search.Provider.
type CourseStore struct {
	db         *DB
	maxResults int
}

var _ search.Provider = (*CourseStore)(nil)

// NewCourseStore creates a course store. maxResults caps search results;
// 0 defaults to 5.
func NewCourseStore(db *DB, maxResults int) *CourseStore {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &CourseStore{db: db, maxResults: maxResults}
}

// AddCourse inserts a course and its lessons, replacing lessons of an
// existing course with the same title.
func (s *CourseStore) AddCourse(ctx context.Context, c domain.Course) error {
	if c.Title == "" {
		return errors.New("course title is required")
	}

	return s.db.inTx(ctx, func(tx *sql.Tx) error {
		return writeCourse(ctx, tx, c)
	})
}

func writeCourse(ctx context.Context, tx *sql.Tx, c domain.Course) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO courses (title, link, instructor) VALUES (?, ?, ?)
		 ON CONFLICT(title) DO UPDATE SET link = excluded.link, instructor = excluded.instructor`,
		c.Title, c.Link, c.Instructor,
	); err != nil {
		return fmt.Errorf("inserting course %q: %w", c.Title, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM lessons WHERE course_title = ?`, c.Title); err != nil {
		return fmt.Errorf("clearing lessons of %q: %w", c.Title, err)
	}
	for _, l := range c.Lessons {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lessons (course_title, number, title, link) VALUES (?, ?, ?, ?)`,
			c.Title, l.Number, l.Title, l.Link,
		); err != nil {
			return fmt.Errorf("inserting lesson %d of %q: %w", l.Number, c.Title, err)
		}
	}
	return nil
}

// AddChunks inserts content chunks. Their courses must already exist.
func (s *CourseStore) AddChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	return s.db.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO course_chunks (course_title, lesson_number, chunk_index, content) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing chunk insert: %w", err)
		}
		defer stmt.Close()

		for _, ch := range chunks {
			var lesson sql.NullInt64
			if ch.LessonNumber != nil {
				lesson = sql.NullInt64{Int64: int64(*ch.LessonNumber), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, ch.CourseTitle, lesson, ch.Index, ch.Content); err != nil {
				return fmt.Errorf("inserting chunk %d of %q: %w", ch.Index, ch.CourseTitle, err)
			}
		}
		return nil
	})
}

// HasCourse reports whether a course with exactly this title exists.
func (s *CourseStore) HasCourse(ctx context.Context, title string) (bool, error) {
	var n int
	err := s.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM courses WHERE title = ?`, title).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CourseTitles returns all course titles in alphabetical order.
func (s *CourseStore) CourseTitles(ctx context.Context) ([]string, error) {
	titles, err := queryAll(ctx, s.db.sql, `SELECT title FROM courses ORDER BY title`,
		func(rows *sql.Rows) (string, error) {
			var t string
			err := rows.Scan(&t)
			return t, err
		})
	if titles == nil && err == nil {
		titles = []string{}
	}
	return titles, err
}

// DeleteCourse removes a course with its lessons and chunks.
func (s *CourseStore) DeleteCourse(ctx context.Context, title string) error {
	_, err := s.db.sql.ExecContext(ctx, `DELETE FROM courses WHERE title = ?`, title)
	return err
}

// Search runs a full-text query over chunks, optionally restricted to a
// fuzzily resolved course and a lesson number.
func (s *CourseStore) Search(ctx context.Context, q search.Query) search.Results {
	var where []string
	var args []any

	match := ftsQuery(q.Text)
	if match == "" {
		return search.Results{}
	}
	args = append(args, match)

	if q.CourseName != nil && *q.CourseName != "" {
		title, ok := s.ResolveCourseName(ctx, *q.CourseName)
		if !ok {
			return search.Results{Error: fmt.Sprintf("No course found matching '%s'", *q.CourseName)}
		}
		where = append(where, "c.course_title = ?")
		args = append(args, title)
	}
	if q.LessonNumber != nil {
		where = append(where, "c.lesson_number = ?")
		args = append(args, *q.LessonNumber)
	}
	args = append(args, s.maxResults)

	query := `SELECT c.course_title, c.lesson_number, c.content
		FROM chunks_fts
		JOIN course_chunks c ON c.id = chunks_fts.rowid
		WHERE chunks_fts MATCH ?`
	for _, w := range where {
		query += " AND " + w
	}
	query += " ORDER BY rank LIMIT ?"

	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return search.Results{Error: "Search error: " + err.Error()}
	}
	defer rows.Close()

	var res search.Results
	for rows.Next() {
		var title, content string
		var lesson sql.NullInt64
		if err := rows.Scan(&title, &lesson, &content); err != nil {
			return search.Results{Error: "Search error: " + err.Error()}
		}
		meta := search.ChunkMeta{CourseTitle: title}
		if lesson.Valid {
			n := int(lesson.Int64)
			meta.LessonNumber = &n
		}
		res.Documents = append(res.Documents, content)
		res.Metadata = append(res.Metadata, meta)
	}
	if err := rows.Err(); err != nil {
		return search.Results{Error: "Search error: " + err.Error()}
	}
	return res
}

// LessonLink returns the link of a lesson, if one is recorded.
func (s *CourseStore) LessonLink(ctx context.Context, courseTitle string, lessonNumber int) (string, bool) {
	var link string
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT link FROM lessons WHERE course_title = ? AND number = ?`,
		courseTitle, lessonNumber,
	).Scan(&link)
	if err != nil || link == "" {
		return "", false
	}
	return link, true
}

// ResolveCourseName maps a partial title to a canonical one. It tries a
// case-insensitive exact match, then the shortest title containing the
// input, then the best FTS5 match over titles and instructors.
func (s *CourseStore) ResolveCourseName(ctx context.Context, fuzzy string) (string, bool) {
	fuzzy = strings.TrimSpace(fuzzy)
	if fuzzy == "" {
		return "", false
	}

	var title string
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT title FROM courses WHERE title = ? COLLATE NOCASE LIMIT 1`, fuzzy,
	).Scan(&title)
	if err == nil {
		return title, true
	}

	err = s.db.sql.QueryRowContext(ctx,
		`SELECT title FROM courses WHERE instr(lower(title), lower(?)) > 0
		 ORDER BY length(title), title LIMIT 1`, fuzzy,
	).Scan(&title)
	if err == nil {
		return title, true
	}

	match := ftsQuery(fuzzy)
	if match == "" {
		return "", false
	}
	err = s.db.sql.QueryRowContext(ctx,
		`SELECT c.title FROM courses_fts
		 JOIN courses c ON c.rowid = courses_fts.rowid
		 WHERE courses_fts MATCH ?
		 ORDER BY rank LIMIT 1`, match,
	).Scan(&title)
	if err != nil {
		return "", false
	}
	return title, true
}

// CourseRecord returns the course with its lessons ordered by number, or
// nil when no course has this title.
func (s *CourseStore) CourseRecord(ctx context.Context, title string) (*domain.Course, error) {
	var c domain.Course
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT title, link, instructor FROM courses WHERE title = ?`, title,
	).Scan(&c.Title, &c.Link, &c.Instructor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.Lessons, err = queryAll(ctx, s.db.sql,
		`SELECT number, title, link FROM lessons WHERE course_title = ? ORDER BY number`,
		func(rows *sql.Rows) (domain.Lesson, error) {
			var l domain.Lesson
			err := rows.Scan(&l.Number, &l.Title, &l.Link)
			return l, err
		}, title)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ftsQuery turns free text into an FTS5 query that ORs every word as a
// quoted term, so user punctuation cannot break the MATCH syntax.
func ftsQuery(text string) string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(words))
	for _, w := range words {
		terms = append(terms, `"`+strings.ToLower(w)+`"`)
	}
	return strings.Join(terms, " OR ")
}
