// Package ingest parses course transcript files into course records and
// text chunks and loads them into the knowledge base.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/soyeahso/coursemate/internal/domain"
	"github.com/soyeahso/coursemate/internal/logging"
)

// Sink receives parsed courses. store.CourseStore implements it.
type Sink interface {
	HasCourse(ctx context.Context, title string) (bool, error)
	AddCourse(ctx context.Context, c domain.Course) error
	AddChunks(ctx context.Context, chunks []domain.Chunk) error
}

// FileError records a file that could not be loaded.
type FileError struct {
	File  string `yaml:"file"`
	Error string `yaml:"error"`
}

// Report summarizes a directory load.
type Report struct {
	Added   []string    `yaml:"added"`
	Skipped []string    `yaml:"skipped"`
	Failed  []FileError `yaml:"failed,omitempty"`
	Chunks  int         `yaml:"chunks"`
}

// Loader loads course files into a Sink.
type Loader struct {
	sink Sink
	opts ChunkOptions
	log  *logging.Logger
}

// NewLoader creates a loader.
func NewLoader(sink Sink, opts ChunkOptions, log *logging.Logger) *Loader {
	return &Loader{sink: sink, opts: opts.withDefaults(), log: log.Sub("ingest")}
}

// LoadDir loads every .txt file in dir, in name order. Courses whose title
// already exists are skipped. A file that fails to parse or store is
// recorded in the report and does not stop the load.
func (l *Loader) LoadDir(ctx context.Context, dir string) (*Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".txt") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)

	report := &Report{Added: []string{}, Skipped: []string{}}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		title, n, err := l.LoadFile(ctx, path)
		switch {
		case err != nil:
			l.log.Warn().Err(err).Str("file", path).Msg("failed to load course file")
			report.Failed = append(report.Failed, FileError{File: path, Error: err.Error()})
		case n < 0:
			report.Skipped = append(report.Skipped, title)
		default:
			report.Added = append(report.Added, title)
			report.Chunks += n
		}
	}

	l.log.Info().
		Int("added", len(report.Added)).
		Int("skipped", len(report.Skipped)).
		Int("failed", len(report.Failed)).
		Int("chunks", report.Chunks).
		Msg("course directory loaded")
	return report, nil
}

// LoadFile parses and stores one course file. It returns the course title
// and the number of chunks stored, or -1 when the course already exists.
func (l *Loader) LoadFile(ctx context.Context, path string) (string, int, error) {
	doc, err := ParseCourseFile(path, l.opts)
	if err != nil {
		return "", 0, err
	}

	title := doc.Course.Title
	exists, err := l.sink.HasCourse(ctx, title)
	if err != nil {
		return title, 0, fmt.Errorf("checking course %q: %w", title, err)
	}
	if exists {
		l.log.Debug().Str("course", title).Msg("course already loaded, skipping")
		return title, -1, nil
	}

	if err := l.sink.AddCourse(ctx, doc.Course); err != nil {
		return title, 0, err
	}
	if err := l.sink.AddChunks(ctx, doc.Chunks); err != nil {
		return title, 0, err
	}

	l.log.Info().
		Str("course", title).
		Int("lessons", len(doc.Course.Lessons)).
		Int("chunks", len(doc.Chunks)).
		Msg("course loaded")
	return title, len(doc.Chunks), nil
}
