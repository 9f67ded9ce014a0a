// Package search implements the course tools the model uses to look up
// course content and course outlines.
package search

import (
	"context"

	"github.com/soyeahso/coursemate/internal/domain"
	"github.com/soyeahso/coursemate/internal/tool"
)

// Query is a content search with optional course and lesson filters.
type Query struct {
	Text         string
	CourseName   *string // fuzzy course title, resolved by the provider
	LessonNumber *int
}

// ChunkMeta describes where a retrieved chunk came from.
type ChunkMeta struct {
	CourseTitle  string
	LessonNumber *int
}

// Results is the outcome of a search. Documents and Metadata are parallel.
// A non-empty Error means the search failed and is shown to the model as-is.
type Results struct {
	Documents []string
	Metadata  []ChunkMeta
	Error     string
}

// Empty reports whether the search returned no documents.
func (r Results) Empty() bool { return len(r.Documents) == 0 }

// Provider is the knowledge-base boundary the course tools consume.
type Provider interface {
	// Search runs a content query. Failures are reported in Results.Error.
	Search(ctx context.Context, q Query) Results

	// LessonLink returns the link of a lesson, if one is known.
	LessonLink(ctx context.Context, courseTitle string, lessonNumber int) (string, bool)

	// ResolveCourseName maps a partial or fuzzy title to a canonical course title.
	ResolveCourseName(ctx context.Context, fuzzy string) (string, bool)

	// CourseRecord returns the course with the given canonical title, or nil
	// when it does not exist.
	CourseRecord(ctx context.Context, title string) (*domain.Course, error)
}

// NewRegistry returns a registry holding the content and outline tools
// backed by p.
func NewRegistry(p Provider) *tool.Registry {
	reg := tool.NewRegistry()
	reg.MustRegister(NewContentTool(p))
	reg.MustRegister(NewOutlineTool(p))
	return reg
}
