package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/soyeahso/coursemate/internal/tool"
)

// ContentToolName is the name the content search tool is advertised under.
const ContentToolName = "search_course_content"

// ContentTool searches course material and remembers the sources of its
// last successful search.
type ContentTool struct {
	provider Provider

	mu      sync.Mutex
	sources []string
}

// NewContentTool creates a content search tool over provider.
func NewContentTool(provider Provider) *ContentTool {
	return &ContentTool{provider: provider}
}

type contentArgs struct {
	Query        string  `json:"query"`
	CourseName   *string `json:"course_name"`
	LessonNumber *int    `json:"lesson_number"`
}

// Definition returns the tool definition.
func (t *ContentTool) Definition() tool.Definition {
	return tool.Definition{
		Name:        ContentToolName,
		Description: "Search course materials with smart course name matching and lesson filtering",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to search for in the course content",
				},
				"course_name": map[string]any{
					"type":        "string",
					"description": "Course title (partial matches work, e.g. 'MCP', 'Introduction')",
				},
				"lesson_number": map[string]any{
					"type":        "integer",
					"description": "Specific lesson number to search within (e.g. 1, 2, 3)",
				},
			},
			"required":             []string{"query"},
			"additionalProperties": false,
		},
	}
}

// Execute runs the search and formats one block per retrieved chunk.
func (t *ContentTool) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	var args contentArgs
	if err := tool.DecodeArgs(raw, &args); err != nil {
		return "", err
	}

	results := t.provider.Search(ctx, Query{
		Text:         args.Query,
		CourseName:   args.CourseName,
		LessonNumber: args.LessonNumber,
	})

	if results.Error != "" {
		return results.Error, nil
	}

	if results.Empty() {
		var filter strings.Builder
		if args.CourseName != nil && *args.CourseName != "" {
			fmt.Fprintf(&filter, " in course '%s'", *args.CourseName)
		}
		if args.LessonNumber != nil && *args.LessonNumber != 0 {
			fmt.Fprintf(&filter, " in lesson %d", *args.LessonNumber)
		}
		return "No relevant content found" + filter.String() + ".", nil
	}

	return t.format(ctx, results), nil
}

func (t *ContentTool) format(ctx context.Context, results Results) string {
	blocks := make([]string, 0, len(results.Documents))
	sources := make([]string, 0, len(results.Documents))

	for i, doc := range results.Documents {
		var meta ChunkMeta
		if i < len(results.Metadata) {
			meta = results.Metadata[i]
		}
		title := meta.CourseTitle
		if title == "" {
			title = "unknown"
		}

		header := "[" + title
		source := title
		if meta.LessonNumber != nil {
			lesson := fmt.Sprintf(" - Lesson %d", *meta.LessonNumber)
			header += lesson
			source += lesson
			if link, ok := t.provider.LessonLink(ctx, title, *meta.LessonNumber); ok && link != "" {
				source += "||" + link
			}
		}
		header += "]"

		blocks = append(blocks, header+"\n"+doc)
		sources = append(sources, source)
	}

	t.mu.Lock()
	t.sources = sources
	t.mu.Unlock()

	return strings.Join(blocks, "\n\n")
}

// LastCitations returns the sources of the last successful search.
func (t *ContentTool) LastCitations() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sources...)
}

// ResetCitations clears the recorded sources.
func (t *ContentTool) ResetCitations() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sources = nil
}
