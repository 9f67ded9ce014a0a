package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soyeahso/coursemate/internal/tool"
)

// OutlineToolName is the name the outline tool is advertised under.
const OutlineToolName = "get_course_outline"

// OutlineTool returns a course's title, link and lesson list.
type OutlineTool struct {
	provider Provider
}

// NewOutlineTool creates an outline tool over provider.
func NewOutlineTool(provider Provider) *OutlineTool {
	return &OutlineTool{provider: provider}
}

type outlineArgs struct {
	CourseTitle string `json:"course_title"`
}

// Definition returns the tool definition.
func (t *OutlineTool) Definition() tool.Definition {
	return tool.Definition{
		Name:        OutlineToolName,
		Description: "Get course outline information including course title, link, and complete lesson list with numbers and titles",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"course_title": map[string]any{
					"type":        "string",
					"description": "Course title to get outline for",
				},
			},
			"required":             []string{"course_title"},
			"additionalProperties": false,
		},
	}
}

// Execute resolves the course and renders its outline.
func (t *OutlineTool) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	var args outlineArgs
	if err := tool.DecodeArgs(raw, &args); err != nil {
		return "", err
	}

	resolved, ok := t.provider.ResolveCourseName(ctx, args.CourseTitle)
	if !ok {
		return fmt.Sprintf("No course found matching '%s'", args.CourseTitle), nil
	}

	course, err := t.provider.CourseRecord(ctx, resolved)
	if err != nil {
		return fmt.Sprintf("Error retrieving course outline: %v", err), nil
	}
	if course == nil {
		return fmt.Sprintf("Course metadata not found for '%s'", resolved), nil
	}

	title := course.Title
	if title == "" {
		title = resolved
	}
	link := course.Link
	if link == "" {
		link = "No link available"
	}

	lines := []string{
		"Course Title: " + title,
		"Course Link: " + link,
		"Lessons:",
	}
	if len(course.Lessons) == 0 {
		lines = append(lines, "  No lessons available")
	}
	for _, l := range course.Lessons {
		lessonTitle := l.Title
		if lessonTitle == "" {
			lessonTitle = "Untitled"
		}
		lines = append(lines, fmt.Sprintf("  %d. %s", l.Number, lessonTitle))
	}

	return strings.Join(lines, "\n"), nil
}
