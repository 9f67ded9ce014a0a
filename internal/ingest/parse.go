package ingest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/soyeahso/coursemate/internal/domain"
)

var (
	courseTitleRe      = regexp.MustCompile(`(?i)^course title:\s*(.*)$`)
	courseLinkRe       = regexp.MustCompile(`(?i)^course link:\s*(.*)$`)
	courseInstructorRe = regexp.MustCompile(`(?i)^course instructor:\s*(.*)$`)
	lessonRe           = regexp.MustCompile(`(?i)^lesson\s+(\d+):\s*(.*)$`)
	lessonLinkRe       = regexp.MustCompile(`(?i)^lesson link:\s*(.*)$`)
)

// Document is a parsed course transcript: the course record and its
// content chunks.
type Document struct {
	Course domain.Course
	Chunks []domain.Chunk
}

// ParseCourseFile reads a course transcript from disk. The file name
// without extension is used as the title when the header has none.
func ParseCourseFile(path string, opts ChunkOptions) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	doc, err := Parse(f, name, opts)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc, nil
}

// Parse reads the transcript format:
//
//	Course Title: <title>
//	Course Link: <url>
//	Course Instructor: <name>
//
//	Lesson 0: <lesson title>
//	Lesson Link: <url>
//	<lesson text...>
//
// Text before the first lesson marker is chunked without a lesson number
// when the file declares no lessons at all.
func Parse(r io.Reader, fallbackTitle string, opts ChunkOptions) (*Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	doc := &Document{}
	var (
		preamble []string
		lesson   *domain.Lesson
		body     []string
		awaiting bool // next line may be the lesson link
	)

	flush := func() {
		if lesson == nil {
			return
		}
		doc.Course.Lessons = append(doc.Course.Lessons, *lesson)
		doc.addChunks(lesson.Number, strings.Join(body, "\n"), opts)
		body = nil
	}

	inHeader := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if inHeader {
			if m := courseTitleRe.FindStringSubmatch(line); m != nil {
				doc.Course.Title = strings.TrimSpace(m[1])
				continue
			}
			if m := courseLinkRe.FindStringSubmatch(line); m != nil {
				doc.Course.Link = strings.TrimSpace(m[1])
				continue
			}
			if m := courseInstructorRe.FindStringSubmatch(line); m != nil {
				doc.Course.Instructor = strings.TrimSpace(m[1])
				continue
			}
		}

		if m := lessonRe.FindStringSubmatch(line); m != nil {
			inHeader = false
			flush()
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, fmt.Errorf("lesson number %q: %w", m[1], err)
			}
			lesson = &domain.Lesson{Number: n, Title: strings.TrimSpace(m[2])}
			awaiting = true
			continue
		}

		if awaiting {
			awaiting = false
			if m := lessonLinkRe.FindStringSubmatch(line); m != nil {
				lesson.Link = strings.TrimSpace(m[1])
				continue
			}
		}

		if lesson == nil {
			inHeader = false
			preamble = append(preamble, line)
		} else {
			body = append(body, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()

	if doc.Course.Title == "" {
		doc.Course.Title = fallbackTitle
	}
	if doc.Course.Title == "" {
		return nil, fmt.Errorf("course has no title")
	}
	for i := range doc.Chunks {
		doc.Chunks[i].CourseTitle = doc.Course.Title
	}

	if len(doc.Course.Lessons) == 0 && len(preamble) > 0 {
		for _, text := range ChunkText(strings.Join(preamble, "\n"), opts) {
			doc.Chunks = append(doc.Chunks, domain.Chunk{
				CourseTitle: doc.Course.Title,
				Index:       len(doc.Chunks),
				Content:     text,
			})
		}
	}

	return doc, nil
}

func (d *Document) addChunks(lessonNumber int, text string, opts ChunkOptions) {
	for i, c := range ChunkText(text, opts) {
		if i == 0 {
			c = fmt.Sprintf("Lesson %d content: %s", lessonNumber, c)
		}
		n := lessonNumber
		d.Chunks = append(d.Chunks, domain.Chunk{
			LessonNumber: &n,
			Index:        len(d.Chunks),
			Content:      c,
		})
	}
}
