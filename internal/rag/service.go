// Package rag answers course questions: it wires the course search tools
// into the response generator and keeps conversation sessions.
package rag

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/soyeahso/coursemate/internal/domain"
	"github.com/soyeahso/coursemate/internal/generator"
	"github.com/soyeahso/coursemate/internal/hooks"
	"github.com/soyeahso/coursemate/internal/logging"
	"github.com/soyeahso/coursemate/internal/search"
	"github.com/soyeahso/coursemate/internal/tool"
)

// ErrEmptyQuery is returned for a blank question.
var ErrEmptyQuery = errors.New("query is empty")

// Catalog is the knowledge base the service searches and reports on.
// store.CourseStore implements it.
type Catalog interface {
	search.Provider
	CourseTitles(ctx context.Context) ([]string, error)
}

// Options configures the service.
type Options struct {
	// MaxHistory is the number of prior exchanges sent with a query.
	MaxHistory int
}

// QueryRequest is a question, optionally within an existing session.
type QueryRequest struct {
	Query     string
	SessionID string
	Observe   generator.Observer
}

// Answer is the outcome of a query.
type Answer struct {
	Answer    string        `json:"answer"`
	Sources   []string      `json:"sources"`
	SessionID string        `json:"session_id"`
	Duration  time.Duration `json:"-"`
}

// Analytics summarizes the course catalog.
type Analytics struct {
	TotalCourses int      `json:"total_courses"`
	CourseTitles []string `json:"course_titles"`
}

// Service is the entry point for answering questions.
type Service struct {
	gen      *generator.Generator
	catalog  Catalog
	sessions SessionStore
	hooks    *hooks.Manager
	opts     Options
	log      *logging.Logger
}

// NewService creates a service. hooks may be nil.
func NewService(
	gen *generator.Generator,
	catalog Catalog,
	sessions SessionStore,
	hm *hooks.Manager,
	opts Options,
	log *logging.Logger,
) *Service {
	if opts.MaxHistory < 0 {
		opts.MaxHistory = 0
	}
	return &Service{
		gen:      gen,
		catalog:  catalog,
		sessions: sessions,
		hooks:    hm,
		opts:     opts,
		log:      log.Sub("rag"),
	}
}

// Tools builds a fresh registry holding the course search tools. Each query
// gets its own registry so citations never leak between concurrent queries.
func (s *Service) Tools() *tool.Registry {
	return search.NewRegistry(s.catalog)
}

// Query answers a question and records the exchange in its session. A
// request without a session id starts a new session.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*Answer, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	start := time.Now()

	isNew := req.SessionID == "" || s.sessions.Get(req.SessionID) == nil
	session := s.sessions.GetOrCreate(req.SessionID)
	if isNew {
		s.hooks.Emit(ctx, hooks.EventSessionStart, map[string]any{"sessionId": session.ID})
	}

	s.hooks.Emit(ctx, hooks.EventQueryReceived, map[string]any{
		"sessionId": session.ID,
		"query":     query,
	})

	history := FormatHistory(s.sessions.History(session.ID), s.opts.MaxHistory)

	tools := s.Tools()
	text := s.gen.Generate(ctx, generator.Request{
		Query:   query,
		History: history,
		Tools:   tools,
		Observe: req.Observe,
	})

	sources := tools.LastCitations()
	tools.ResetCitations()

	s.sessions.Append(session.ID, domain.Message{Role: domain.RoleUser, Content: query, Timestamp: start})
	s.sessions.Append(session.ID, domain.Message{Role: domain.RoleAssistant, Content: text, Timestamp: time.Now()})

	ans := &Answer{
		Answer:    text,
		Sources:   sources,
		SessionID: session.ID,
		Duration:  time.Since(start),
	}

	s.log.Info().
		Str("sessionId", session.ID).
		Int("sources", len(sources)).
		Bool("history", history != "").
		Dur("duration", ans.Duration).
		Msg("query answered")

	s.hooks.Emit(ctx, hooks.EventQueryAnswered, map[string]any{
		"sessionId": session.ID,
		"sources":   len(sources),
		"duration":  ans.Duration.String(),
	})

	return ans, nil
}

// ClearSession deletes a session and its history. Returns true if it
// existed.
func (s *Service) ClearSession(ctx context.Context, id string) bool {
	ok := s.sessions.Delete(id)
	if ok {
		s.hooks.Emit(ctx, hooks.EventSessionCleared, map[string]any{"sessionId": id})
	}
	return ok
}

// Session returns a session with its messages, or nil.
func (s *Service) Session(id string) *domain.Session {
	return s.sessions.Get(id)
}

// CourseAnalytics reports the number of courses and their titles.
func (s *Service) CourseAnalytics(ctx context.Context) (*Analytics, error) {
	titles, err := s.catalog.CourseTitles(ctx)
	if err != nil {
		return nil, err
	}
	if titles == nil {
		titles = []string{}
	}
	return &Analytics{TotalCourses: len(titles), CourseTitles: titles}, nil
}
