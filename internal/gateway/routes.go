package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/soyeahso/coursemate/internal/generator"
	"github.com/soyeahso/coursemate/internal/rag"
)

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/query", s.requireAuth(s.handleQuery))
	mux.HandleFunc("GET /api/courses", s.requireAuth(s.handleCourses))
	mux.HandleFunc("GET /api/sessions/{id}", s.requireAuth(s.handleGetSession))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.requireAuth(s.handleDeleteSession))

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all WebSocket method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("query", s.rpcQuery)
	s.Handle("courses", s.rpcCourses)
	s.Handle("session.get", s.rpcSessionGet)
	s.Handle("session.clear", s.rpcSessionClear)
}

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:  "ok",
		Version: s.version,
		Clients: s.clients.count(),
	})
}

// rpcQuery answers a question, streaming one query.progress event per loop
// step before the final response.
func (s *Server) rpcQuery(rc *RequestContext) {
	var p QueryParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if p.SessionID == "" {
		p.SessionID = rc.Client.Session()
	}

	ctx, cancel := context.WithTimeout(rc.Client.Context(), s.queryTimeout)
	defer cancel()

	ans, err := s.service.Query(ctx, rag.QueryRequest{
		Query:     p.Query,
		SessionID: p.SessionID,
		Observe: func(e generator.Event) {
			err := rc.Client.SendEvent(EventQueryProgress, QueryProgress{
				RequestID: rc.Frame.ID,
				Step:      e,
			}, s.eventSeq.Add(1))
			if err != nil {
				s.log.Debug().Err(err).Str("connId", rc.Client.ConnID).Msg("progress event dropped")
			}
		},
	})
	if errors.Is(err, rag.ErrEmptyQuery) {
		rc.RespondError(CodeInvalidParams, "query is required")
		return
	}
	if err != nil {
		rc.RespondError(CodeQuery, err.Error())
		return
	}

	rc.Client.answered(ans.SessionID)
	rc.Respond(ans)
}

func (s *Server) rpcCourses(rc *RequestContext) {
	a, err := s.service.CourseAnalytics(rc.Client.Context())
	if err != nil {
		rc.RespondError(CodeCatalog, err.Error())
		return
	}
	rc.Respond(a)
}

func (s *Server) sessionParam(rc *RequestContext) (string, bool) {
	var p SessionParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return "", false
	}
	if p.SessionID == "" {
		p.SessionID = rc.Client.Session()
	}
	if p.SessionID == "" {
		rc.RespondError(CodeInvalidParams, "session_id is required")
		return "", false
	}
	return p.SessionID, true
}

func (s *Server) rpcSessionGet(rc *RequestContext) {
	id, ok := s.sessionParam(rc)
	if !ok {
		return
	}
	sess := s.service.Session(id)
	if sess == nil {
		rc.RespondError(CodeNotFound, "session not found: "+id)
		return
	}
	rc.Respond(sess)
}

func (s *Server) rpcSessionClear(rc *RequestContext) {
	id, ok := s.sessionParam(rc)
	if !ok {
		return
	}
	if !s.service.ClearSession(rc.Client.Context(), id) {
		rc.RespondError(CodeNotFound, "session not found: "+id)
		return
	}
	rc.Client.forget(id)
	rc.Respond(map[string]any{"session_id": id, "cleared": true})
}
