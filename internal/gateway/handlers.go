package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/soyeahso/coursemate/internal/rag"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 1 << 20

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only populates Status; the RPC handler populates all fields.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Clients int    `json:"clients,omitempty"`
}

type errorBody struct {
	Error ErrorShape `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: ErrorShape{Code: code, Message: message}})
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

// handleQuery answers a question: POST /api/query {query, session_id?}.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var p QueryParams
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidParams, "invalid JSON body: "+err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.queryTimeout)
	defer cancel()

	ans, err := s.service.Query(ctx, rag.QueryRequest{Query: p.Query, SessionID: p.SessionID})
	if errors.Is(err, rag.ErrEmptyQuery) {
		writeError(w, http.StatusBadRequest, CodeInvalidParams, "query is required")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("query failed")
		writeError(w, http.StatusInternalServerError, CodeQuery, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

// handleCourses reports course analytics: GET /api/courses.
func (s *Server) handleCourses(w http.ResponseWriter, r *http.Request) {
	a, err := s.service.CourseAnalytics(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("course analytics failed")
		writeError(w, http.StatusInternalServerError, CodeCatalog, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleGetSession returns a session with its messages.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess := s.service.Session(id)
	if sess == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "session not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleDeleteSession clears a session: DELETE /api/sessions/{id}.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.service.ClearSession(r.Context(), id) {
		writeError(w, http.StatusNotFound, CodeNotFound, "session not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "cleared": true})
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(ctx *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:    code,
		Message: message,
	})
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	return rc.Frame.DecodeParams(target)
}
