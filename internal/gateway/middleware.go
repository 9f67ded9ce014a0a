package gateway

import (
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/coursemate/internal/logging"
)

type middleware func(http.Handler) http.Handler

// withMiddleware applies, outermost first: logging, panic recovery, CORS
// and request ids.
func withMiddleware(handler http.Handler, log *logging.Logger, corsOrigins []string) http.Handler {
	chain := []middleware{
		func(h http.Handler) http.Handler { return loggingMiddleware(h, log) },
		func(h http.Handler) http.Handler { return recoverMiddleware(h, log) },
		func(h http.Handler) http.Handler { return corsMiddleware(h, corsOrigins) },
		requestIDMiddleware,
	}
	for _, mw := range slices.Backward(chain) {
		handler = mw(handler)
	}
	return handler
}

func loggingMiddleware(next http.Handler, log *logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Str("requestId", sw.Header().Get("X-Request-ID")).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// recoverMiddleware turns a handler panic into a 500 with an error body.
func recoverMiddleware(next http.Handler, log *logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				log.Error().Interface("panic", p).Str("path", r.URL.Path).Msg("handler panicked")
				writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware echoes X-Request-ID, generating one when absent.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets CORS headers for configured origins and answers
// preflight requests.
func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && originAllowed(origin, allowedOrigins) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originAllowed matches origin against the configured list. An empty list
// allows no cross-origin caller.
func originAllowed(origin string, allowed []string) bool {
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

// checkWebSocketOrigin lets through requests without an Origin header
// (same-origin or non-browser) and browser requests from allowed origins.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || originAllowed(origin, allowed)
	}
}

// requireAuth rejects requests without a valid bearer token when the
// gateway has one configured. Failed attempts count against the per-host
// limiter.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Required() {
			next(w, r)
			return
		}
		if !s.authLimiter.allow(r.RemoteAddr) {
			writeError(w, http.StatusTooManyRequests, CodeRateLimited, "too many failed auth attempts")
			return
		}
		if res := AuthorizeRequest(s.auth, r); !res.OK {
			s.authLimiter.recordFailure(r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, res.Reason)
			return
		}
		next(w, r)
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
