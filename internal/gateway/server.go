// Package gateway serves the question-answering API over HTTP and a
// WebSocket protocol that streams query progress.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/coursemate/internal/config"
	"github.com/soyeahso/coursemate/internal/domain"
	"github.com/soyeahso/coursemate/internal/hooks"
	"github.com/soyeahso/coursemate/internal/logging"
	"github.com/soyeahso/coursemate/internal/rag"
	"github.com/soyeahso/coursemate/internal/version"
)

var ErrClientClosed = errors.New("client connection closed")

// DefaultQueryTimeout bounds a single query, tool rounds included.
const DefaultQueryTimeout = 5 * time.Minute

// maxPayload is the WebSocket read limit.
const maxPayload = 1 << 20

// QueryService is what the gateway serves. *rag.Service implements it.
type QueryService interface {
	Query(ctx context.Context, req rag.QueryRequest) (*rag.Answer, error)
	CourseAnalytics(ctx context.Context) (*rag.Analytics, error)
	Session(id string) *domain.Session
	ClearSession(ctx context.Context, id string) bool
}

// Server is the coursemate HTTP + WebSocket server.
type Server struct {
	cfg          config.GatewayConfig
	auth         ResolvedAuth
	log          *logging.Logger
	clients      *connections
	handlers     map[string]RequestHandler
	service      QueryService
	hooks        *hooks.Manager
	version      string
	eventSeq     atomic.Int64
	queryTimeout time.Duration

	startedAt   time.Time
	mu          sync.Mutex
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *failedAuthLimiter
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// WithQueryTimeout overrides DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.queryTimeout = d
		}
	}
}

// New creates a new gateway server.
func New(cfg config.GatewayConfig, service QueryService, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:          cfg,
		auth:         ResolveAuth(cfg.Auth),
		log:          log.Sub("gateway"),
		clients:      newConnections(log.Sub("clients")),
		handlers:     make(map[string]RequestHandler),
		service:      service,
		version:      version.Version,
		queryTimeout: DefaultQueryTimeout,
		authLimiter:  newFailedAuthLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	return s
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.AllowedOrigins)
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the list of registered RPC method names.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:        ln.Addr().String(),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Queries hold the response open through every model and tool round.
		WriteTimeout: s.queryTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}
	srv := s.httpServer
	s.startedAt = time.Now()
	s.mu.Unlock()

	if s.cfg.Bind != "loopback" && !s.auth.Required() {
		s.log.Warn().Msg("gateway is reachable beyond loopback without an auth token")
	}

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Bind).
		Bool("auth", s.auth.Required()).
		Int("methods", len(s.handlers)).
		Msg("gateway server ready")

	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{
		"addr": ln.Addr().String(),
	})

	go func() {
		<-ctx.Done()
		s.shutdown(srv)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// shutdownTimeout bounds draining of in-flight HTTP requests.
const shutdownTimeout = 10 * time.Second

// shutdown closes WebSocket clients first, which cancels their queries,
// then drains HTTP requests.
func (s *Server) shutdown(srv *http.Server) {
	s.log.Info().Int("clients", s.clients.count()).Msg("shutting down gateway server")
	s.hooks.Emit(context.Background(), hooks.EventGatewayStop, map[string]any{
		"uptime": time.Since(s.startedAt).String(),
	})

	s.clients.closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("gateway shutdown incomplete")
	}
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// handshakeTimeout bounds the time between upgrade and the connect request.
const handshakeTimeout = 10 * time.Second

// handleWebSocket upgrades to WebSocket, authenticates the connect request
// and serves RPC frames until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("refusing websocket: too many failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.clients.add(client)
	defer func() {
		client.Close()
		s.clients.remove(client)
	}()

	s.readLoop(client)
}

// handshake sends connect.challenge, reads the connect request and answers
// it with a hello carrying the methods and limits of this server.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	challenge, err := NewEvent(EventConnectChallenge, map[string]any{
		"nonce": uuid.New().String(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	reqID, params, err := readConnect(conn)
	if err != nil {
		return nil, err
	}

	authResult := Authorize(s.auth, params.Auth)
	if !authResult.OK {
		sendErrorAndClose(conn, reqID, CodeUnauthorized, authResult.Reason)
		return nil, fmt.Errorf("auth failed: %s", authResult.Reason)
	}

	conn.SetReadDeadline(time.Time{})
	client := newClient(conn, params.Client, authResult)

	resp, err := NewResponse(reqID, s.hello(client))
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("clientVersion", params.Client.Version).
		Str("authMethod", authResult.Method).
		Msg("client authenticated")
	return client, nil
}

// readConnect reads the first client frame, which must be a connect
// request. Protocol violations are reported to the peer before returning.
func readConnect(conn *websocket.Conn) (string, ConnectParams, error) {
	var params ConnectParams

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", params, fmt.Errorf("reading connect: %w", err)
	}

	frame, err := ParseFrame(msg)
	if err != nil {
		sendErrorAndClose(conn, frame.ID, CodeProtocol, err.Error())
		return "", params, fmt.Errorf("parsing connect frame: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		sendErrorAndClose(conn, frame.ID, CodeProtocol, "expected connect request")
		return "", params, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}
	if err := frame.DecodeParams(&params); err != nil {
		sendErrorAndClose(conn, frame.ID, CodeInvalidParams, "invalid connect params")
		return "", params, fmt.Errorf("parsing connect params: %w", err)
	}
	return frame.ID, params, nil
}

func (s *Server) hello(client *Client) HelloOK {
	return HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: s.version,
			Commit:  version.Commit,
			ConnID:  client.ConnID,
		},
		Features: Features{
			Methods: s.Methods(),
			Events:  []string{EventConnectChallenge, EventQueryProgress},
		},
		Policy: ServerPolicy{
			MaxPayload:     maxPayload,
			QueryTimeoutMs: int(s.queryTimeout.Milliseconds()),
		},
	}
}

// maxQueuedRequests bounds requests waiting behind a running one on a
// single connection.
const maxQueuedRequests = 16

// readLoop reads frames while a worker serves requests in arrival order.
// Reading continues during a long query, so a disconnect is noticed and
// cancels it. Frames other than requests are ignored.
func (s *Server) readLoop(client *Client) {
	queue := make(chan Frame, maxQueuedRequests)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for frame := range queue {
			s.dispatch(client, frame)
		}
	}()
	defer func() {
		client.Close()
		close(queue)
		<-done
	}()

	for {
		frame, err := client.readFrame()
		if errors.Is(err, ErrMalformedFrame) {
			client.RespondError(frame.ID, ErrorShape{Code: CodeProtocol, Message: err.Error()})
			continue
		}
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}

		select {
		case queue <- frame:
		default:
			client.RespondError(frame.ID, ErrorShape{
				Code:      CodeBusy,
				Message:   "too many requests queued on this connection",
				Retryable: true,
			})
		}
	}
}

func (s *Server) dispatch(client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    CodeMethodNotFound,
			Message: "unknown method: " + frame.Method,
		})
		return
	}
	handler(&RequestContext{Client: client, Frame: frame, Server: s})
}

func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{Code: code, Message: message}))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, message))
}
