package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/coursemate/internal/config"
	"github.com/soyeahso/coursemate/internal/domain"
	"github.com/soyeahso/coursemate/internal/generator"
	"github.com/soyeahso/coursemate/internal/hooks"
	"github.com/soyeahso/coursemate/internal/logging"
	"github.com/soyeahso/coursemate/internal/rag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token-123"

// fakeService answers every query with a canned answer after reporting a
// tool round through the observer.
type fakeService struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	queries  []rag.QueryRequest
	err      error

	// A query of "wait" blocks until its context ends and reports why.
	started   chan struct{}
	cancelled chan error
}

func newFakeService() *fakeService {
	return &fakeService{
		sessions:  make(map[string]*domain.Session),
		started:   make(chan struct{}, 1),
		cancelled: make(chan error, 1),
	}
}

func (f *fakeService) Query(ctx context.Context, req rag.QueryRequest) (*rag.Answer, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, rag.ErrEmptyQuery
	}
	if req.Query == "wait" {
		f.started <- struct{}{}
		<-ctx.Done()
		f.cancelled <- ctx.Err()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return nil, f.err
	}
	f.queries = append(f.queries, req)
	id := req.SessionID
	if id == "" {
		id = "session-" + string(rune('a'+len(f.sessions)))
	}
	sess, ok := f.sessions[id]
	if !ok {
		sess = &domain.Session{ID: id, CreatedAt: time.Now()}
		f.sessions[id] = sess
	}
	sess.Messages = append(sess.Messages,
		domain.Message{Role: domain.RoleUser, Content: req.Query},
		domain.Message{Role: domain.RoleAssistant, Content: "answer: " + req.Query},
	)
	f.mu.Unlock()

	if req.Observe != nil {
		req.Observe(generator.Event{Type: generator.EventModelCall, Round: 1, Tools: true})
		req.Observe(generator.Event{Type: generator.EventToolCall, Round: 1, Tool: "search_course_content"})
		req.Observe(generator.Event{Type: generator.EventToolResult, Round: 1, Tool: "search_course_content"})
		req.Observe(generator.Event{Type: generator.EventAnswer, Round: 2, Text: "answer: " + req.Query})
	}

	return &rag.Answer{
		Answer:    "answer: " + req.Query,
		Sources:   []string{"MCP Course - Lesson 1"},
		SessionID: id,
	}, nil
}

func (f *fakeService) CourseAnalytics(ctx context.Context) (*rag.Analytics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &rag.Analytics{TotalCourses: 2, CourseTitles: []string{"Chroma Course", "MCP Course"}}, nil
}

func (f *fakeService) Session(id string) *domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id]
}

func (f *fakeService) ClearSession(ctx context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return false
	}
	delete(f.sessions, id)
	return true
}

func (f *fakeService) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeService) lastQuery() rag.QueryRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

func testGatewayConfig() config.GatewayConfig {
	cfg := config.Defaults().Gateway
	cfg.Auth.Token = testToken
	return cfg
}

func testServer(t *testing.T) (*Server, *httptest.Server, *fakeService) {
	t.Helper()
	svc := newFakeService()
	srv := New(testGatewayConfig(), svc, logging.New(nil, "silent"))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts, svc
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialAndConnect(t *testing.T, ts *httptest.Server, token string) (*websocket.Conn, Frame) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	require.Equal(t, EventConnectChallenge, challenge.Event)

	connectReq, err := NewRequest("auth-req", "connect", ConnectParams{
		Protocol: ProtocolVersion,
		Client:   ClientInfo{ID: "test-client", Version: "1.0.0"},
		Auth:     &ConnectAuth{Token: token},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(connectReq))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	return conn, resp
}

func authenticatedConn(t *testing.T) (*websocket.Conn, *fakeService) {
	t.Helper()
	_, ts, svc := testServer(t)
	conn, hello := dialAndConnect(t, ts, testToken)
	require.NotNil(t, hello.OK)
	require.True(t, *hello.OK)
	return conn, svc
}

// call sends a request and collects frames until its response arrives.
func call(t *testing.T, conn *websocket.Conn, id, method string, params any) (Frame, []Frame) {
	t.Helper()
	req, err := NewRequest(id, method, params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	var events []Frame
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == FrameTypeEvent {
			events = append(events, f)
			continue
		}
		require.Equal(t, id, f.ID)
		return f, events
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, ts, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Empty(t, body.Version)
}

func TestNotFoundEndpoint(t *testing.T) {
	_, ts, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketHandshakeSuccess(t *testing.T) {
	_, ts, _ := testServer(t)

	conn, helloResp := dialAndConnect(t, ts, testToken)
	_ = conn
	assert.Equal(t, FrameTypeResponse, helloResp.Type)
	assert.Equal(t, "auth-req", helloResp.ID)
	require.NotNil(t, helloResp.OK)
	assert.True(t, *helloResp.OK)

	var hello HelloOK
	require.NoError(t, json.Unmarshal(helloResp.Payload, &hello))
	assert.Equal(t, ProtocolVersion, hello.Protocol)
	assert.NotEmpty(t, hello.Server.ConnID)
	assert.Equal(t, []string{"courses", "health", "query", "session.clear", "session.get"}, hello.Features.Methods)
	assert.Equal(t, []string{EventConnectChallenge, EventQueryProgress}, hello.Features.Events)
	assert.Equal(t, maxPayload, hello.Policy.MaxPayload)
	assert.Equal(t, int(DefaultQueryTimeout.Milliseconds()), hello.Policy.QueryTimeoutMs)
}

func TestWebSocketHandshakeWrongToken(t *testing.T) {
	_, ts, _ := testServer(t)

	_, errResp := dialAndConnect(t, ts, "wrong-token")
	assert.Equal(t, FrameTypeResponse, errResp.Type)
	require.NotNil(t, errResp.OK)
	assert.False(t, *errResp.OK)
	require.NotNil(t, errResp.Error)
	assert.Equal(t, "unauthorized", errResp.Error.Code)
	assert.Equal(t, "token_mismatch", errResp.Error.Message)
}

func TestWebSocketHandshakeOpenServer(t *testing.T) {
	t.Setenv("COURSEMATE_GATEWAY_TOKEN", "")
	cfg := config.Defaults().Gateway
	srv := New(cfg, newFakeService(), logging.New(nil, "silent"))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	_, resp := dialAndConnect(t, ts, "")
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)
}

func TestWebSocketHandshakeExpectsConnect(t *testing.T) {
	_, ts, _ := testServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))

	req, _ := NewRequest("req-1", "health", nil)
	require.NoError(t, conn.WriteJSON(req))

	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "protocol_error", resp.Error.Code)
}

func TestWebSocketRPCHealth(t *testing.T) {
	conn, _ := authenticatedConn(t)

	resp, _ := call(t, conn, "req-2", "health", nil)
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Clients)
}

func TestWebSocketRPCQuery(t *testing.T) {
	conn, svc := authenticatedConn(t)

	resp, events := call(t, conn, "q-1", "query", QueryParams{Query: "What is MCP?"})
	require.NotNil(t, resp.OK)
	require.True(t, *resp.OK)

	var ans rag.Answer
	require.NoError(t, json.Unmarshal(resp.Payload, &ans))
	assert.Equal(t, "answer: What is MCP?", ans.Answer)
	assert.Equal(t, []string{"MCP Course - Lesson 1"}, ans.Sources)
	assert.NotEmpty(t, ans.SessionID)

	require.Len(t, events, 4)
	var steps []string
	var lastSeq int64
	for _, e := range events {
		assert.Equal(t, EventQueryProgress, e.Event)
		assert.Greater(t, e.Seq, lastSeq)
		lastSeq = e.Seq

		var p QueryProgress
		require.NoError(t, json.Unmarshal(e.Payload, &p))
		assert.Equal(t, "q-1", p.RequestID)
		steps = append(steps, p.Step.Type)
	}
	assert.Equal(t, []string{
		generator.EventModelCall,
		generator.EventToolCall,
		generator.EventToolResult,
		generator.EventAnswer,
	}, steps)
	assert.Empty(t, svc.lastQuery().SessionID)
}

func TestWebSocketRPCQueryContinuesSession(t *testing.T) {
	conn, svc := authenticatedConn(t)

	first, _ := call(t, conn, "q-1", "query", QueryParams{Query: "first"})
	var ans rag.Answer
	require.NoError(t, json.Unmarshal(first.Payload, &ans))

	call(t, conn, "q-2", "query", QueryParams{Query: "second"})
	assert.Equal(t, ans.SessionID, svc.lastQuery().SessionID)

	call(t, conn, "q-3", "query", QueryParams{Query: "third", SessionID: "explicit"})
	assert.Equal(t, "explicit", svc.lastQuery().SessionID)
}

func TestWebSocketRPCQueryEmpty(t *testing.T) {
	conn, _ := authenticatedConn(t)

	resp, events := call(t, conn, "q-1", "query", QueryParams{Query: "  "})
	assert.Empty(t, events)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid_params", resp.Error.Code)
}

func TestWebSocketRPCQueryServiceError(t *testing.T) {
	conn, svc := authenticatedConn(t)
	svc.fail(errors.New("catalog offline"))

	resp, _ := call(t, conn, "q-1", "query", QueryParams{Query: "anything"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "query_error", resp.Error.Code)
	assert.Equal(t, "catalog offline", resp.Error.Message)
}

func TestWebSocketRPCCourses(t *testing.T) {
	conn, _ := authenticatedConn(t)

	resp, _ := call(t, conn, "c-1", "courses", nil)
	require.NotNil(t, resp.OK)
	require.True(t, *resp.OK)

	var a rag.Analytics
	require.NoError(t, json.Unmarshal(resp.Payload, &a))
	assert.Equal(t, 2, a.TotalCourses)
	assert.Equal(t, []string{"Chroma Course", "MCP Course"}, a.CourseTitles)
}

func TestWebSocketRPCSessionGetAndClear(t *testing.T) {
	conn, _ := authenticatedConn(t)

	// No session yet on this connection.
	resp, _ := call(t, conn, "s-0", "session.get", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid_params", resp.Error.Code)

	call(t, conn, "q-1", "query", QueryParams{Query: "hello"})

	resp, _ = call(t, conn, "s-1", "session.get", nil)
	require.NotNil(t, resp.OK)
	require.True(t, *resp.OK)
	var sess domain.Session
	require.NoError(t, json.Unmarshal(resp.Payload, &sess))
	assert.Len(t, sess.Messages, 2)

	resp, _ = call(t, conn, "s-2", "session.clear", SessionParams{SessionID: sess.ID})
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	resp, _ = call(t, conn, "s-3", "session.get", SessionParams{SessionID: sess.ID})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_found", resp.Error.Code)

	resp, _ = call(t, conn, "s-4", "session.clear", SessionParams{SessionID: sess.ID})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestWebSocketRPCUnknownMethod(t *testing.T) {
	conn, _ := authenticatedConn(t)

	resp, _ := call(t, conn, "req-6", "nonexistent.method", nil)
	require.NotNil(t, resp.OK)
	assert.False(t, *resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "method_not_found", resp.Error.Code)
}

func TestWebSocketDisconnectCancelsQuery(t *testing.T) {
	conn, svc := authenticatedConn(t)

	req, err := NewRequest("req-wait", "query", QueryParams{Query: "wait"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	select {
	case <-svc.started:
	case <-time.After(5 * time.Second):
		t.Fatal("query never started")
	}
	conn.Close()

	select {
	case err := <-svc.cancelled:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("query was not cancelled by the disconnect")
	}
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		name string
		bind string
		host string
		want string
	}{
		{"loopback", "loopback", "", "127.0.0.1:8000"},
		{"lan", "lan", "", "0.0.0.0:8000"},
		{"custom default host", "custom", "", "0.0.0.0:8000"},
		{"custom host", "custom", "10.0.0.1", "10.0.0.1:8000"},
		{"unknown falls back", "whatever", "", "127.0.0.1:8000"},
		{"empty falls back", "", "", "127.0.0.1:8000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.GatewayConfig{Bind: tt.bind, Port: 8000, CustomBindHost: tt.host}
			assert.Equal(t, tt.want, resolveBindAddr(cfg))
		})
	}
}

func TestWithQueryTimeout(t *testing.T) {
	srv := New(testGatewayConfig(), newFakeService(), logging.New(nil, "silent"), WithQueryTimeout(time.Second))
	assert.Equal(t, time.Second, srv.queryTimeout)

	srv = New(testGatewayConfig(), newFakeService(), logging.New(nil, "silent"), WithQueryTimeout(0))
	assert.Equal(t, DefaultQueryTimeout, srv.queryTimeout)
}

func TestServerStart(t *testing.T) {
	cfg := testGatewayConfig()
	cfg.Port = 0 // let OS pick a port

	log := logging.New(nil, "silent")
	hm := hooks.NewManager(log)

	var mu sync.Mutex
	var fired []string
	record := func(ctx context.Context, p hooks.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, p.Event)
		return nil
	}
	hm.On(hooks.EventGatewayStart, "test", record)
	hm.On(hooks.EventGatewayStop, "test", record)

	srv := New(cfg, newFakeService(), log, WithHooks(hm))

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{hooks.EventGatewayStart, hooks.EventGatewayStop}, fired)
}

func TestWebSocketMalformedFrameKeepsConnection(t *testing.T) {
	conn, _ := authenticatedConn(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"req","method":"health"}`)))
	var resp Frame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeProtocol, resp.Error.Code)

	resp, _ = call(t, conn, "after", "health", nil)
	assert.True(t, resp.Succeeded())
}
