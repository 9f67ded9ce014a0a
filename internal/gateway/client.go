package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/coursemate/internal/logging"
)

// Client is an authenticated WebSocket connection. Its context is cancelled
// when the connection closes, which stops any query still running for it.
type Client struct {
	ConnID      string
	Info        ClientInfo
	AuthMethod  string
	ConnectedAt time.Time

	socket *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	closed  bool

	mu        sync.Mutex
	sessionID string
	queries   int
}

func newClient(conn *websocket.Conn, info ClientInfo, auth AuthResult) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ConnID:      uuid.New().String(),
		Info:        info,
		AuthMethod:  auth.Method,
		ConnectedAt: time.Now(),
		socket:      conn,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Context is cancelled when the connection closes.
func (c *Client) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Session returns the session of the last query on this connection.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// answered records a completed query and makes its session current.
func (c *Client) answered(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	c.queries++
}

// forget drops the current session if it is id.
func (c *Client) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == id {
		c.sessionID = ""
	}
}

// Queries returns how many queries this connection has had answered.
func (c *Client) Queries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queries
}

func (c *Client) write(frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed || c.socket == nil {
		return ErrClientClosed
	}
	return c.socket.WriteJSON(frame)
}

// SendEvent pushes a named event.
func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.write(f)
}

// Respond answers request reqID.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.write(f)
}

// RespondError answers request reqID with an error.
func (c *Client) RespondError(reqID string, shape ErrorShape) error {
	return c.write(NewErrorResponse(reqID, shape))
}

func (c *Client) readFrame() (Frame, error) {
	_, msg, err := c.socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	return ParseFrame(msg)
}

// Close cancels the connection context and closes the socket. It is safe to
// call more than once.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.socket == nil {
		return nil
	}
	return c.socket.Close()
}

// connections tracks live clients by connection id.
type connections struct {
	mu   sync.RWMutex
	byID map[string]*Client
	log  *logging.Logger
}

func newConnections(log *logging.Logger) *connections {
	return &connections{byID: make(map[string]*Client), log: log}
}

func (r *connections) add(c *Client) {
	r.mu.Lock()
	r.byID[c.ConnID] = c
	n := len(r.byID)
	r.mu.Unlock()
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Int("open", n).Msg("client connected")
}

func (r *connections) remove(c *Client) {
	r.mu.Lock()
	delete(r.byID, c.ConnID)
	r.mu.Unlock()
	r.log.Info().
		Str("connId", c.ConnID).
		Int("queries", c.Queries()).
		Dur("connected", time.Since(c.ConnectedAt)).
		Msg("client disconnected")
}

func (r *connections) get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[connID]
	return c, ok
}

func (r *connections) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// closeAll closes every client, cancelling their running queries.
func (r *connections) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.byID {
		c.Close()
		delete(r.byID, id)
	}
}
