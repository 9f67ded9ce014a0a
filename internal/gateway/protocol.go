package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soyeahso/coursemate/internal/generator"
)

// ProtocolVersion is echoed in the hello payload.
const ProtocolVersion = 1

// Frame types. Clients send "req"; the server sends "res" and "event".
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Error codes carried in ErrorShape.Code, on WebSocket and HTTP alike.
const (
	CodeProtocol       = "protocol_error"
	CodeInvalidParams  = "invalid_params"
	CodeMethodNotFound = "method_not_found"
	CodeUnauthorized   = "unauthorized"
	CodeNotFound       = "not_found"
	CodeQuery          = "query_error"
	CodeCatalog        = "catalog_error"
	CodeBusy           = "busy"
	CodeRateLimited    = "rate_limited"
	CodeInternal       = "internal_error"
)

// Events pushed to clients.
const (
	EventConnectChallenge = "connect.challenge"
	EventQueryProgress    = "query.progress"
)

// Frame is the single envelope used in both directions. Which fields are
// set depends on Type.
type Frame struct {
	Type string `json:"type"`

	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`

	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`
}

// ErrorShape is the error body of a failed response.
type ErrorShape struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ErrMalformedFrame wraps every ParseFrame failure.
var ErrMalformedFrame = errors.New("malformed frame")

// ParseFrame decodes one message. Requests must carry an id and a method;
// unknown frame types are rejected.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch f.Type {
	case FrameTypeRequest:
		if f.ID == "" || f.Method == "" {
			return f, fmt.Errorf("%w: request needs id and method", ErrMalformedFrame)
		}
	case FrameTypeResponse, FrameTypeEvent:
	default:
		return f, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, f.Type)
	}
	return f, nil
}

// DecodeParams unmarshals the request params into v. Absent params leave v
// untouched.
func (f Frame) DecodeParams(v any) error {
	if len(f.Params) == 0 || string(f.Params) == "null" {
		return nil
	}
	return json.Unmarshal(f.Params, v)
}

// Succeeded reports whether f is a response with ok=true.
func (f Frame) Succeeded() bool {
	return f.Type == FrameTypeResponse && f.OK != nil && *f.OK
}

// NewRequest builds a client request.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := encodeBody(params)
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, err
}

// NewResponse builds a successful response to request id.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := encodeBody(payload)
	return Frame{Type: FrameTypeResponse, ID: id, OK: boolPtr(true), Payload: raw}, err
}

// NewErrorResponse builds a failed response to request id.
func NewErrorResponse(id string, shape ErrorShape) Frame {
	return Frame{Type: FrameTypeResponse, ID: id, OK: boolPtr(false), Error: &shape}
}

// NewEvent builds a server push.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := encodeBody(payload)
	return Frame{Type: FrameTypeEvent, Event: event, Seq: seq, Payload: raw}, err
}

func encodeBody(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func boolPtr(b bool) *bool { return &b }

// ConnectParams open every connection. A token is required when the
// gateway has one configured.
type ConnectParams struct {
	Protocol int          `json:"protocol"`
	Client   ClientInfo   `json:"client"`
	Auth     *ConnectAuth `json:"auth,omitempty"`
}

type ClientInfo struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
}

type ConnectAuth struct {
	Token string `json:"token,omitempty"`
}

// HelloOK answers a successful connect.
type HelloOK struct {
	Protocol int          `json:"protocol"`
	Server   ServerInfo   `json:"server"`
	Features Features     `json:"features"`
	Policy   ServerPolicy `json:"policy"`
}

type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
}

type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

type ServerPolicy struct {
	MaxPayload     int `json:"maxPayload"`
	QueryTimeoutMs int `json:"queryTimeoutMs"`
}

// QueryParams is the "query" request and the POST /api/query body.
type QueryParams struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

// QueryProgress is streamed as query.progress while a query runs.
type QueryProgress struct {
	RequestID string          `json:"requestId"`
	Step      generator.Event `json:"step"`
}

// SessionParams is used by session.get and session.clear.
type SessionParams struct {
	SessionID string `json:"session_id"`
}
