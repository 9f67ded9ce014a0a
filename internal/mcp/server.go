// Package mcp serves a tool registry over the Model Context Protocol,
// normally on stdin and stdout. It lets MCP clients call the course search
// tools directly.
package mcp

import (
	"context"
	"errors"
	"io"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/soyeahso/coursemate/internal/logging"
	"github.com/soyeahso/coursemate/internal/tool"
)

// codeInvalidParams is the JSON-RPC code for unknown tools and arguments
// that fail the tool's input schema.
const codeInvalidParams = -32602

// ServerInfo identifies the server in the initialize handshake.
type ServerInfo struct {
	Name    string
	Version string
}

// Server exposes every tool in a registry as an MCP tool.
type Server struct {
	tools *tool.Registry
	log   *logging.Logger
	srv   *mcpsdk.Server
}

// NewServer creates a server for the given registry. Tools registered after
// this call are not advertised.
func NewServer(tools *tool.Registry, info ServerInfo, log *logging.Logger) *Server {
	s := &Server{
		tools: tools,
		log:   log.Sub("mcp"),
		srv:   mcpsdk.NewServer(&mcpsdk.Implementation{Name: info.Name, Version: info.Version}, nil),
	}
	for _, d := range tools.Definitions() {
		s.srv.AddTool(&mcpsdk.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		}, s.callTool)
	}
	return s
}

// Run serves one session on t until the peer disconnects or ctx is
// cancelled.
func (s *Server) Run(ctx context.Context, t mcpsdk.Transport) error {
	s.log.Info().Int("tools", s.tools.Len()).Msg("serving tools")
	err := s.srv.Run(ctx, t)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	s.log.Info().Msg("session closed, shutting down")
	return nil
}

// Serve runs a session over newline-delimited JSON on r and w. r is closed
// when the session ends if it is an io.ReadCloser.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	rc, ok := r.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(r)
	}
	return s.Run(ctx, &mcpsdk.IOTransport{Reader: rc, Writer: nopWriteCloser{w}})
}

// Connect starts a session on t without blocking. Callers close the
// returned session.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.srv.Connect(ctx, t, nil)
}

// callTool runs a registry tool. Argument faults are protocol errors; any
// other tool failure is reported in the result with isError set.
func (s *Server) callTool(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	name := req.Params.Name
	s.log.Info().Str("tool", name).Msg("calling tool")

	out, err := s.tools.Execute(ctx, name, req.Params.Arguments)
	if err != nil {
		var argErr *tool.ArgumentError
		if errors.As(err, &argErr) {
			return nil, &jsonrpc.Error{Code: codeInvalidParams, Message: err.Error()}
		}
		s.log.Error().Err(err).Str("tool", name).Msg("tool failed")
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
			IsError: true,
		}, nil
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: out}},
	}, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
