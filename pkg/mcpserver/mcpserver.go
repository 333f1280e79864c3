// Package mcpserver exposes promptlab operations as MCP tools so that agents
// and editors can generate, optimize and compare prompts over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

// Name is the implementation name announced to MCP clients.
const Name = "promptlab"

const instructions = "Prompt engineering tools. Use optimize_prompt to rewrite a prompt, " +
	"compare_prompts to run the original and optimized versions on a test input, " +
	"and check_connection before generating against a provider you have not used yet."

// Server serves a Lab's tools over MCP.
type Server struct {
	sdk *mcp.Server
	log zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for tool calls.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a server announcing version and registers every tool of lab.
func New(lab Lab, version string, opts ...Option) *Server {
	s := &Server{
		sdk: mcp.NewServer(&mcp.Implementation{Name: Name, Version: version}, &mcp.ServerOptions{
			Instructions: instructions,
		}),
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, t := range lab.tools() {
		s.sdk.AddTool(&mcp.Tool{
			Name:        t.name,
			Description: t.description,
			InputSchema: json.RawMessage(t.schema),
		}, s.handle(t))
	}

	return s
}

// Serve reads requests from in and writes responses to out. It blocks until
// ctx is cancelled or the transport closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return s.Run(ctx, &mcp.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	})
}

// Run serves on an arbitrary transport.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.sdk.Run(ctx, transport)
}

// handle adapts a tool to the SDK. Tool errors, including validation and
// remote failures, become results with IsError set so the caller reads the
// message instead of a protocol failure.
func (s *Server) handle(t tool) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.Params.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}

		start := time.Now()
		text, err := t.run(ctx, args)
		if err != nil {
			s.log.Warn().Err(err).Str("tool", t.name).Dur("elapsed", time.Since(start)).Msg("tool call failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}

		s.log.Info().Str("tool", t.name).Dur("elapsed", time.Since(start)).Msg("tool call")
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
