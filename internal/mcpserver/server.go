// Package mcpserver exposes transcript editing as MCP tools, so an assistant
// can read a project and cut it the same way a user does.
//
// Tools:
//   - list_words      — words of a project with their flags and times
//   - delete_words    — soft-delete a range of words
//   - restore_words   — undo the soft-delete of a range
//   - undo / redo     — step through the edit history
//   - render_chunks   — the take-grouped presentation of the transcript
//   - set_active_take — choose which take of a group plays
//
// Every tool addresses a project by id and goes through the same editor as
// the HTTP and collaboration surfaces.
package mcpserver

import (
	"context"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/wordcut/internal/editor"
	"github.com/MrWong99/wordcut/internal/observe"
	"github.com/MrWong99/wordcut/internal/workspace"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// Server is the MCP tool server of one workspace.
type Server struct {
	ws      *workspace.Manager
	metrics *observe.Metrics
	srv     *mcpsdk.Server
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a Server with all editing tools registered.
func New(ws *workspace.Manager, opts ...Option) *Server {
	s := &Server{ws: ws}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.srv = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "wordcut", Version: Version}, nil)
	s.registerTools()
	return s
}

// MCP returns the underlying SDK server, for use with any MCP transport.
func (s *Server) MCP() *mcpsdk.Server { return s.srv }

// Handler returns a streamable HTTP handler serving the tools.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.srv }, nil)
}

// session resolves a project id to its open session.
func (s *Server) session(ctx context.Context, id string) (*workspace.Session, error) {
	return s.ws.Open(ctx, id)
}

// projectScoped is implemented by tool arguments naming a project.
type projectScoped interface {
	project() string
}

// instrument wraps a tool handler with metrics and tags its edits as MCP
// edits.
func instrument[In, Out any](s *Server, name string, h mcpsdk.ToolHandlerFor[In, Out]) mcpsdk.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, Out, error) {
		start := time.Now()
		if p, ok := any(in).(projectScoped); ok {
			ctx = observe.WithProject(ctx, p.project())
		}
		ctx, span := observe.StartSpan(editor.WithSource(ctx, "mcp"), "mcp."+name)
		defer span.End()

		res, out, err := h(ctx, req, in)

		status := "ok"
		if err != nil {
			status = "error"
			observe.Logger(ctx).Debug("mcp tool failed", "tool", name, "err", err)
		}
		s.metrics.RecordToolCall(ctx, name, status)
		s.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("tool", name)))
		return res, out, err
	}
}
