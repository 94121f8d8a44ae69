// Package orchestrator implements the graphpower MCP tools on top of the
// graph and discovery packages.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/gzhole/graphpower/internal/clock"
	"github.com/gzhole/graphpower/internal/discovery"
	"github.com/gzhole/graphpower/internal/graph"
	"github.com/gzhole/graphpower/internal/mcp"
)

// Outcomes recorded for each tool call.
const (
	OutcomeSuccess       = "success"
	OutcomeInvalidArgs   = "invalid_arguments"
	OutcomeAccessDenied  = "access_denied"
	OutcomeUpstreamError = "upstream_error"
	OutcomeToolError     = "tool_error"
	OutcomeUnknownTool   = "unknown_tool"
)

// Discoverer answers discover_graph. *discovery.Engine satisfies it.
type Discoverer interface {
	Discover(ctx context.Context, query, category string) (*discovery.Result, error)
}

// Observer receives per-call measurements.
type Observer interface {
	ObserveToolCall(tool, outcome string, duration time.Duration)
}

// AuditEntry records one tool call for the audit log.
type AuditEntry struct {
	Timestamp  time.Time
	Tool       string
	Arguments  map[string]interface{}
	Outcome    string
	StatusCode int
	Error      string
	Duration   time.Duration
}

// AuditFunc is a callback for logging audit entries. It is called once for
// every tools/call.
type AuditFunc func(entry AuditEntry)

// Config configures an Orchestrator.
type Config struct {
	Graph     *graph.Client
	Discovery Discoverer
	Clock     clock.Clock
	Logger    *zap.Logger
	Observer  Observer
	OnAudit   AuditFunc
}

// reply is a handler's result. isError marks results that are tool
// failures the caller must see as such (access errors).
type reply struct {
	data       interface{}
	isError    bool
	outcome    string
	statusCode int
}

type toolHandler func(ctx context.Context, args map[string]interface{}, authorization string) (reply, error)

// Orchestrator dispatches tool calls by name. It implements
// mcp.ToolProvider.
type Orchestrator struct {
	cfg      Config
	logger   *zap.Logger
	handlers map[string]toolHandler
}

// New builds an Orchestrator and its tool table.
func New(cfg Config) *Orchestrator {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Graph == nil {
		cfg.Graph = graph.NewClient(graph.ClientConfig{Clock: cfg.Clock, Logger: cfg.Logger})
	}
	o := &Orchestrator{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("component", "orchestrator")),
	}
	o.handlers = map[string]toolHandler{
		ToolDiscoverGraph:    o.discoverGraph,
		ToolInvokeGraph:      o.invokeGraph,
		ToolBatchInvokeGraph: o.batchInvokeGraph,
	}
	return o
}

// Tools returns the tool catalog.
func (o *Orchestrator) Tools() []mcp.ToolDefinition { return Catalog() }

// Call runs one tool. Every failure is reported inside the result.
func (o *Orchestrator) Call(ctx context.Context, call mcp.ToolCall) *mcp.CallToolResult {
	start := o.cfg.Clock.Now()
	entry := AuditEntry{Timestamp: start, Tool: call.Name, Arguments: call.Arguments}

	result := o.call(ctx, call, &entry)

	entry.Duration = o.cfg.Clock.Now().Sub(start)
	if o.cfg.Observer != nil {
		o.cfg.Observer.ObserveToolCall(call.Name, entry.Outcome, entry.Duration)
	}
	if o.cfg.OnAudit != nil {
		o.cfg.OnAudit(entry)
	}
	o.logger.Info("tool call",
		zap.String("tool", call.Name),
		zap.String("outcome", entry.Outcome),
		zap.Int("status", entry.StatusCode),
		zap.Duration("duration", entry.Duration))
	return result
}

func (o *Orchestrator) call(ctx context.Context, call mcp.ToolCall, entry *AuditEntry) *mcp.CallToolResult {
	handler, ok := o.handlers[call.Name]
	if !ok {
		entry.Outcome = OutcomeUnknownTool
		return mcp.UnknownToolResult(call.Name)
	}

	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}

	r, err := handler(ctx, args, call.Authorization)
	if err != nil {
		entry.Error = err.Error()
		var argErr *graph.ArgumentError
		var accessErr *graph.AccessError
		switch {
		case errors.As(err, &argErr):
			entry.Outcome = OutcomeInvalidArgs
			return mcp.TextResult("Invalid arguments: "+argErr.Message, true)
		case errors.As(err, &accessErr):
			entry.Outcome = OutcomeAccessDenied
			entry.StatusCode = accessErr.StatusCode
			return mcp.TextResult(render(accessErr), true)
		default:
			entry.Outcome = OutcomeToolError
			o.logger.Warn("tool failed", zap.String("tool", call.Name), zap.Error(err))
			return mcp.TextResult("Tool error: "+err.Error(), true)
		}
	}

	entry.Outcome = r.outcome
	entry.StatusCode = r.statusCode
	if r.isError {
		if ae, ok := r.data.(*graph.AccessError); ok {
			entry.Error = ae.Error()
		}
	}
	return mcp.TextResult(render(r.data), r.isError)
}

func (o *Orchestrator) discoverGraph(ctx context.Context, args map[string]interface{}, _ string) (reply, error) {
	query, err := requiredString(args, "query")
	if err != nil {
		return reply{}, err
	}
	category, err := optionalString(args, "category")
	if err != nil {
		return reply{}, err
	}
	if o.cfg.Discovery == nil {
		return reply{}, errors.New("discovery is not configured")
	}
	res, err := o.cfg.Discovery.Discover(ctx, query, category)
	if err != nil {
		return reply{}, err
	}
	return reply{data: res, outcome: OutcomeSuccess}, nil
}

// render encodes v as indented JSON for a text content item.
func render(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return `{"error":true,"message":"result could not be encoded"}`
	}
	return string(data)
}
