package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gzhole/graphpower/internal/clock"
)

// ToolProvider lists tools and executes tools/call requests. Call never
// returns a protocol error: tool failures are reported through IsError.
type ToolProvider interface {
	Tools() []ToolDefinition
	Call(ctx context.Context, call ToolCall) *CallToolResult
}

// Telemetry receives best-effort named events. Track must not block.
type Telemetry interface {
	Track(name string, properties map[string]string)
}

// Metrics observes completed JSON-RPC requests.
type Metrics interface {
	ObserveRPC(method string, code int, duration time.Duration)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Name      string
	Version   string
	Tools     ToolProvider
	Telemetry Telemetry
	Metrics   Metrics
	Logger    *zap.Logger
	Clock     clock.Clock
}

type methodFunc func(ctx context.Context, msg *Message, authorization string) (interface{}, *RPCError)

// Server dispatches JSON-RPC requests to MCP method handlers. It is
// transport-agnostic; see HTTPServer and StdioServer.
type Server struct {
	cfg     ServerConfig
	logger  *zap.Logger
	methods map[string]methodFunc
}

// NewServer builds a Server and its method table.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Name == "" {
		cfg.Name = "graph-power-orchestration"
	}
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("component", "mcp_server")),
	}

	empty := func(context.Context, *Message, string) (interface{}, *RPCError) {
		return struct{}{}, nil
	}
	fixed := func(v interface{}) methodFunc {
		return func(context.Context, *Message, string) (interface{}, *RPCError) { return v, nil }
	}

	s.methods = map[string]methodFunc{
		MethodInitialize:             s.initialize,
		MethodInitialized:            empty,
		MethodPing:                   empty,
		MethodToolsList:              s.listTools,
		MethodToolsCall:              s.callTool,
		MethodResourcesList:          fixed(map[string]interface{}{"resources": []interface{}{}}),
		MethodResourcesTemplatesList: fixed(map[string]interface{}{"resourceTemplates": []interface{}{}}),
		MethodPromptsList:            fixed(map[string]interface{}{"prompts": []interface{}{}}),
		MethodCompletionComplete: fixed(map[string]interface{}{
			"completion": map[string]interface{}{"values": []interface{}{}, "total": 0, "hasMore": false},
		}),
		MethodLoggingSetLevel: empty,
	}
	return s
}

// Handle processes one raw JSON-RPC message and returns the encoded
// response. reply is false for notifications, which stdio transports must
// not answer; HTTP transports answer them anyway.
func (s *Server) Handle(ctx context.Context, data []byte, authorization string) (resp []byte, reply bool) {
	start := s.cfg.Clock.Now()
	s.track("McpRequestReceived", nil)

	msg, kind, err := ParseMessage(data)
	if err != nil {
		rpcErr, ok := err.(*RPCError)
		if !ok {
			rpcErr = &RPCError{Code: RPCParseError, Message: "Parse error"}
		}
		s.logger.Warn("rejecting malformed message", zap.Error(err))
		s.complete("", rpcErr.Code, start)
		return s.encodeError(nil, rpcErr), true
	}
	if kind == KindResponse {
		// Clients may answer server-initiated requests; we never send any.
		return nil, false
	}
	if msg.Method == "" {
		s.complete("", RPCInvalidRequest, start)
		return s.encodeError(msg.ID, &RPCError{Code: RPCInvalidRequest, Message: "Invalid Request"}), true
	}

	result, rpcErr := s.dispatch(ctx, msg, authorization)

	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
	}
	s.complete(msg.Method, code, start)

	reply = kind != KindNotification
	if rpcErr != nil {
		return s.encodeError(msg.ID, rpcErr), reply
	}
	out, err := NewResultResponse(msg.ID, result)
	if err != nil {
		s.logger.Error("encoding response", zap.String("method", msg.Method), zap.Error(err))
		return s.encodeError(msg.ID, &RPCError{Code: RPCInternalError, Message: err.Error()}), reply
	}
	return out, reply
}

// dispatch routes msg to its handler, converting a panic into -32603.
func (s *Server) dispatch(ctx context.Context, msg *Message, authorization string) (result interface{}, rpcErr *RPCError) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while handling request",
				zap.String("method", msg.Method),
				zap.Any("panic", r),
				zap.Stack("stack"))
			result = nil
			rpcErr = &RPCError{Code: RPCInternalError, Message: fmt.Sprintf("Internal error: %v", r)}
		}
	}()

	s.track("McpMethod", map[string]string{"method": msg.Method})

	handler, ok := s.methods[msg.Method]
	if !ok && strings.HasPrefix(msg.Method, MethodNotificationsPrefix) {
		handler, ok = s.methods[MethodInitialized], true
	}
	if !ok {
		s.logger.Debug("method not found", zap.String("method", msg.Method))
		return nil, &RPCError{Code: RPCMethodNotFound, Message: "Method not found"}
	}
	return handler(ctx, msg, authorization)
}

func (s *Server) initialize(_ context.Context, msg *Message, _ string) (interface{}, *RPCError) {
	var params InitializeParams
	if len(msg.Params) > 0 {
		// Unreadable params fall back to the default version.
		_ = json.Unmarshal(msg.Params, &params)
	}
	version := params.ProtocolVersion
	if version == "" {
		version = DefaultProtocolVersion
	}
	s.logger.Info("client initialized",
		zap.String("protocol_version", version),
		zap.Any("client", params.ClientInfo))

	return InitializeResult{
		ProtocolVersion: version,
		Capabilities: map[string]interface{}{
			"tools":     map[string]interface{}{"listChanged": false},
			"resources": map[string]interface{}{},
			"prompts":   map[string]interface{}{},
			"logging":   map[string]interface{}{},
		},
		ServerInfo: Implementation{Name: s.cfg.Name, Version: s.cfg.Version},
	}, nil
}

func (s *Server) listTools(context.Context, *Message, string) (interface{}, *RPCError) {
	var tools []ToolDefinition
	if s.cfg.Tools != nil {
		tools = s.cfg.Tools.Tools()
	}
	if tools == nil {
		tools = []ToolDefinition{}
	}
	return ListToolsResult{Tools: tools}, nil
}

func (s *Server) callTool(ctx context.Context, msg *Message, authorization string) (interface{}, *RPCError) {
	params, err := ExtractToolCall(msg)
	if err != nil {
		return nil, &RPCError{Code: RPCInvalidParams, Message: err.Error()}
	}
	if s.cfg.Tools == nil {
		return UnknownToolResult(params.Name), nil
	}
	return s.cfg.Tools.Call(ctx, ToolCall{
		Name:          params.Name,
		Arguments:     params.Arguments,
		Authorization: authorization,
	}), nil
}

func (s *Server) encodeError(id *json.RawMessage, rpcErr *RPCError) []byte {
	out, err := NewErrorResponse(id, rpcErr.Code, rpcErr.Message)
	if err != nil {
		// Only reachable with an id that is not valid JSON.
		out, _ = NewErrorResponse(nil, rpcErr.Code, rpcErr.Message)
	}
	return out
}

func (s *Server) track(name string, props map[string]string) {
	if s.cfg.Telemetry != nil {
		s.cfg.Telemetry.Track(name, props)
	}
}

// complete records a finished request in metrics and telemetry.
func (s *Server) complete(method string, code int, start time.Time) {
	elapsed := s.cfg.Clock.Now().Sub(start)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveRPC(method, code, elapsed)
	}
	s.track("McpRequestCompleted", map[string]string{
		"method":     method,
		"code":       strconv.Itoa(code),
		"durationMs": strconv.FormatInt(elapsed.Milliseconds(), 10),
	})
}
