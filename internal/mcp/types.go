// Package mcp implements the server side of the Model Context Protocol:
// JSON-RPC 2.0 envelopes, method dispatch, and the HTTP and stdio
// transports graphpower serves its tools over.
package mcp

import "encoding/json"

// --- JSON-RPC base types (MCP uses JSON-RPC 2.0) ---

// Message is the top-level envelope for any JSON-RPC 2.0 message.
// We parse into this first, then dispatch based on the Method field.
type Message struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`     // present for requests & responses
	Method  string           `json:"method,omitempty"` // present for requests & notifications
	Params  json.RawMessage  `json:"params,omitempty"` // present for requests & notifications
	Result  json.RawMessage  `json:"result,omitempty"` // present for success responses
	Error   *RPCError        `json:"error,omitempty"`  // present for error responses
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// --- MCP tool call types ---

// CallToolParams represents the params of a tools/call request.
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// CallToolResult represents the result of a tools/call response.
type CallToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ContentItem is one piece of content in a tool result.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextResult wraps text as a single-item tool result.
func TextResult(text string, isError bool) *CallToolResult {
	return &CallToolResult{
		Content: []ContentItem{{Type: "text", Text: text}},
		IsError: isError,
	}
}

// UnknownToolResult is the tools/call result for a name the server does
// not expose: an error result whose text is {"code":-32601,"message":...}.
func UnknownToolResult(name string) *CallToolResult {
	text, _ := json.Marshal(RPCError{Code: RPCMethodNotFound, Message: "Unknown tool: " + name})
	return TextResult(string(text), true)
}

// ToolCall is a decoded tools/call request together with the caller's
// Authorization header, forwarded unchanged to downstream APIs.
type ToolCall struct {
	Name          string
	Arguments     map[string]interface{}
	Authorization string
}

// --- MCP tool listing types ---

// ToolDefinition describes a single tool exposed by an MCP server.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsResult is the result of a tools/list response.
type ListToolsResult struct {
	Tools      []ToolDefinition `json:"tools"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// --- Lifecycle types ---

// InitializeParams is the subset of initialize params the server reads.
type InitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	ClientInfo      map[string]interface{} `json:"clientInfo,omitempty"`
}

// Implementation names a client or server.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is returned from initialize.
type InitializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      Implementation         `json:"serverInfo"`
}

// DefaultProtocolVersion is offered when the client does not ask for one.
const DefaultProtocolVersion = "2025-06-18"

// --- Message type classification ---

// MessageKind classifies a parsed JSON-RPC message.
type MessageKind int

const (
	KindUnknown      MessageKind = iota
	KindToolCall                 // tools/call request
	KindToolList                 // tools/list request
	KindNotification             // any notification (no id)
	KindResponse                 // any response (has id, has result or error)
	KindOtherRequest             // any other request (has id + method)
)

// String returns a human-readable label for the message kind.
func (k MessageKind) String() string {
	switch k {
	case KindToolCall:
		return "tools/call"
	case KindToolList:
		return "tools/list"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	case KindOtherRequest:
		return "other-request"
	default:
		return "unknown"
	}
}

// --- Well-known MCP methods ---

const (
	MethodInitialize             = "initialize"
	MethodInitialized            = "initialized"
	MethodNotificationsPrefix    = "notifications/"
	MethodPing                   = "ping"
	MethodToolsCall              = "tools/call"
	MethodToolsList              = "tools/list"
	MethodResourcesList          = "resources/list"
	MethodResourcesTemplatesList = "resources/templates/list"
	MethodPromptsList            = "prompts/list"
	MethodCompletionComplete     = "completion/complete"
	MethodLoggingSetLevel        = "logging/setLevel"
)

// --- JSON-RPC error codes ---

const (
	RPCParseError     = -32700
	RPCInvalidRequest = -32600
	RPCMethodNotFound = -32601
	RPCInvalidParams  = -32602
	RPCInternalError  = -32603
)
