package orchestrator

import (
	"encoding/json"

	"github.com/gzhole/graphpower/internal/mcp"
)

// Tool names.
const (
	ToolDiscoverGraph    = "discover_graph"
	ToolInvokeGraph      = "invoke_graph"
	ToolBatchInvokeGraph = "batch_invoke_graph"
)

// MaxBatchRequests is Graph's $batch limit.
const MaxBatchRequests = 20

const discoverSchema = `{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "What you want to do, in plain language (e.g. \"list unread emails\", \"create a calendar event\")."
    },
    "category": {
      "type": "string",
      "description": "Optional API area to focus the search, such as mail, calendar, users, groups, teams, files, sites, planner, or todo."
    }
  },
  "required": ["query"]
}`

const invokeSchema = `{
  "type": "object",
  "properties": {
    "endpoint": {
      "type": "string",
      "description": "Graph path without the version prefix, e.g. /me/messages or /users/{real-id}. A full @odata.nextLink URL is also accepted for paging."
    },
    "method": {
      "type": "string",
      "enum": ["GET", "POST", "PATCH", "PUT", "DELETE"],
      "description": "HTTP method."
    },
    "body": {
      "type": "object",
      "description": "JSON request body for POST, PATCH, and PUT."
    },
    "queryParams": {
      "type": "object",
      "description": "Query options such as select, filter, orderby, top, expand. The $ prefix is added for you.",
      "additionalProperties": {"type": ["string", "number", "boolean"]}
    },
    "apiVersion": {
      "type": "string",
      "enum": ["v1.0", "beta"],
      "default": "v1.0",
      "description": "Graph API version."
    }
  },
  "required": ["endpoint", "method"]
}`

const batchSchema = `{
  "type": "object",
  "properties": {
    "requests": {
      "type": "array",
      "minItems": 1,
      "maxItems": 20,
      "description": "Up to 20 Graph requests sent as one $batch call.",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "string", "description": "Unique id used to match the response."},
          "endpoint": {"type": "string", "description": "Graph path without the version prefix."},
          "method": {"type": "string", "enum": ["GET", "POST", "PATCH", "PUT", "DELETE"], "default": "GET"},
          "body": {"type": "object"},
          "headers": {"type": "object", "additionalProperties": {"type": "string"}}
        },
        "required": ["id", "endpoint"]
      }
    },
    "apiVersion": {
      "type": "string",
      "enum": ["v1.0", "beta"],
      "default": "v1.0"
    }
  },
  "required": ["requests"]
}`

var toolCatalog = []mcp.ToolDefinition{
	{
		Name:  ToolDiscoverGraph,
		Title: "Discover Graph endpoints",
		Description: "Search Microsoft Graph documentation for the REST endpoints, methods, and permissions " +
			"that accomplish a task. Use this before invoke_graph when you are unsure of the endpoint.",
		InputSchema: json.RawMessage(discoverSchema),
	},
	{
		Name:  ToolInvokeGraph,
		Title: "Invoke a Graph endpoint",
		Description: "Call any Microsoft Graph REST endpoint as the signed-in user. Collection GETs return " +
			"25 items by default; follow nextLink for more. Long message bodies are summarized.",
		InputSchema: json.RawMessage(invokeSchema),
	},
	{
		Name:  ToolBatchInvokeGraph,
		Title: "Batch invoke Graph endpoints",
		Description: "Run up to 20 independent Microsoft Graph requests in a single $batch call. " +
			"Each response reports its own status.",
		InputSchema: json.RawMessage(batchSchema),
	},
}

// Catalog returns the tool definitions. The schemas are shared and must not
// be modified.
func Catalog() []mcp.ToolDefinition {
	out := make([]mcp.ToolDefinition, len(toolCatalog))
	copy(out, toolCatalog)
	return out
}
