package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// nullID is the id used when a request's id could not be determined.
var nullID = json.RawMessage("null")

// ParseMessage parses a raw JSON byte slice into a Message and classifies it.
// Invalid JSON yields an *RPCError with RPCParseError; valid JSON that is not
// a request object yields RPCInvalidRequest.
func ParseMessage(data []byte) (*Message, MessageKind, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || !json.Valid(data) {
		return nil, KindUnknown, &RPCError{Code: RPCParseError, Message: "Parse error"}
	}
	if data[0] != '{' {
		return nil, KindUnknown, &RPCError{Code: RPCInvalidRequest, Message: "Invalid Request"}
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, KindUnknown, &RPCError{Code: RPCInvalidRequest, Message: fmt.Sprintf("Invalid Request: %v", err)}
	}

	kind := ClassifyMessage(&msg)
	return &msg, kind, nil
}

// ClassifyMessage determines the MessageKind of an already-parsed Message.
func ClassifyMessage(msg *Message) MessageKind {
	// Response: has id but no method
	if msg.ID != nil && msg.Method == "" {
		return KindResponse
	}

	// Notification: has method but no id
	if msg.ID == nil && msg.Method != "" {
		return KindNotification
	}

	// Request: has both id and method
	if msg.ID != nil && msg.Method != "" {
		switch msg.Method {
		case MethodToolsCall:
			return KindToolCall
		case MethodToolsList:
			return KindToolList
		default:
			return KindOtherRequest
		}
	}

	return KindUnknown
}

// ExtractToolCall extracts the tool name and arguments from a tools/call request.
// Returns an error if the message is not a tools/call or params are malformed.
func ExtractToolCall(msg *Message) (*CallToolParams, error) {
	if msg.Method != MethodToolsCall {
		return nil, fmt.Errorf("not a tools/call request: method=%q", msg.Method)
	}
	if msg.Params == nil {
		return nil, fmt.Errorf("tools/call request has no params")
	}

	var params CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil, fmt.Errorf("failed to parse tools/call params: %w", err)
	}
	if params.Name == "" {
		return nil, fmt.Errorf("tools/call params missing required field 'name'")
	}
	return &params, nil
}

// NewErrorResponse creates a JSON-RPC error response. A nil requestID is
// encoded as "id": null.
func NewErrorResponse(requestID *json.RawMessage, code int, message string) ([]byte, error) {
	if requestID == nil {
		requestID = &nullID
	}
	resp := Message{
		JSONRPC: "2.0",
		ID:      requestID,
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
	}
	return json.Marshal(resp)
}

// NewResultResponse creates a JSON-RPC success response carrying result.
func NewResultResponse(requestID *json.RawMessage, result interface{}) ([]byte, error) {
	if requestID == nil {
		requestID = &nullID
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	resp := Message{
		JSONRPC: "2.0",
		ID:      requestID,
		Result:  raw,
	}
	return json.Marshal(resp)
}
