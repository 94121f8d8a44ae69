package mcp

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseMessage_ToolCall(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"invoke_graph","arguments":{"endpoint":"/me"}}}`

	msg, kind, err := ParseMessage([]byte(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindToolCall {
		t.Errorf("expected KindToolCall, got %v", kind)
	}
	if msg.Method != MethodToolsCall {
		t.Errorf("expected method %q, got %q", MethodToolsCall, msg.Method)
	}
}

func TestParseMessage_Kinds(t *testing.T) {
	tests := []struct {
		input string
		want  MessageKind
	}{
		{`{"jsonrpc":"2.0","id":2,"method":"tools/list","params":{}}`, KindToolList},
		{`{"jsonrpc":"2.0","id":1,"result":{}}`, KindResponse},
		{`{"jsonrpc":"2.0","method":"notifications/initialized"}`, KindNotification},
		{`{"jsonrpc":"2.0","id":"abc","method":"ping"}`, KindOtherRequest},
		{`{"jsonrpc":"2.0"}`, KindUnknown},
	}
	for _, tt := range tests {
		_, kind, err := ParseMessage([]byte(tt.input))
		if err != nil {
			t.Fatalf("ParseMessage(%s): %v", tt.input, err)
		}
		if kind != tt.want {
			t.Errorf("ParseMessage(%s) kind = %v, want %v", tt.input, kind, tt.want)
		}
	}
}

func TestParseMessage_Errors(t *testing.T) {
	tests := []struct {
		input string
		code  int
	}{
		{`{not json`, RPCParseError},
		{``, RPCParseError},
		{`[1,2,3]`, RPCInvalidRequest},
		{`"hello"`, RPCInvalidRequest},
		{`{"jsonrpc":"2.0","id":1,"method":42}`, RPCInvalidRequest},
	}
	for _, tt := range tests {
		_, _, err := ParseMessage([]byte(tt.input))
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			t.Fatalf("ParseMessage(%q): expected *RPCError, got %v", tt.input, err)
		}
		if rpcErr.Code != tt.code {
			t.Errorf("ParseMessage(%q) code = %d, want %d", tt.input, rpcErr.Code, tt.code)
		}
	}
}

func TestExtractToolCall(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"discover_graph","arguments":{"query":"send mail"}}}`
	msg, _, _ := ParseMessage([]byte(input))

	params, err := ExtractToolCall(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Name != "discover_graph" {
		t.Errorf("expected name discover_graph, got %q", params.Name)
	}
	if params.Arguments["query"] != "send mail" {
		t.Errorf("expected query argument, got %v", params.Arguments)
	}
}

func TestExtractToolCall_MissingName(t *testing.T) {
	msg, _, _ := ParseMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"arguments":{}}}`))
	if _, err := ExtractToolCall(msg); err == nil {
		t.Error("expected error for missing name")
	}
}

func TestNewErrorResponse_NullID(t *testing.T) {
	data, err := NewErrorResponse(nil, RPCParseError, "Parse error")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if string(raw["id"]) != "null" {
		t.Errorf("expected id null, got %s", raw["id"])
	}
}

func TestNewResultResponse_PreservesID(t *testing.T) {
	id := json.RawMessage(`"req-7"`)
	data, err := NewResultResponse(&id, map[string]string{"ok": "yes"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"jsonrpc":"2.0","id":"req-7","result":{"ok":"yes"}}`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}
}
