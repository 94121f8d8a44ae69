package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

// stubTools returns fixed tools and records calls.
type stubTools struct {
	mu    sync.Mutex
	calls []ToolCall
	panic bool
}

func (s *stubTools) Tools() []ToolDefinition {
	return []ToolDefinition{{
		Name:        "echo",
		Description: "Echo the input",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}}
}

func (s *stubTools) recorded() []ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ToolCall(nil), s.calls...)
}

func (s *stubTools) Call(_ context.Context, call ToolCall) *CallToolResult {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	if s.panic {
		panic("tool exploded")
	}
	return TextResult("echo:"+call.Name, false)
}

type recordedEvent struct {
	name  string
	props map[string]string
}

type recordingTelemetry struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingTelemetry) Track(name string, props map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name, props})
}

func (r *recordingTelemetry) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.name)
	}
	return out
}

type rpcObservation struct {
	method string
	code   int
}

type recordingMetrics struct {
	observed []rpcObservation
}

func (m *recordingMetrics) ObserveRPC(method string, code int, _ time.Duration) {
	m.observed = append(m.observed, rpcObservation{method, code})
}

func newTestServer(tools ToolProvider) (*Server, *recordingTelemetry) {
	tel := &recordingTelemetry{}
	return NewServer(ServerConfig{Version: "test", Tools: tools, Telemetry: tel}), tel
}

// decodeResponse unmarshals a response envelope.
func decodeResponse(t *testing.T, data []byte) (id string, result map[string]interface{}, rpcErr *RPCError) {
	t.Helper()
	var env struct {
		ID     json.RawMessage        `json:"id"`
		Result map[string]interface{} `json:"result"`
		Error  *RPCError              `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, data)
	}
	return string(env.ID), env.Result, env.Error
}

func TestHandle_Initialize_EchoesProtocolVersion(t *testing.T) {
	s, _ := newTestServer(&stubTools{})
	resp, reply := s.Handle(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`), "")
	if !reply {
		t.Fatal("expected a reply for a request")
	}
	id, result, rpcErr := decodeResponse(t, resp)
	if rpcErr != nil {
		t.Fatalf("unexpected error: %+v", rpcErr)
	}
	if id != "1" {
		t.Errorf("expected id 1, got %s", id)
	}
	if result["protocolVersion"] != "2024-11-05" {
		t.Errorf("expected echoed protocol version, got %v", result["protocolVersion"])
	}
	info := result["serverInfo"].(map[string]interface{})
	if info["name"] != "graph-power-orchestration" || info["version"] != "test" {
		t.Errorf("unexpected serverInfo %v", info)
	}
	caps := result["capabilities"].(map[string]interface{})
	if caps["tools"].(map[string]interface{})["listChanged"] != false {
		t.Errorf("unexpected capabilities %v", caps)
	}
}

func TestHandle_Initialize_DefaultVersion(t *testing.T) {
	s, _ := newTestServer(&stubTools{})
	resp, _ := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`), "")
	_, result, _ := decodeResponse(t, resp)
	if result["protocolVersion"] != DefaultProtocolVersion {
		t.Errorf("expected %s, got %v", DefaultProtocolVersion, result["protocolVersion"])
	}
}

func TestHandle_FixedPayloads(t *testing.T) {
	tests := map[string]string{
		"ping":                     `{}`,
		"resources/list":           `{"resources":[]}`,
		"resources/templates/list": `{"resourceTemplates":[]}`,
		"prompts/list":             `{"prompts":[]}`,
		"completion/complete":      `{"completion":{"hasMore":false,"total":0,"values":[]}}`,
		"logging/setLevel":         `{}`,
		"notifications/cancelled":  `{}`,
		"initialized":              `{}`,
	}
	s, _ := newTestServer(&stubTools{})
	for method, want := range tests {
		resp, _ := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":9,"method":"`+method+`"}`), "")
		var env struct {
			Result json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal(resp, &env); err != nil {
			t.Fatalf("%s: bad response %s", method, resp)
		}
		if string(env.Result) != want {
			t.Errorf("%s: expected %s, got %s", method, want, env.Result)
		}
	}
}

func TestHandle_ParseError(t *testing.T) {
	s, _ := newTestServer(&stubTools{})
	resp, reply := s.Handle(context.Background(), []byte(`{"jsonrpc":`), "")
	if !reply {
		t.Fatal("parse errors must be answered")
	}
	id, _, rpcErr := decodeResponse(t, resp)
	if id != "null" {
		t.Errorf("expected id null, got %s", id)
	}
	if rpcErr == nil || rpcErr.Code != RPCParseError || rpcErr.Message != "Parse error" {
		t.Errorf("unexpected error %+v", rpcErr)
	}
}

func TestHandle_InvalidRequest(t *testing.T) {
	s, _ := newTestServer(&stubTools{})
	for _, input := range []string{`[]`, `{"jsonrpc":"2.0"}`, `42`} {
		resp, reply := s.Handle(context.Background(), []byte(input), "")
		if !reply {
			t.Fatalf("%s: expected reply", input)
		}
		id, _, rpcErr := decodeResponse(t, resp)
		if rpcErr == nil || rpcErr.Code != RPCInvalidRequest {
			t.Errorf("%s: expected -32600, got %+v", input, rpcErr)
		}
		if id != "null" {
			t.Errorf("%s: expected id null, got %s", input, id)
		}
	}
}

func TestHandle_ClientResponseIgnored(t *testing.T) {
	s, _ := newTestServer(&stubTools{})
	if resp, reply := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":3,"result":{}}`), ""); reply || resp != nil {
		t.Errorf("client responses must not be answered, got %s", resp)
	}
}

func TestHandle_MethodNotFound(t *testing.T) {
	s, _ := newTestServer(&stubTools{})
	resp, _ := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":"x","method":"sampling/createMessage"}`), "")
	id, _, rpcErr := decodeResponse(t, resp)
	if id != `"x"` {
		t.Errorf("expected string id preserved, got %s", id)
	}
	if rpcErr == nil || rpcErr.Code != RPCMethodNotFound {
		t.Errorf("expected -32601, got %+v", rpcErr)
	}
}

func TestHandle_ToolsListIsStable(t *testing.T) {
	s, _ := newTestServer(&stubTools{})
	req := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	first, _ := s.Handle(context.Background(), req, "")
	second, _ := s.Handle(context.Background(), req, "")
	if !bytes.Equal(first, second) {
		t.Errorf("tools/list not byte-identical:\n%s\n%s", first, second)
	}
	if !strings.Contains(string(first), `"name":"echo"`) {
		t.Errorf("expected tool in listing: %s", first)
	}
}

func TestHandle_ToolsCallForwardsAuthorization(t *testing.T) {
	tools := &stubTools{}
	s, _ := newTestServer(tools)
	resp, _ := s.Handle(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"echo","arguments":{"a":1}}}`),
		"Bearer secret")
	_, result, rpcErr := decodeResponse(t, resp)
	if rpcErr != nil {
		t.Fatalf("unexpected error %+v", rpcErr)
	}
	if len(tools.calls) != 1 || tools.calls[0].Authorization != "Bearer secret" {
		t.Fatalf("expected Authorization forwarded, got %+v", tools.calls)
	}
	if tools.calls[0].Arguments["a"] != float64(1) {
		t.Errorf("expected arguments passed through, got %v", tools.calls[0].Arguments)
	}
	content := result["content"].([]interface{})[0].(map[string]interface{})
	if content["text"] != "echo:echo" {
		t.Errorf("unexpected content %v", content)
	}
}

func TestHandle_ToolsCallMissingName(t *testing.T) {
	s, _ := newTestServer(&stubTools{})
	resp, _ := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{}}`), "")
	_, _, rpcErr := decodeResponse(t, resp)
	if rpcErr == nil || rpcErr.Code != RPCInvalidParams {
		t.Errorf("expected -32602, got %+v", rpcErr)
	}
}

func TestHandle_RecoversPanic(t *testing.T) {
	s, _ := newTestServer(&stubTools{panic: true})
	resp, reply := s.Handle(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"echo"}}`), "")
	if !reply {
		t.Fatal("expected reply")
	}
	id, _, rpcErr := decodeResponse(t, resp)
	if id != "5" {
		t.Errorf("expected id 5, got %s", id)
	}
	if rpcErr == nil || rpcErr.Code != RPCInternalError || !strings.Contains(rpcErr.Message, "tool exploded") {
		t.Errorf("expected -32603 with panic message, got %+v", rpcErr)
	}
}

func TestHandle_NotificationGetsNoReply(t *testing.T) {
	s, _ := newTestServer(&stubTools{})
	if _, reply := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`), ""); reply {
		t.Error("notifications must not be answered")
	}
}

func TestHandle_EmitsTelemetryAndMetrics(t *testing.T) {
	metrics := &recordingMetrics{}
	tel := &recordingTelemetry{}
	s := NewServer(ServerConfig{Tools: &stubTools{}, Telemetry: tel, Metrics: metrics})
	s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`), "")

	got := strings.Join(tel.names(), ",")
	if got != "McpRequestReceived,McpMethod,McpRequestCompleted" {
		t.Errorf("unexpected events %s", got)
	}
	last := tel.events[len(tel.events)-1]
	if last.props["method"] != "ping" || last.props["durationMs"] == "" {
		t.Errorf("unexpected completion props %v", last.props)
	}
	if len(metrics.observed) != 1 || metrics.observed[0] != (rpcObservation{"ping", 0}) {
		t.Errorf("unexpected metrics %+v", metrics.observed)
	}
}

func TestHandle_RejectedMessagesTracked(t *testing.T) {
	metrics := &recordingMetrics{}
	tel := &recordingTelemetry{}
	s := NewServer(ServerConfig{Tools: &stubTools{}, Telemetry: tel, Metrics: metrics})

	s.Handle(context.Background(), []byte(`{"jsonrpc":`), "")
	s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0"}`), "")

	if got := strings.Join(tel.names(), ","); got != "McpRequestReceived,McpRequestCompleted,McpRequestReceived,McpRequestCompleted" {
		t.Fatalf("unexpected events %s", got)
	}
	if code := tel.events[1].props["code"]; code != "-32700" {
		t.Errorf("parse error completion code = %q", code)
	}
	if code := tel.events[3].props["code"]; code != "-32600" {
		t.Errorf("invalid request completion code = %q", code)
	}
	if tel.events[3].props["durationMs"] == "" {
		t.Error("completion event has no duration")
	}
	if len(metrics.observed) != 2 {
		t.Errorf("unexpected metrics %+v", metrics.observed)
	}
}

func TestHandle_ToolCallWithoutProvider(t *testing.T) {
	s := NewServer(ServerConfig{})
	resp, _ := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"missing"}}`), "")
	_, result, rpcErr := decodeResponse(t, resp)
	if rpcErr != nil {
		t.Fatalf("unexpected rpc error %+v", rpcErr)
	}
	content := result["content"].([]interface{})[0].(map[string]interface{})
	if result["isError"] != true || content["text"] != `{"code":-32601,"message":"Unknown tool: missing"}` {
		t.Errorf("unexpected result %v", result)
	}
}
