package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gzhole/graphpower/internal/clock"
	"github.com/gzhole/graphpower/internal/discovery"
	"github.com/gzhole/graphpower/internal/graph"
	"github.com/gzhole/graphpower/internal/mcp"
)

// fakeGraph replays scripted responses and records each request.
type fakeGraph struct {
	mu        sync.Mutex
	responses []fakeResponse
	urls      []string
	bodies    []string
	auth      []string
}

type fakeResponse struct {
	status     int
	retryAfter string
	body       string
}

func (f *fakeGraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.urls = append(f.urls, r.URL.String())
	f.bodies = append(f.bodies, string(body))
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	idx := len(f.urls) - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	resp := f.responses[idx]
	f.mu.Unlock()

	if resp.retryAfter != "" {
		w.Header().Set("Retry-After", resp.retryAfter)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	_, _ = io.WriteString(w, resp.body)
}

func (f *fakeGraph) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

type stubDiscoverer struct {
	result *discovery.Result
	err    error
	query  string
}

func (s *stubDiscoverer) Discover(_ context.Context, query, category string) (*discovery.Result, error) {
	s.query = query + "|" + category
	return s.result, s.err
}

type harness struct {
	orch    *Orchestrator
	graph   *fakeGraph
	clock   *clock.Fake
	audit   []AuditEntry
	server  *httptest.Server
	discovr Discoverer
}

func newHarness(t *testing.T, responses ...fakeResponse) *harness {
	t.Helper()
	h := &harness{
		graph: &fakeGraph{responses: responses},
		clock: clock.NewFake(time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC)),
	}
	h.server = httptest.NewServer(h.graph)
	t.Cleanup(h.server.Close)

	h.discovr = &stubDiscoverer{result: &discovery.Result{Success: true, Query: "q", Operations: []discovery.Operation{}}}
	h.orch = New(Config{
		Graph:     graph.NewClient(graph.ClientConfig{BaseURL: h.server.URL, Clock: h.clock}),
		Discovery: h.discovr,
		Clock:     h.clock,
		OnAudit:   func(e AuditEntry) { h.audit = append(h.audit, e) },
	})
	return h
}

func (h *harness) call(name string, args map[string]interface{}) *mcp.CallToolResult {
	return h.orch.Call(context.Background(), mcp.ToolCall{Name: name, Arguments: args, Authorization: "Bearer user-token"})
}

func text(r *mcp.CallToolResult) string {
	if len(r.Content) == 0 {
		return ""
	}
	return r.Content[0].Text
}

func decodeText(t *testing.T, r *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(text(r)), &m); err != nil {
		t.Fatalf("result is not JSON: %v\n%s", err, text(r))
	}
	return m
}

func TestTools_ByteIdentical(t *testing.T) {
	h := newHarness(t, fakeResponse{status: 200, body: `{}`})
	first, _ := json.Marshal(h.orch.Tools())
	second, _ := json.Marshal(h.orch.Tools())
	if !bytes.Equal(first, second) {
		t.Error("tool catalog changed between calls")
	}
	for _, name := range []string{ToolDiscoverGraph, ToolInvokeGraph, ToolBatchInvokeGraph} {
		if !strings.Contains(string(first), `"name":"`+name+`"`) {
			t.Errorf("catalog missing %s", name)
		}
	}
	for _, def := range h.orch.Tools() {
		if !json.Valid(def.InputSchema) {
			t.Errorf("%s: input schema is not valid JSON", def.Name)
		}
	}
}

func TestCall_UnknownTool(t *testing.T) {
	h := newHarness(t, fakeResponse{status: 200, body: `{}`})
	r := h.call("delete_everything", nil)
	if !r.IsError || text(r) != `{"code":-32601,"message":"Unknown tool: delete_everything"}` {
		t.Errorf("unexpected result %+v", r)
	}
	if len(h.audit) != 1 || h.audit[0].Outcome != OutcomeUnknownTool {
		t.Errorf("expected audit entry, got %+v", h.audit)
	}
}

func TestInvoke_ValidationRejects(t *testing.T) {
	tests := []struct {
		args   map[string]interface{}
		wantIn string
	}{
		{map[string]interface{}{"endpoint": "/users/{id}", "method": "GET"}, "{id}"},
		{map[string]interface{}{"endpoint": "v1.0/me", "method": "GET"}, "apiVersion"},
		{map[string]interface{}{"endpoint": "/me//messages", "method": "GET"}, "//"},
		{map[string]interface{}{"endpoint": "/users", "method": "DELETE"}, "DELETE"},
		{map[string]interface{}{"endpoint": "/me", "method": "HEAD"}, "HEAD"},
		{map[string]interface{}{"endpoint": "/me"}, "method is required"},
		{map[string]interface{}{"method": "GET"}, "endpoint is required"},
		{map[string]interface{}{"endpoint": "/me", "method": "GET", "apiVersion": "v2"}, "apiVersion"},
		{map[string]interface{}{"endpoint": "/me", "method": "GET", "queryParams": "top=5"}, "queryParams"},
	}

	h := newHarness(t, fakeResponse{status: 200, body: `{}`})
	for _, tt := range tests {
		r := h.call(ToolInvokeGraph, tt.args)
		if !r.IsError {
			t.Errorf("%v: expected isError", tt.args)
			continue
		}
		if !strings.HasPrefix(text(r), "Invalid arguments: ") || !strings.Contains(text(r), tt.wantIn) {
			t.Errorf("%v: expected argument error mentioning %q, got %q", tt.args, tt.wantIn, text(r))
		}
	}
	if n := len(h.graph.requests()); n != 0 {
		t.Errorf("argument errors must not reach Graph, got %d requests", n)
	}
}

func TestInvoke_AutoTopAndCallerTop(t *testing.T) {
	h := newHarness(t, fakeResponse{status: 200, body: `{"value":[]}`})

	h.call(ToolInvokeGraph, map[string]interface{}{"endpoint": "/me/messages", "method": "get"})
	h.call(ToolInvokeGraph, map[string]interface{}{
		"endpoint":    "me/messages",
		"method":      "GET",
		"queryParams": map[string]interface{}{"top": float64(10), "select": "subject"},
	})

	urls := h.graph.requests()
	if len(urls) != 2 {
		t.Fatalf("expected 2 requests, got %v", urls)
	}
	if urls[0] != "/v1.0/me/messages?$top=25" {
		t.Errorf("expected auto $top=25, got %s", urls[0])
	}
	if !strings.Contains(urls[1], "$top=10") || strings.Contains(urls[1], "$top=25") || !strings.Contains(urls[1], "$select=subject") {
		t.Errorf("expected caller $top=10 only, got %s", urls[1])
	}
	if h.graph.auth[0] != "Bearer user-token" {
		t.Errorf("expected bearer forwarded, got %q", h.graph.auth[0])
	}
}

func TestInvoke_SuccessWrapAndPaging(t *testing.T) {
	next := "https://graph.microsoft.com/v1.0/me/messages?$skiptoken=abc"
	long := "<html>" + strings.Repeat("a", 600) + "</html>"
	body, _ := json.Marshal(map[string]interface{}{
		"@odata.count":    float64(42),
		"@odata.nextLink": next,
		"value": []interface{}{
			map[string]interface{}{"subject": "hi", "body": map[string]interface{}{"contentType": "html", "content": long}},
		},
	})
	h := newHarness(t, fakeResponse{status: 200, body: string(body)})

	r := h.call(ToolInvokeGraph, map[string]interface{}{"endpoint": "/me/messages", "method": "GET", "apiVersion": "beta"})
	if r.IsError {
		t.Fatalf("unexpected error: %s", text(r))
	}
	m := decodeText(t, r)
	if m["success"] != true || m["apiVersion"] != "beta" || m["method"] != "GET" || m["endpoint"] != "/me/messages" {
		t.Errorf("unexpected wrap %v", m)
	}
	if m["hasMore"] != true || m["nextLink"] != next || m["totalCount"] != float64(42) || m["hint"] == nil {
		t.Errorf("expected paging metadata, got %v", m)
	}

	item := m["data"].(map[string]interface{})["value"].([]interface{})[0].(map[string]interface{})
	b := item["body"].(map[string]interface{})
	if b["content"] != strings.Repeat("a", 500)+"..." || b["contentType"] != "text" || b["_truncated"] != true {
		t.Errorf("expected summarized body, got %v", b)
	}
	if h.audit[0].Outcome != OutcomeSuccess || h.audit[0].StatusCode != 200 {
		t.Errorf("unexpected audit %+v", h.audit[0])
	}
}

func TestInvoke_NoContent(t *testing.T) {
	h := newHarness(t, fakeResponse{status: 204})
	r := h.call(ToolInvokeGraph, map[string]interface{}{"endpoint": "/me/messages/AAMk", "method": "DELETE"})
	m := decodeText(t, r)
	data := m["data"].(map[string]interface{})
	if r.IsError || data["status"] != float64(204) {
		t.Errorf("unexpected 204 handling %v", m)
	}
}

func TestInvoke_SendsBody(t *testing.T) {
	h := newHarness(t, fakeResponse{status: 202})
	h.call(ToolInvokeGraph, map[string]interface{}{
		"endpoint": "/me/sendMail",
		"method":   "POST",
		"body":     map[string]interface{}{"message": map[string]interface{}{"subject": "x"}},
	})
	if h.graph.bodies[0] != `{"message":{"subject":"x"}}` {
		t.Errorf("unexpected body %s", h.graph.bodies[0])
	}
}

func TestInvoke_CalendarDefaults(t *testing.T) {
	h := newHarness(t, fakeResponse{status: 200, body: `{"value":[]}`})
	h.call(ToolInvokeGraph, map[string]interface{}{"endpoint": "/me/calendarView", "method": "GET"})
	u := h.graph.requests()[0]
	if !strings.Contains(u, "startDateTime=2026-06-01T00%3A00%3A00Z") || !strings.Contains(u, "endDateTime=2026-06-08T00%3A00%3A00Z") {
		t.Errorf("expected calendar window defaults, got %s", u)
	}
}

func TestInvoke_RetriesThenSucceeds(t *testing.T) {
	h := newHarness(t,
		fakeResponse{status: 429, retryAfter: "1", body: `{"error":{"code":"TooManyRequests"}}`},
		fakeResponse{status: 429, body: `{"error":{"code":"TooManyRequests"}}`},
		fakeResponse{status: 200, body: `{"id":"me"}`},
	)
	r := h.call(ToolInvokeGraph, map[string]interface{}{"endpoint": "/me", "method": "GET"})
	if r.IsError || decodeText(t, r)["success"] != true {
		t.Fatalf("expected success after retries, got %s", text(r))
	}
	if sleeps := h.clock.Sleeps(); len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 5*time.Second {
		t.Errorf("unexpected delays %v", sleeps)
	}
}

func TestInvoke_ThrottlingSurfaced(t *testing.T) {
	h := newHarness(t, fakeResponse{status: 429, retryAfter: "2", body: `{"error":{"code":"TooManyRequests","message":"Too many requests"}}`})
	r := h.call(ToolInvokeGraph, map[string]interface{}{"endpoint": "/me", "method": "GET"})
	m := decodeText(t, r)
	if m["error"] != true || m["status"] != float64(429) || m["code"] != "TooManyRequests" {
		t.Errorf("expected structured 429, got %v", m)
	}
	if n := len(h.graph.requests()); n != 4 {
		t.Errorf("expected 4 attempts, got %d", n)
	}
	if h.audit[0].Outcome != OutcomeUpstreamError {
		t.Errorf("unexpected outcome %s", h.audit[0].Outcome)
	}
}

func TestInvoke_PermissionClassification(t *testing.T) {
	h := newHarness(t, fakeResponse{status: 403, body: `{"error":{"code":"ErrorAccessDenied","message":"Access is denied."}}`})
	r := h.call(ToolInvokeGraph, map[string]interface{}{"endpoint": "/me/messages", "method": "GET"})
	if !r.IsError {
		t.Fatal("expected isError for 403")
	}
	m := decodeText(t, r)
	if !strings.Contains(m["userMessage"].(string), "emails") || m["errorType"] != graph.ErrorTypePermissionDenied {
		t.Errorf("unexpected classification %v", m)
	}
	if h.audit[0].Outcome != OutcomeAccessDenied || h.audit[0].StatusCode != 403 {
		t.Errorf("unexpected audit %+v", h.audit[0])
	}

	h = newHarness(t, fakeResponse{status: 401, body: `{"error":{"code":"InvalidAuthenticationToken"}}`})
	r = h.call(ToolInvokeGraph, map[string]interface{}{"endpoint": "/sites/root", "method": "GET"})
	if !r.IsError || decodeText(t, r)["errorType"] != graph.ErrorTypeSessionExpired {
		t.Errorf("expected session_expired, got %s", text(r))
	}
}

func TestInvoke_UpstreamErrorIsData(t *testing.T) {
	h := newHarness(t, fakeResponse{status: 400, body: `{"error":{"code":"BadRequest","message":"Invalid filter clause"}}`})
	r := h.call(ToolInvokeGraph, map[string]interface{}{"endpoint": "/users", "method": "GET"})
	if r.IsError {
		t.Error("non-access upstream errors are returned as data")
	}
	m := decodeText(t, r)
	if m["code"] != "BadRequest" || m["message"] != "Invalid filter clause" {
		t.Errorf("unexpected error shape %v", m)
	}
}

func TestInvoke_TransportFailureIsToolError(t *testing.T) {
	h := newHarness(t, fakeResponse{status: 200, body: `{}`})
	h.server.Close()
	r := h.call(ToolInvokeGraph, map[string]interface{}{"endpoint": "/me", "method": "GET"})
	if !r.IsError || !strings.HasPrefix(text(r), "Tool error: ") {
		t.Errorf("expected tool error, got %q", text(r))
	}
}

func batchOf(n int) []interface{} {
	out := make([]interface{}, n)
	for i := range out {
		out[i] = map[string]interface{}{"id": float64(i + 1), "endpoint": "me"}
	}
	return out
}

func TestBatch_SizeLimits(t *testing.T) {
	h := newHarness(t, fakeResponse{status: 200, body: `{"responses":[]}`})

	for _, n := range []int{0, 21} {
		r := h.call(ToolBatchInvokeGraph, map[string]interface{}{"requests": batchOf(n)})
		if !r.IsError || !strings.HasPrefix(text(r), "Invalid arguments: ") {
			t.Errorf("%d requests: expected argument error, got %q", n, text(r))
		}
	}
	if n := len(h.graph.requests()); n != 0 {
		t.Fatalf("invalid batches must not reach Graph, got %d requests", n)
	}

	h.call(ToolBatchInvokeGraph, map[string]interface{}{"requests": batchOf(20)})
	urls := h.graph.requests()
	if len(urls) != 1 || urls[0] != "/v1.0/$batch" {
		t.Fatalf("expected exactly one $batch POST, got %v", urls)
	}
	var payload struct {
		Requests []graph.BatchRequest `json:"requests"`
	}
	if err := json.Unmarshal([]byte(h.graph.bodies[0]), &payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if len(payload.Requests) != 20 || payload.Requests[0].URL != "/me" || payload.Requests[0].Method != "GET" || payload.Requests[19].ID != "20" {
		t.Errorf("unexpected payload %+v", payload.Requests)
	}
}

func TestBatch_Validation(t *testing.T) {
	tests := []struct {
		requests interface{}
		wantIn   string
	}{
		{nil, "requests is required"},
		{"x", "must be an array"},
		{[]interface{}{map[string]interface{}{"endpoint": "/me"}}, "id is required"},
		{[]interface{}{map[string]interface{}{"id": "1"}}, "endpoint is required"},
		{[]interface{}{map[string]interface{}{"id": "1", "endpoint": "/users/{id}"}}, "{id}"},
		{[]interface{}{map[string]interface{}{"id": "1", "endpoint": "/me", "method": "TRACE"}}, "TRACE"},
		{[]interface{}{
			map[string]interface{}{"id": "1", "endpoint": "/me"},
			map[string]interface{}{"id": "1", "endpoint": "/me/events"},
		}, "not unique"},
		{[]interface{}{map[string]interface{}{"id": "1", "endpoint": "https://graph.microsoft.com/v1.0/me"}}, "relative"},
	}
	h := newHarness(t, fakeResponse{status: 200, body: `{"responses":[]}`})
	for _, tt := range tests {
		r := h.call(ToolBatchInvokeGraph, map[string]interface{}{"requests": tt.requests})
		if !r.IsError || !strings.Contains(text(r), tt.wantIn) {
			t.Errorf("%v: expected error mentioning %q, got %q", tt.requests, tt.wantIn, text(r))
		}
	}
}

func TestBatch_AggregatesInRequestOrder(t *testing.T) {
	long := strings.Repeat("p", 1500)
	resp := `{"responses":[` +
		`{"id":"b","status":403,"body":{"error":{"code":"Forbidden"}}},` +
		`{"id":"a","status":200,"body":{"bodyPreview":"` + long + `"}}` +
		`]}`
	h := newHarness(t, fakeResponse{status: 200, body: resp})

	r := h.call(ToolBatchInvokeGraph, map[string]interface{}{
		"apiVersion": "beta",
		"requests": []interface{}{
			map[string]interface{}{"id": "a", "endpoint": "/me/messages/1"},
			map[string]interface{}{"id": "b", "endpoint": "/me/events", "method": "post", "body": map[string]interface{}{"subject": "s"}},
			map[string]interface{}{"id": "c", "endpoint": "/me"},
		},
	})
	if r.IsError {
		t.Fatalf("batch results are data, got error %s", text(r))
	}
	m := decodeText(t, r)
	if m["success"] != false || m["batchSize"] != float64(3) || m["successCount"] != float64(1) || m["errorCount"] != float64(2) {
		t.Errorf("unexpected aggregate %v", m)
	}
	items := m["responses"].([]interface{})
	ids := []string{}
	for _, it := range items {
		ids = append(ids, it.(map[string]interface{})["id"].(string))
	}
	if strings.Join(ids, ",") != "a,b,c" {
		t.Errorf("expected request order, got %v", ids)
	}
	preview := items[0].(map[string]interface{})["data"].(map[string]interface{})["bodyPreview"].(string)
	if len(preview) != 1003 {
		t.Errorf("expected summarized preview, got %d chars", len(preview))
	}

	if !strings.Contains(h.graph.bodies[0], `"Content-Type":"application/json"`) {
		t.Errorf("expected Content-Type added for body, payload %s", h.graph.bodies[0])
	}
	if h.graph.requests()[0] != "/beta/$batch" {
		t.Errorf("expected beta batch, got %s", h.graph.requests()[0])
	}
}

func TestDiscover_DelegatesAndValidates(t *testing.T) {
	h := newHarness(t, fakeResponse{status: 200, body: `{}`})
	stub := h.discovr.(*stubDiscoverer)

	r := h.call(ToolDiscoverGraph, map[string]interface{}{"query": "list my files", "category": "files"})
	if r.IsError || stub.query != "list my files|files" {
		t.Errorf("unexpected delegation %q %s", stub.query, text(r))
	}

	r = h.call(ToolDiscoverGraph, map[string]interface{}{"category": "files"})
	if !r.IsError || text(r) != "Invalid arguments: query is required" {
		t.Errorf("expected argument error, got %q", text(r))
	}

	stub.err = errors.New("boom")
	r = h.call(ToolDiscoverGraph, map[string]interface{}{"query": "x"})
	if !r.IsError || text(r) != "Tool error: boom" {
		t.Errorf("expected tool error, got %q", text(r))
	}
}

type staticSearcher string

func (s staticSearcher) Search(context.Context, string) (string, error) { return string(s), nil }

func TestDiscover_CachedFlagThroughEngine(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	engine := discovery.NewEngine(discovery.EngineConfig{
		Searcher: staticSearcher(`[{"title":"Microsoft Graph users","content":"GET /users"}]`),
		Clock:    clk,
	})
	orch := New(Config{Discovery: engine, Clock: clk})

	call := mcp.ToolCall{Name: ToolDiscoverGraph, Arguments: map[string]interface{}{"query": "users"}}
	first := decodeText(t, orch.Call(context.Background(), call))
	second := decodeText(t, orch.Call(context.Background(), call))
	if _, ok := first["cached"]; ok {
		t.Error("first call must not be cached")
	}
	if second["cached"] != true {
		t.Error("second call must be cached")
	}
	a, _ := json.Marshal(first["operations"])
	b, _ := json.Marshal(second["operations"])
	if !bytes.Equal(a, b) {
		t.Errorf("operations differ:\n%s\n%s", a, b)
	}
}
