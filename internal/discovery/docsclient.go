package discovery

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gzhole/graphpower/internal/graph"
	"github.com/gzhole/graphpower/internal/mcp"
)

const (
	// DefaultDocsURL is the MS Learn documentation MCP endpoint.
	DefaultDocsURL = "https://learn.microsoft.com/api/mcp"
	// DocsSearchTool is the search tool exposed by the docs server.
	DocsSearchTool = "microsoft_docs_search"

	sessionHeader     = "Mcp-Session-Id"
	maxDocsReplyBytes = 8 << 20
)

// DocsClientConfig configures a DocsClient.
type DocsClientConfig struct {
	// URL defaults to DefaultDocsURL.
	URL string
	// HTTP defaults to an *http.Client with a 30s timeout.
	HTTP          graph.Doer
	ClientName    string
	ClientVersion string
	Logger        *zap.Logger
}

// DocsClient performs a search against a documentation MCP server using
// a fresh initialize, notifications/initialized, tools/call sequence.
type DocsClient struct {
	cfg    DocsClientConfig
	logger *zap.Logger
}

// NewDocsClient returns a DocsClient with defaults applied.
func NewDocsClient(cfg DocsClientConfig) *DocsClient {
	if cfg.URL == "" {
		cfg.URL = DefaultDocsURL
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "graph-power-orchestration"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &DocsClient{cfg: cfg, logger: cfg.Logger.With(zap.String("component", "docs_client"))}
}

// Search runs the docs search tool for query and returns the text of the
// first content item.
func (d *DocsClient) Search(ctx context.Context, query string) (string, error) {
	initResult, session, err := d.call(ctx, "", mcp.MethodInitialize, map[string]interface{}{
		"protocolVersion": mcp.DefaultProtocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo":      mcp.Implementation{Name: d.cfg.ClientName, Version: d.cfg.ClientVersion},
	}, true)
	if err != nil {
		return "", fmt.Errorf("docs initialize: %w", err)
	}
	d.logger.Debug("docs session initialized",
		zap.Bool("session", session != ""),
		zap.Int("result_bytes", len(initResult)))

	if _, _, err := d.call(ctx, session, "notifications/initialized", nil, false); err != nil {
		d.logger.Debug("docs initialized notification failed", zap.Error(err))
	}

	raw, _, err := d.call(ctx, session, mcp.MethodToolsCall, mcp.CallToolParams{
		Name:      DocsSearchTool,
		Arguments: map[string]interface{}{"query": query},
	}, true)
	if err != nil {
		return "", fmt.Errorf("docs search: %w", err)
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decoding docs search result: %w", err)
	}
	if result.IsError {
		return "", errors.New("docs search tool reported an error")
	}
	if len(result.Content) == 0 {
		return "", errors.New("docs search returned no content")
	}
	return result.Content[0].Text, nil
}

// call posts one JSON-RPC message. Requests get a fresh UUID id and their
// result is returned; notifications (request == false) return nil.
func (d *DocsClient) call(ctx context.Context, session, method string, params interface{}, request bool) (json.RawMessage, string, error) {
	msg := mcp.Message{JSONRPC: "2.0", Method: method}
	var id string
	if request {
		id = uuid.NewString()
		raw := json.RawMessage(`"` + id + `"`)
		msg.ID = &raw
	}
	if params != nil {
		p, err := json.Marshal(params)
		if err != nil {
			return nil, "", fmt.Errorf("encoding params: %w", err)
		}
		msg.Params = p
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if session != "" {
		req.Header.Set(sessionHeader, session)
	}

	resp, err := d.cfg.HTTP.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if newSession := resp.Header.Get(sessionHeader); newSession != "" {
		session = newSession
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocsReplyBytes))
	if err != nil {
		return nil, session, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, session, fmt.Errorf("%s returned HTTP %d", method, resp.StatusCode)
	}
	if !request {
		return nil, session, nil
	}

	reply, err := decodeReply(body, resp.Header.Get("Content-Type"), id)
	if err != nil {
		return nil, session, err
	}
	if reply.Error != nil {
		return nil, session, fmt.Errorf("%s failed: %d %s", method, reply.Error.Code, reply.Error.Message)
	}
	return reply.Result, session, nil
}

// decodeReply extracts the JSON-RPC response for id from a plain JSON or
// server-sent-events body.
func decodeReply(body []byte, contentType, id string) (*mcp.Message, error) {
	if !strings.HasPrefix(strings.ToLower(contentType), "text/event-stream") {
		var msg mcp.Message
		if err := json.Unmarshal(body, &msg); err != nil {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
		return &msg, nil
	}

	var fallback *mcp.Message
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), maxDocsReplyBytes)
	var data strings.Builder
	flush := func() *mcp.Message {
		defer data.Reset()
		if data.Len() == 0 {
			return nil
		}
		var msg mcp.Message
		if json.Unmarshal([]byte(data.String()), &msg) != nil {
			return nil
		}
		if msg.Result == nil && msg.Error == nil {
			return nil
		}
		if msg.ID != nil && strings.Trim(string(*msg.ID), `"`) == id {
			return &msg
		}
		fallback = &msg
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if msg := flush(); msg != nil {
				return msg, nil
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading event stream: %w", err)
	}
	if msg := flush(); msg != nil {
		return msg, nil
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, errors.New("event stream carried no JSON-RPC response")
}
