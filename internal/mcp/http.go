package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxBodyBytes bounds an inbound JSON-RPC POST body.
const DefaultMaxBodyBytes = 4 << 20

// HTTPServerConfig holds configuration for the MCP HTTP transport.
type HTTPServerConfig struct {
	// ListenAddr is the local address to listen on (e.g., ":8080" or "127.0.0.1:8080").
	// Defaults to "127.0.0.1:0" (random port on loopback).
	ListenAddr string

	// Server dispatches the decoded messages.
	Server *Server

	// Routes are extra handlers (e.g. /healthz, /metrics) mounted beside
	// the JSON-RPC endpoint, which serves every other path.
	Routes map[string]http.Handler

	// MaxBodyBytes defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64

	Logger *zap.Logger
}

// HTTPServer serves JSON-RPC over HTTP POST. Every POST is answered with
// status 200 and a JSON-RPC envelope, including protocol errors.
type HTTPServer struct {
	cfg      HTTPServerConfig
	logger   *zap.Logger
	server   *http.Server
	listener net.Listener
	mu       sync.Mutex
}

// NewHTTPServer creates a new MCP HTTP transport.
func NewHTTPServer(cfg HTTPServerConfig) *HTTPServer {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &HTTPServer{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("component", "mcp_http")),
	}
}

// Handler returns the HTTP handler with all routes mounted.
func (hs *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	for pattern, h := range hs.cfg.Routes {
		mux.Handle(pattern, h)
	}
	mux.HandleFunc("/", hs.handleMCP)
	return mux
}

// ListenAddr returns the actual address the server is listening on.
// Only valid after ListenAndServe has been called.
func (hs *HTTPServer) ListenAddr() string {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.listener != nil {
		return hs.listener.Addr().String()
	}
	return ""
}

// ListenAndServe starts the HTTP server and blocks until it is shut down.
// It returns nil after a graceful Shutdown.
func (hs *HTTPServer) ListenAndServe() error {
	ln, err := net.Listen("tcp", hs.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", hs.cfg.ListenAddr, err)
	}

	hs.mu.Lock()
	hs.listener = ln
	hs.server = &http.Server{
		Handler:           hs.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // Graph retries can wait up to 90s
		IdleTimeout:       120 * time.Second,
	}
	srv := hs.server
	hs.mu.Unlock()

	hs.logger.Info("listening", zap.String("addr", "http://"+ln.Addr().String()))

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (hs *HTTPServer) Shutdown(ctx context.Context) error {
	hs.mu.Lock()
	srv := hs.server
	hs.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// handleMCP is the main HTTP handler for all JSON-RPC messages.
func (hs *HTTPServer) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, hs.cfg.MaxBodyBytes))
	if err != nil {
		hs.logger.Warn("failed to read request body", zap.Error(err))
		// An unreadable body is reported the same way as unparseable JSON.
		body = nil
	}

	resp, _ := hs.cfg.Server.Handle(r.Context(), body, r.Header.Get("Authorization"))
	if resp == nil {
		// A client-sent response; acknowledge with an empty result.
		resp, _ = NewResultResponse(nil, struct{}{})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}
