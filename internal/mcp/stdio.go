package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// AuthorizationSource supplies the Authorization header value for
// transports that carry no headers of their own.
type AuthorizationSource interface {
	Authorization(ctx context.Context) (string, error)
}

// StdioConfig holds configuration for the stdio transport.
type StdioConfig struct {
	Server *Server
	// Auth is consulted once per tools/call. Nil means calls carry no
	// Authorization header.
	Auth   AuthorizationSource
	Logger *zap.Logger
}

// StdioServer serves newline-delimited JSON-RPC messages, answering each
// request on its own line. Notifications get no reply.
type StdioServer struct {
	cfg    StdioConfig
	logger *zap.Logger
	mu     sync.Mutex // serializes writes
}

// NewStdioServer creates a new stdio transport.
func NewStdioServer(cfg StdioConfig) *StdioServer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &StdioServer{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("component", "mcp_stdio")),
	}
}

// Serve reads messages from in until EOF or ctx is done.
func (ss *StdioServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024) // up to 10MB per message

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		authorization := ""
		if ss.cfg.Auth != nil && isToolCall(line) {
			var err error
			authorization, err = ss.cfg.Auth.Authorization(ctx)
			if err != nil {
				ss.logger.Warn("no Graph credential available", zap.Error(err))
			}
		}

		resp, reply := ss.cfg.Server.Handle(ctx, line, authorization)
		if !reply {
			continue
		}
		if err := ss.writeLine(out, resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	return nil
}

// isToolCall avoids resolving a credential for lifecycle traffic.
func isToolCall(line []byte) bool {
	msg, kind, err := ParseMessage(line)
	return err == nil && msg != nil && kind == KindToolCall
}

// writeLine writes data followed by a newline.
func (ss *StdioServer) writeLine(w io.Writer, data []byte) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, '\n')
	_, err := w.Write(buf)
	return err
}
