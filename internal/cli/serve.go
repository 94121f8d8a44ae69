package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gzhole/graphpower/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the MCP tools over HTTP",
	Long: `Starts the JSON-RPC endpoint. Every POST, on any path, is one MCP message;
the response is always HTTP 200 with a JSON-RPC envelope. The Authorization
header of each request is forwarded to Microsoft Graph.

Side routes:
  GET /healthz   liveness probe
  GET /metrics   Prometheus metrics (when telemetry.metrics is true)

Usage:
  graphpower serve
  graphpower serve --listen 0.0.0.0:8080`,
	RunE: serveCommand,
}

var serveListen string

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Address to listen on (default from config, 127.0.0.1:8080)")
	rootCmd.AddCommand(serveCmd)
}

func serveCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp("http")
	if err != nil {
		return err
	}
	defer a.close()

	listen := a.cfg.Listen
	if serveListen != "" {
		listen = serveListen
	}

	routes := map[string]http.Handler{
		"/healthz": http.HandlerFunc(healthz),
	}
	if a.metrics != nil {
		routes["/metrics"] = a.metrics.Handler()
	}

	srv := mcp.NewHTTPServer(mcp.HTTPServerConfig{
		ListenAddr: listen,
		Server:     a.server,
		Routes:     routes,
		Logger:     a.logger,
	})

	// Handle graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		a.logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	a.logger.Info("graphpower serving",
		zap.String("listen", listen),
		zap.String("version", Version),
		zap.Bool("metrics", a.metrics != nil))
	return srv.ListenAndServe()
}

func healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"status":"ok","version":%q}`+"\n", Version)
}
