package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gzhole/graphpower/internal/credential"
	"github.com/gzhole/graphpower/internal/mcp"
)

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Serve the MCP tools over stdin/stdout",
	Long: `Reads newline-delimited JSON-RPC messages from stdin and writes responses to
stdout, for MCP clients that launch servers as subprocesses. Logs go to stderr
or --log-file, never stdout.

There is no Authorization header on stdio, so Graph tokens come from, in order:
--token, the GRAPH_TOKEN environment variable, then the Azure credential
chain (environment, managed identity, az login).

Usage in an MCP client config:
  "command": "graphpower", "args": ["stdio"]`,
	RunE: stdioCommand,
}

var stdioToken string

func init() {
	stdioCmd.Flags().StringVar(&stdioToken, "token", "", "Graph access token (default: GRAPH_TOKEN or Azure credential)")
	rootCmd.AddCommand(stdioCmd)
}

func stdioCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp("stdio")
	if err != nil {
		return err
	}
	defer a.close()

	// stdin carries the protocol, so the resolver must never prompt.
	resolver := credential.NewResolver(credential.Config{
		Token:  stdioToken,
		Azure:  azureCredential(a.logger),
		Clock:  a.clock,
		Logger: a.logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.logger.Info("graphpower serving on stdio", zap.String("version", Version))
	return mcp.NewStdioServer(mcp.StdioConfig{
		Server: a.server,
		Auth:   resolver,
		Logger: a.logger,
	}).Serve(ctx, os.Stdin, cmd.OutOrStdout())
}
