package cli

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gzhole/graphpower/internal/mcp"
	"github.com/gzhole/graphpower/internal/orchestrator"
)

var discoverCmd = &cobra.Command{
	Use:   "discover <query>",
	Short: "Search Microsoft Learn for Graph operations through discover_graph",
	Long: `Runs discover_graph once and prints candidate endpoints with the
permissions they are likely to need. No Graph token is required.

Usage:
  graphpower discover "list my unread email"
  graphpower discover "create a channel" --category teams`,
	Args: cobra.MinimumNArgs(1),
	RunE: discoverCommand,
}

var discoverCategory string

func init() {
	discoverCmd.Flags().StringVar(&discoverCategory, "category", "", "Narrow the search (e.g. mail, calendar, files, teams, users)")
	rootCmd.AddCommand(discoverCmd)
}

func discoverCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp("cli")
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	arguments := map[string]interface{}{"query": strings.Join(args, " ")}
	if discoverCategory != "" {
		arguments["category"] = discoverCategory
	}
	result := a.orch.Call(ctx, mcp.ToolCall{
		Name:      orchestrator.ToolDiscoverGraph,
		Arguments: arguments,
	})
	return printResult(cmd, result)
}
