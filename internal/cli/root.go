package cli

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	logFile    string
	verbose    bool
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "graphpower",
	Short: "graphpower - MCP server for Microsoft Graph",
	Long: `graphpower is an MCP server that lets AI agents find and call Microsoft
Graph REST operations. It exposes three tools: discover_graph searches the
Microsoft Learn documentation for candidate endpoints, invoke_graph calls one
endpoint, and batch_invoke_graph sends up to 20 calls in one $batch request.

The caller's bearer token is forwarded to Graph unchanged.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML file (default: ~/.graphpower/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write process logs to this file instead of stderr")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging in console format")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only log warnings and errors")
}

func Execute() error {
	return rootCmd.Execute()
}
