package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gzhole/graphpower/internal/orchestrator"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Print the tool catalog served by tools/list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := json.MarshalIndent(orchestrator.Catalog(), "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
