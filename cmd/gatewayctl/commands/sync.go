package commands

import (
	"github.com/spf13/cobra"

	"github.com/salvadorguc/sisproone-gateway/cmd/gatewayctl/cmdutil"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replicator control",
}

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Trigger an immediate replication pass instead of waiting for the next tick",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := cmdutil.GetClient().Post("/v1/sync/now", nil, &out); err != nil {
			return err
		}
		cmdutil.PrintSuccess("sync triggered")
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncNowCmd)
}
