package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/salvadorguc/sisproone-gateway/cmd/gatewayctl/cmdutil"
	"github.com/salvadorguc/sisproone-gateway/internal/cli/prompt"
)

var (
	staleDecision string
	staleForce    bool
)

var staleCounterCmd = &cobra.Command{
	Use:   "stale-counter",
	Short: "Resolve a stale device counter detected at UPC validation",
	RunE: func(cmd *cobra.Command, args []string) error {
		if staleDecision == "reset" {
			ok, err := prompt.ConfirmWithForce("reset requires a manual device reset before production resumes, continue?", staleForce)
			if err != nil {
				return err
			}
			if !ok {
				cmdutil.PrintSuccess("aborted, no decision recorded")
				return nil
			}
		}

		req := map[string]any{"decision": staleDecision}
		var out map[string]any
		if err := cmdutil.GetClient().Post("/v1/stale-counter/decision", req, &out); err != nil {
			return err
		}
		cmdutil.PrintSuccess(fmt.Sprintf("stale counter decision recorded: %s", staleDecision))
		return nil
	},
}

func init() {
	staleCounterCmd.Flags().StringVar(&staleDecision, "decision", "", `"keep" to carry the device's existing counter forward, "reset" to require a manual device reset`)
	staleCounterCmd.Flags().BoolVar(&staleForce, "force", false, "skip confirmation for a reset decision")
	_ = staleCounterCmd.MarkFlagRequired("decision")
}
