package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/salvadorguc/sisproone-gateway/cmd/gatewayctl/cmdutil"
	"github.com/salvadorguc/sisproone-gateway/internal/cli/health"
	"github.com/salvadorguc/sisproone-gateway/internal/cli/output"
	"github.com/salvadorguc/sisproone-gateway/internal/cli/timeutil"
)

var healthReady bool

type healthView health.Response

func (h healthView) Headers() []string {
	return []string{"FIELD", "VALUE"}
}

func (h healthView) Rows() [][]string {
	rows := [][]string{
		{"status", h.Status},
		{"service", h.Data.Service},
		{"started", timeutil.FormatTime(h.Data.StartedAt)},
		{"uptime", timeutil.FormatUptime(h.Data.Uptime)},
	}
	if h.Error != "" {
		rows = append(rows, []string{"error", h.Error})
	}
	return rows
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the gateway's liveness or readiness",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/health"
		if healthReady {
			path = "/health/ready"
		}

		// Get decodes only the envelope's data object and returns an error
		// for any non-2xx reply, so reaching this point means the gateway
		// answered with a healthy status.
		var view healthView
		if err := cmdutil.GetClient().Get(path, &view.Data); err != nil {
			return err
		}
		view.Status = "healthy"

		format, err := cmdutil.GetOutputFormatParsed()
		if err != nil {
			return err
		}
		switch format {
		case output.FormatJSON:
			return output.PrintJSON(os.Stdout, view)
		case output.FormatYAML:
			return output.PrintYAML(os.Stdout, view)
		default:
			if err := output.PrintTable(os.Stdout, view); err != nil {
				return err
			}
			if view.Status != "healthy" {
				return fmt.Errorf("gateway is %s", view.Status)
			}
			return nil
		}
	},
}

func init() {
	healthCmd.Flags().BoolVar(&healthReady, "ready", false, "check readiness instead of liveness")
}
