package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/salvadorguc/sisproone-gateway/cmd/gatewayctl/cmdutil"
	"github.com/salvadorguc/sisproone-gateway/internal/cli/output"
)

// statusView mirrors pkg/controlapi's /v1/status payload.
type statusView struct {
	Phase             string `json:"phase"`
	StationID         int    `json:"stationId,omitempty"`
	OrderCode         string `json:"orderCode,omitempty"`
	ProductCode       string `json:"productCode,omitempty"`
	QuantityTarget    int    `json:"quantityTarget,omitempty"`
	QuantityPending   int    `json:"quantityPending,omitempty"`
	DeviceID          string `json:"deviceId,omitempty"`
	CounterBaseline   int32  `json:"counterBaseline,omitempty"`
	AwaitingDecision  bool   `json:"awaitingStaleDecision"`
	ErrorReason       string `json:"errorReason,omitempty"`
	PendingIncrements int    `json:"pendingIncrements"`
	Subscribers       int    `json:"eventSubscribers"`
}

func (s statusView) Headers() []string {
	return []string{"FIELD", "VALUE"}
}

func (s statusView) Rows() [][]string {
	rows := [][]string{
		{"phase", s.Phase},
		{"station", fmt.Sprintf("%d", s.StationID)},
		{"order", cmdutil.EmptyOr(s.OrderCode)},
		{"product", cmdutil.EmptyOr(s.ProductCode)},
		{"quantity", fmt.Sprintf("%d / %d", s.QuantityTarget-s.QuantityPending, s.QuantityTarget)},
		{"device", cmdutil.EmptyOr(s.DeviceID)},
		{"pending increments", fmt.Sprintf("%d", s.PendingIncrements)},
		{"event subscribers", fmt.Sprintf("%d", s.Subscribers)},
	}
	if s.AwaitingDecision {
		rows = append(rows, []string{"stale counter", "awaiting operator decision"})
	}
	if s.ErrorReason != "" {
		rows = append(rows, []string{"error", s.ErrorReason})
	}
	return rows
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the gateway's current session status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var view statusView
		if err := cmdutil.GetClient().Get("/v1/status", &view); err != nil {
			return err
		}

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
			return output.PrintTable(os.Stdout, view)
		}
	},
}
