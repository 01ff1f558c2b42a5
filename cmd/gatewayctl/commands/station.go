package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/salvadorguc/sisproone-gateway/cmd/gatewayctl/cmdutil"
)

var stationCmd = &cobra.Command{
	Use:   "station",
	Short: "Station selection",
}

var (
	selectStationID int
	selectDeviceID  string
)

var stationSelectCmd = &cobra.Command{
	Use:   "select",
	Short: "Select the work station and bound RS-485 device for this run",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{"stationId": selectStationID, "deviceId": selectDeviceID}
		var out map[string]any
		if err := cmdutil.GetClient().Post("/v1/stations/select", req, &out); err != nil {
			return err
		}
		cmdutil.PrintSuccess(fmt.Sprintf("station %d selected (device %s)", selectStationID, selectDeviceID))
		return nil
	},
}

func init() {
	stationSelectCmd.Flags().IntVar(&selectStationID, "id", 0, "MES station ID")
	stationSelectCmd.Flags().StringVar(&selectDeviceID, "device", "", "RS-485 device ID bound to this station")
	_ = stationSelectCmd.MarkFlagRequired("id")
	_ = stationSelectCmd.MarkFlagRequired("device")

	stationCmd.AddCommand(stationSelectCmd)
}
