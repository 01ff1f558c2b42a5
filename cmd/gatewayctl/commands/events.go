package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/salvadorguc/sisproone-gateway/cmd/gatewayctl/cmdutil"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Event stream",
}

var eventsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream gateway events as they're published, until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmdutil.GetClient().StreamEvents("/v1/events", func(kind string, data []byte) {
			printEvent(kind, data)
		})
	},
}

func init() {
	eventsCmd.AddCommand(eventsWatchCmd)
}

func printEvent(kind string, data []byte) {
	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		format = "table"
	}

	if format != "table" {
		fmt.Fprintf(os.Stdout, "%s\n", data)
		return
	}

	var payload struct {
		At      time.Time      `json:"At"`
		Payload map[string]any `json:"Payload"`
	}
	_ = json.Unmarshal(data, &payload)
	fmt.Fprintf(os.Stdout, "[%s] %-22s %v\n", payload.At.Format(time.RFC3339), kind, payload.Payload)
}
