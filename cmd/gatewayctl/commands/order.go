package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/salvadorguc/sisproone-gateway/cmd/gatewayctl/cmdutil"
	"github.com/salvadorguc/sisproone-gateway/internal/cli/prompt"
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Order lifecycle: select, validate-upc, close, change, priority",
}

var selectOrderCode string

var orderSelectCmd = &cobra.Command{
	Use:   "select",
	Short: "Select an order assigned to the current station",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{"orderCode": selectOrderCode}
		var out map[string]any
		if err := cmdutil.GetClient().Post("/v1/orders/select", req, &out); err != nil {
			return err
		}
		cmdutil.PrintSuccess(fmt.Sprintf("order %s selected, awaiting UPC validation", selectOrderCode))
		return nil
	},
}

var validateUPC string

var orderValidateUPCCmd = &cobra.Command{
	Use:   "validate-upc",
	Short: "Validate a scanned UPC against the selected order",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{"upc": validateUPC}
		var out map[string]any
		if err := cmdutil.GetClient().Post("/v1/orders/validate-upc", req, &out); err != nil {
			return err
		}
		cmdutil.PrintSuccess("UPC validated")
		return nil
	},
}

var orderClosePIN string

var orderCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Drain and close the order currently in production",
	RunE: func(cmd *cobra.Command, args []string) error {
		pin := orderClosePIN
		if pin == "" {
			var err error
			pin, err = prompt.Password("Supervisor PIN")
			if err != nil {
				return err
			}
		}

		req := map[string]any{"pin": pin}
		var out map[string]any
		if err := cmdutil.GetClient().Post("/v1/orders/close", req, &out); err != nil {
			return err
		}
		cmdutil.PrintSuccess("draining; order will close once the buffer empties")
		return nil
	},
}

var orderChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Drain production without closing the order",
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := cmdutil.GetClient().Post("/v1/orders/change", nil, &out); err != nil {
			return err
		}
		cmdutil.PrintSuccess("draining; station will return to idle")
		return nil
	},
}

var (
	priorityOrderCode string
	priorityValue     int
)

var orderPriorityCmd = &cobra.Command{
	Use:   "priority",
	Short: "Re-rank an order's production priority at the current station",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{"orderCode": priorityOrderCode, "priority": priorityValue}
		var out map[string]any
		if err := cmdutil.GetClient().Post("/v1/orders/priority", req, &out); err != nil {
			return err
		}
		cmdutil.PrintSuccess(fmt.Sprintf("order %s priority set to %d", priorityOrderCode, priorityValue))
		return nil
	},
}

func init() {
	orderSelectCmd.Flags().StringVar(&selectOrderCode, "code", "", "Order code to select")
	_ = orderSelectCmd.MarkFlagRequired("code")

	orderValidateUPCCmd.Flags().StringVar(&validateUPC, "upc", "", "Scanned UPC")
	_ = orderValidateUPCCmd.MarkFlagRequired("upc")

	orderCloseCmd.Flags().StringVar(&orderClosePIN, "pin", "", "Supervisor PIN (prompted for if omitted)")

	orderPriorityCmd.Flags().StringVar(&priorityOrderCode, "code", "", "Order code to re-rank")
	orderPriorityCmd.Flags().IntVar(&priorityValue, "priority", 0, "New priority value")
	_ = orderPriorityCmd.MarkFlagRequired("code")

	orderCmd.AddCommand(orderSelectCmd)
	orderCmd.AddCommand(orderValidateUPCCmd)
	orderCmd.AddCommand(orderCloseCmd)
	orderCmd.AddCommand(orderChangeCmd)
	orderCmd.AddCommand(orderPriorityCmd)
}
