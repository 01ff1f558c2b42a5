// Package cmdutil provides shared utilities for gatewayctl commands.
package cmdutil

import (
	"fmt"
	"io"
	"os"

	"github.com/salvadorguc/sisproone-gateway/cmd/gatewayctl/client"
	"github.com/salvadorguc/sisproone-gateway/internal/cli/output"
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	Server  string
	Token   string
	Output  string
	NoColor bool
}

// defaultServer is used when --server is not set.
const defaultServer = "http://localhost:8090"

// GetClient builds a control API client from the current flags.
func GetClient() *client.Client {
	server := Flags.Server
	if server == "" {
		server = defaultServer
	}
	return client.New(server, Flags.Token)
}

// GetOutputFormatParsed returns the parsed output format.
func GetOutputFormatParsed() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// PrintOutput prints data in the configured format: JSON/YAML marshal data
// directly, table format uses tableRenderer (falling back to emptyMsg when
// isEmpty is true).
func PrintOutput(w io.Writer, data any, isEmpty bool, emptyMsg string, tableRenderer output.TableRenderer) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		if isEmpty {
			_, _ = fmt.Fprintln(w, emptyMsg)
			return nil
		}
		return output.PrintTable(w, tableRenderer)
	}
}

// EmptyOr returns value, or "-" if value is empty, for table display.
func EmptyOr(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

// PrintSuccess prints a success message, only in table format.
func PrintSuccess(msg string) {
	format, err := GetOutputFormatParsed()
	if err != nil || format != output.FormatTable {
		return
	}
	output.NewPrinter(os.Stdout, format, !Flags.NoColor).Success(msg)
}
