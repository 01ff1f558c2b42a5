package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/salvadorguc/sisproone-gateway/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample gateway configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/sisproone-gateway/config.yaml. Use --config to specify a
custom path.

Examples:
  # Initialize with default location
  gateway init

  # Initialize with custom path
  gateway init --config /etc/sisproone-gateway/config.yaml

  # Force overwrite existing config
  gateway init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Fill in mes.*, rs485.port and station.id")
	fmt.Println("  2. Start the gateway with: gateway start --foreground")
	fmt.Printf("  3. Or specify a custom config: gateway start --config %s\n", configPath)

	return nil
}
