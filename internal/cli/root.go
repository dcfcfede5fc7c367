package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configPath, logLevel string
	timeout              int
)

var rootCommand = &cobra.Command{
	Use:     "rackspace-cpi",
	Aliases: []string{"cpi"},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 1. Allow 'version' (and 'help') to run without a config file
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		// 2. Every other command needs the CPI configuration
		if configPath == "" {
			configPath = viper.GetString("config")
		}
		if configPath == "" {
			return fmt.Errorf("required flag(s) \"config\" not set")
		}

		return nil
	},
	Short: "Rackspace CPI: BOSH Cloud Provider Interface for Rackspace Cloud",
	Long: `Rackspace CPI manages servers, volumes, volume snapshots and stemcells on
Rackspace Cloud (and other OpenStack-compatible clouds) on behalf of a BOSH director.
The director invokes it once per operation, passing a JSON request on stdin and reading
the JSON response from stdout.`,
}

func Execute() error {
	return rootCommand.Execute()
}

func init() {
	rootCommand.AddGroup(&cobra.Group{ID: "cpi", Title: "CPI"})

	// Global persistent flags with env vars support
	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Path to the CPI configuration file, JSON or YAML (required)")
	rootCommand.PersistentFlags().IntVar(&timeout, "timeout", 0, "Global execution timeout in seconds (0 = run indefinitely)")
	rootCommand.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")

	// Bind to env vars
	_ = viper.BindPFlag("config", rootCommand.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("timeout", rootCommand.PersistentFlags().Lookup("timeout"))
	_ = viper.BindPFlag("log-level", rootCommand.PersistentFlags().Lookup("log-level"))

	viper.SetEnvPrefix("CPI")
	viper.AutomaticEnv()
}
