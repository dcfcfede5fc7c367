package cli

import (
	"context"
	"fmt"

	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/config"
	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/workflow"
	"github.com/spf13/cobra"
)

var connect bool

var checkCommand = &cobra.Command{
	Use:     "check",
	Short:   "Validate the CPI configuration",
	GroupID: "cpi",
	Long: `Loads and validates the CPI configuration file, reporting every missing parameter.
With --connect it also authenticates against the provider.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(headerStyle.Render("Rackspace CPI - Configuration Check"))

		opts, err := config.Load(configPath)
		if err != nil {
			fmt.Println(failStyle.Render("Configuration " + configPath + " is invalid"))
			return err
		}
		fmt.Println(okStyle.Render("Configuration " + configPath + " is valid"))

		if !connect {
			return nil
		}

		logger := workflow.SetupLogger(logLevel).With("component", "check")
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if _, err := workflow.Connect(ctx, opts, logger); err != nil {
			fmt.Println(failStyle.Render("Provider authentication failed"))
			return err
		}
		fmt.Println(okStyle.Render("Provider authentication succeeded"))
		return nil
	},
}

func init() {
	checkCommand.Flags().BoolVar(&connect, "connect", false, "Also authenticate against the provider")
	rootCommand.AddCommand(checkCommand)
}
