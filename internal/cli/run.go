package cli

import (
	"context"
	"os"
	"time"

	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/config"
	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/workflow"
	"github.com/spf13/cobra"
)

var runCommand = &cobra.Command{
	Use:     "run",
	Short:   "Serve one CPI request",
	GroupID: "cpi",
	Long: `Reads a single CPI request ({"method", "arguments", "context"}) from stdin, runs it
against the provider and writes the response ({"result", "error", "log"}) to stdout.
Operation failures are reported in the response; the exit status is non-zero only when
the response itself cannot be written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := workflow.SetupLogger(logLevel).With("component", "cpi")

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
			defer cancel()
			logger.Debug("Global execution timeout configured", "timeout_seconds", timeout)
		}

		dispatcher := workflow.Dispatcher{
			Logger: logger,
			Connect: func(ctx context.Context) (*workflow.Cloud, error) {
				opts, err := config.Load(configPath)
				if err != nil {
					return nil, err
				}
				return workflow.Connect(ctx, opts, logger)
			},
		}

		return dispatcher.Serve(ctx, os.Stdin, cmd.OutOrStdout())
	},
}

func init() {
	rootCommand.AddCommand(runCommand)
}
