package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	CPIVersion, CPICommit, CPIDate string
)

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Display version, commit hash and build date",
	Run: func(cmd *cobra.Command, args []string) {
		banner := fmt.Sprintf("Rackspace CPI\n\nVersion: %s\nCommit: %s\nBuilt: %s", CPIVersion, CPICommit, CPIDate)
		fmt.Println(headerStyle.Render(banner))
	},
}

func init() {
	rootCommand.AddCommand(versionCommand)
}
