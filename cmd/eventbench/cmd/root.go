package cmd

import (
	"github.com/spf13/cobra"
)

const CustomConfigLocation = "config"

// RootCmd is the root Cobra command that gets called from the main func.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "eventbench",
		SilenceUsage: true,
		Short:        "eventbench drives distributed benchmarks from a shared event queue.",
	}

	cmd.AddCommand(
		driverCmd(),
		stateCmd(),
		versionCmd(),
	)

	return cmd
}
