package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/G-Research/eventbench/internal/common/build"
	"github.com/G-Research/eventbench/internal/common/util"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := util.NewTabbedStringBuilder(1, 1, 1, ' ', 0)
			w.Writef("Version:\t%s\n", build.ReleaseVersion)
			w.Writef("Commit:\t%s\n", build.GitCommit)
			w.Writef("Go version:\t%s\n", build.GoVersion)
			w.Writef("Built:\t%s\n", build.BuildTime)
			_, err := fmt.Fprint(cmd.OutOrStdout(), w.String())
			return err
		},
	}
}
