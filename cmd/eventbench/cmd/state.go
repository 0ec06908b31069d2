package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/G-Research/eventbench/internal/bench/testrun"
	"github.com/G-Research/eventbench/internal/common/util"
)

func stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Check a test run state transition, or list all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			if from == "" && to == "" {
				fmt.Fprint(cmd.OutOrStdout(), transitionTable())
				return nil
			}
			current, err := testrun.ParseTestRunState(from)
			if err != nil {
				return err
			}
			requested, err := testrun.ParseTestRunState(to)
			if err != nil {
				return err
			}
			next, err := current.Transition(requested)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), next)
			return nil
		},
	}
	cmd.Flags().String("from", "", "Current state of the run")
	cmd.Flags().String("to", "", "Requested state of the run")
	return cmd
}

func transitionTable() string {
	w := util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
	w.Row("STATE", "NEXT")
	for _, state := range testrun.States() {
		next := state.Next()
		names := make([]string, len(next))
		for i, n := range next {
			names[i] = n.String()
		}
		w.Row(state.String(), strings.Join(names, ", "))
	}
	return w.String()
}
