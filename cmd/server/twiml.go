package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dkeye/callbridge/internal/app/bridge"
)

func newTwimlCmd() *cobra.Command {
	var opts bridge.JoinOptions

	cmd := &cobra.Command{
		Use:   "twiml <conference>",
		Short: "Print the join instructions for a conference",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), bridge.GenerateJoinInstructions(args[0], opts))
		},
	}
	cmd.Flags().BoolVar(&opts.StartOnEnter, "start-on-enter", true, "start the conference when this leg joins")
	cmd.Flags().BoolVar(&opts.EndOnExit, "end-on-exit", false, "end the conference when this leg leaves")
	cmd.Flags().StringVar(&opts.HoldMusicURL, "hold-music", "", "URL played while waiting")
	cmd.Flags().BoolVar(&opts.Record, "record", false, "record from start")
	return cmd
}
