package main

import (
	"github.com/spf13/cobra"

	"sharedstream/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := newOutput(cmd.OutOrStdout())
			out.plain("sharedstream %s", version.GetVersion())
			out.plain("%s", version.Platform())
		},
	}
}
