package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sharedstream/internal/transport"
)

func newProtocolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "protocols",
		Short: "List transport protocols compiled into this binary",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := newOutput(cmd.OutOrStdout())
			table := out.table("NAME", "PRIORITY")
			for _, p := range transport.GetRegisteredProtocols() {
				table.addRow(p.Name, fmt.Sprintf("%d", p.Priority))
			}
			table.render()
		},
	}
}
