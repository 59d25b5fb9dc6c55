package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/endorses/pktmunch/internal/pkg/output"
	"github.com/endorses/pktmunch/internal/pkg/version"
)

func newVersionCommand() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				return output.WriteJSON(cmd.OutOrStdout(), version.Get(), output.IsTTY())
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "pktmunch %s\n", version.GetFullVersion())
			return err
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}
