package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the collectable years, one per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.printYears(cmd.OutOrStdout())
		},
	}
}

func (c *cli) printYears(out io.Writer) error {
	for _, y := range c.newCollector(processMetrics()).SupportedYears().Years() {
		if _, err := fmt.Fprintln(out, y); err != nil {
			return err
		}
	}
	return nil
}
