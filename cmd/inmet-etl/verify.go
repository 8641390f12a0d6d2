package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/inmet-weather-etl/internal/export"
)

var errVerifyFailed = errors.New("one or more partitions do not match their manifest")

func newVerifyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [YEAR...]",
		Short: "Recompute partition checksums and compare them with the latest manifests",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			years, err := parseYearArgs(args)
			if err != nil {
				return err
			}

			store, closeStore, err := c.openStore(ctx, false)
			if err != nil {
				return err
			}
			defer closeStore()

			if len(years) == 0 {
				if years, err = committedYears(ctx, store); err != nil {
					return err
				}
			}
			if len(years) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no committed years")
				return nil
			}

			failed := false
			for _, year := range years {
				v, err := export.Verify(ctx, store, year)
				if err != nil {
					if !errors.Is(err, export.ErrNoManifest) {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d\tMISSING\tno manifest\n", year)
					failed = true
					continue
				}
				if !v.OK() {
					failed = true
				}
				printVerification(cmd.OutOrStdout(), v)
			}
			if failed {
				return errVerifyFailed
			}
			return nil
		},
	}
}

func printVerification(out io.Writer, v export.Verification) {
	if v.OK() {
		fmt.Fprintf(out, "%d\tOK\trows=%d checksum=%s run=%s\n", v.Year, v.Rows, v.Actual, v.RunID)
		return
	}
	fmt.Fprintf(out, "%d\tMISMATCH\trows=%d manifest_rows=%d checksum=%s manifest_checksum=%s run=%s\n",
		v.Year, v.Rows, v.Manifest, v.Actual, v.Expected, v.RunID)
}
