package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/inmet-weather-etl/internal/export"
)

func newExportCmd(c *cli) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "export [YEAR...]",
		Short: "Write stations and observation partitions as Parquet files",
		Long: "Writes stations.parquet and observations_<year>.parquet into --out.\n" +
			"Without YEAR arguments every committed year is exported.",
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

			e := export.NewExporter(store, outDir, c.logger)
			path, n, err := e.Stations(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\t%d rows\n", path, n)
			for _, year := range years {
				path, rows, err := e.Year(ctx, year)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\t%d rows\n", path, rows)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "export", "directory to write Parquet files into")
	return cmd
}
