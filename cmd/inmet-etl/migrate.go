package main

import (
	"github.com/spf13/cobra"

	"github.com/couchcryptid/inmet-weather-etl/internal/adapter/postgres"
)

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the warehouse schema in DATABASE_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.DatabaseURL == "" {
				return withCode(exitUsage, errNoDatabase)
			}
			pg, err := postgres.Open(cmd.Context(), c.cfg.DatabaseURL, c.logger)
			if err != nil {
				return err
			}
			defer pg.Close()
			return pg.Migrate(cmd.Context())
		},
	}
}
