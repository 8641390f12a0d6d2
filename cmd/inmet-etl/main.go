// Command inmet-etl ingests INMET yearly weather archives into the
// warehouse and exports or verifies what was loaded.
//
// Usage:
//
//	inmet-etl run 2022 2023
//	inmet-etl run --list
//	inmet-etl verify 2023
//	inmet-etl export --out ./export 2023
//	inmet-etl migrate
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/inmet-weather-etl/internal/config"
	"github.com/couchcryptid/inmet-weather-etl/internal/observability"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// exitError carries the process exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		return exitFailure
	}
	return exitOK
}

// cli is the state shared by every subcommand once configuration is loaded.
type cli struct {
	envFile string
	cfg     *config.Config
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "inmet-etl",
		Short:         "Ingest INMET historical weather archives",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(c.envFile); err != nil {
				return withCode(exitUsage, err)
			}
			cfg, err := config.Load()
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("config: %w", err))
			}
			c.cfg = cfg
			c.logger = observability.NewLogger(cfg)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "file of environment variables to load before reading configuration")

	root.AddCommand(
		newRunCmd(c),
		newListCmd(c),
		newExportCmd(c),
		newVerifyCmd(c),
		newMigrateCmd(c),
	)
	return root
}
