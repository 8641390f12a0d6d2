package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/couchcryptid/inmet-weather-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/inmet-weather-etl/internal/adapter/kafka"
	"github.com/couchcryptid/inmet-weather-etl/internal/domain"
	"github.com/couchcryptid/inmet-weather-etl/internal/pipeline"
)

var errYearsFailed = errors.New("one or more years did not complete")

func newRunCmd(c *cli) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "run YEAR...",
		Short: "Collect, validate and load the given years, replacing their partitions",
		Long: "Each year is processed in the order given and replaces that year's partition\n" +
			"atomically. A failed year leaves its previous partition untouched and does\n" +
			"not stop the remaining years. \"run list\" or \"run --list\" prints the\n" +
			"collectable years instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if list || (len(args) == 1 && args[0] == "list") {
				return c.printYears(cmd.OutOrStdout())
			}
			if len(args) == 0 {
				return withCode(exitUsage, errors.New("at least one YEAR is required"))
			}
			years, err := parseYearArgs(args)
			if err != nil {
				return err
			}
			return c.run(cmd.Context(), cmd.OutOrStdout(), years)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "print the collectable years and exit")
	return cmd
}

func (c *cli) run(ctx context.Context, out io.Writer, years []int) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := processMetrics()
	store, closeStore, err := c.openStore(ctx, true)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := pipeline.Options{
		Workers:    c.cfg.Workers,
		BatchSize:  c.cfg.CopyBatchSize,
		MaxRejects: c.cfg.ManifestMaxRejects,
	}
	if len(c.cfg.KafkaBrokers) > 0 {
		pub := kafkaadapter.NewPublisher(c.cfg, c.logger)
		defer func() {
			if err := pub.Close(); err != nil {
				c.logger.Error("kafka publisher close error", "error", err)
			}
		}()
		opts.Publisher = pub
		c.logger.Info("manifest notifications enabled", "topic", c.cfg.KafkaManifestTopic)
	}

	coord := pipeline.New(c.newCollector(metrics), store, c.logger, metrics, opts)

	if c.cfg.HTTPAddr != "" {
		srv := httpadapter.NewServer(c.cfg.HTTPAddr, coord, store, c.logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				c.logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	results := coord.Run(ctx, years)
	if err := printResults(out, results); err != nil {
		return err
	}
	for _, r := range results {
		if r.Status != pipeline.StatusSucceeded {
			return errYearsFailed
		}
	}
	return nil
}

// printResults writes one status line per year and a summary.
func printResults(out io.Writer, results []pipeline.RunResult) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	var accepted, rejected int64
	counts := make(map[pipeline.Status]int)
	for _, r := range results {
		counts[r.Status]++
		accepted += r.Accepted
		rejected += r.Rejected
		switch r.Status {
		case pipeline.StatusSucceeded:
			fmt.Fprintf(tw, "%d\t%s\taccepted=%d\trejected=%d\telapsed=%s\t%s\n",
				r.Year, r.Status, r.Accepted, r.Rejected, r.Elapsed.Round(time.Millisecond), reasonSummary(r.Manifest))
		default:
			fmt.Fprintf(tw, "%d\t%s\t%v\t\t\t\n", r.Year, r.Status, r.Err)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "years=%d succeeded=%d failed=%d cancelled=%d accepted=%d rejected=%d\n",
		len(results), counts[pipeline.StatusSucceeded], counts[pipeline.StatusFailed], counts[pipeline.StatusCancelled],
		accepted, rejected)
	return err
}

// reasonSummary renders the manifest's reject counts in rule order.
func reasonSummary(m *domain.RunManifest) string {
	if m == nil {
		return ""
	}
	parts := make([]string, 0, len(m.ByReason))
	for _, reason := range m.SortedReasons() {
		parts = append(parts, fmt.Sprintf("%s=%d", reason, m.ByReason[reason]))
	}
	return strings.Join(parts, ",")
}
