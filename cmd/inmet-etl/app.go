package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/couchcryptid/inmet-weather-etl/internal/adapter/inmet"
	"github.com/couchcryptid/inmet-weather-etl/internal/adapter/memory"
	"github.com/couchcryptid/inmet-weather-etl/internal/adapter/postgres"
	"github.com/couchcryptid/inmet-weather-etl/internal/domain"
	"github.com/couchcryptid/inmet-weather-etl/internal/observability"
)

// warehouse is everything the commands need from a store.
type warehouse interface {
	Ping(ctx context.Context) error
	Stations(ctx context.Context) ([]domain.StationRecord, error)
	BeginPartition(ctx context.Context, year int) (domain.PartitionTx, error)
	ScanPartition(ctx context.Context, year int, fn func(domain.Observation) error) error
	Manifests(ctx context.Context, year int) ([]domain.RunManifest, error)
}

// processMetrics registers the pipeline metrics once per process.
var processMetrics = sync.OnceValue(observability.NewMetrics)

var errNoDatabase = errors.New("DATABASE_URL is not set")

// openStore returns the Postgres store when DATABASE_URL is set and the
// in-memory store otherwise. The schema is migrated when migrate is true.
func (c *cli) openStore(ctx context.Context, migrate bool) (warehouse, func(), error) {
	if c.cfg.DatabaseURL == "" {
		c.logger.Warn("DATABASE_URL not set, using the in-memory store; nothing is kept after exit")
		return memory.New(), func() {}, nil
	}
	pg, err := postgres.Open(ctx, c.cfg.DatabaseURL, c.logger)
	if err != nil {
		return nil, nil, err
	}
	if migrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
	}
	return pg, pg.Close, nil
}

func (c *cli) newCollector(metrics *observability.Metrics) *inmet.Collector {
	retry := inmet.RetryPolicy{
		MaxAttempts:     c.cfg.RetryMaxAttempts,
		InitialInterval: c.cfg.RetryInitialInterval,
		MaxInterval:     c.cfg.RetryMaxInterval,
	}
	var src inmet.Source
	if c.cfg.ArchiveDir != "" {
		src = inmet.NewDirSource(c.cfg.ArchiveDir)
		c.logger.Info("reading archives from directory", "dir", c.cfg.ArchiveDir)
	} else {
		src = inmet.NewHTTPSource(c.cfg.ArchiveBaseURL, c.cfg.CollectTimeout, c.cfg.WorkDir, retry.BreakerThreshold(), metrics)
	}
	return inmet.NewCollector(src, c.cfg.ArchiveFirstYear, retry, c.logger, metrics)
}

// committedYears returns the years with at least one manifest, ascending.
func committedYears(ctx context.Context, store warehouse) ([]int, error) {
	manifests, err := store.Manifests(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	seen := make(map[int]bool)
	var years []int
	for _, m := range manifests {
		if !seen[m.Year] {
			seen[m.Year] = true
			years = append(years, m.Year)
		}
	}
	slices.Sort(years)
	return years, nil
}

// parseYearArgs parses YEAR arguments, rejecting anything that is not an
// integer. Repeats are dropped.
func parseYearArgs(args []string) ([]int, error) {
	years, invalid := domain.ParseYears(args)
	if len(invalid) > 0 {
		return nil, withCode(exitUsage, fmt.Errorf("invalid year %s", strings.Join(invalid, ", ")))
	}
	return years, nil
}
