// Package inmet collects INMET yearly archives and exposes their per-station
// files to the pipeline.
package inmet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/couchcryptid/inmet-weather-etl/internal/domain"
	"github.com/couchcryptid/inmet-weather-etl/internal/observability"
)

// RetryPolicy bounds fetch retries. Zero intervals retry immediately, which
// tests rely on.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// BreakerThreshold is the consecutive failure count at which a source circuit
// should open. It spans two full retry budgets so one failing year cannot cut
// short the attempts of the next.
func (p RetryPolicy) BreakerThreshold() int {
	return 2 * max(p.MaxAttempts, 1)
}

// Collector fetches yearly archives through a Source with retries.
type Collector struct {
	source    Source
	firstYear int
	retry     RetryPolicy
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewCollector creates a Collector for archives from firstYear onwards.
func NewCollector(source Source, firstYear int, retry RetryPolicy, logger *slog.Logger, metrics *observability.Metrics) *Collector {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Collector{
		source:    source,
		firstYear: firstYear,
		retry:     retry,
		logger:    logger,
		metrics:   metrics,
	}
}

// SupportedYears returns the collectable range according to the clock.
func (c *Collector) SupportedYears() domain.YearRange {
	return domain.SupportedYears(c.firstYear)
}

// Collect fetches and opens the archive for year. Unsupported years fail
// before any I/O. Source failures are retried with jittered exponential
// backoff; once attempts are exhausted the ErrSourceUnavailable is returned.
// An archive whose directory cannot be read is ErrCorruptArchive.
func (c *Collector) Collect(ctx context.Context, year int) (domain.Archive, error) {
	if err := c.SupportedYears().Check(year); err != nil {
		return nil, err
	}

	local, err := c.fetchWithRetry(ctx, year)
	if err != nil {
		return nil, err
	}

	archive, err := openArchive(year, local)
	if err != nil {
		return nil, err
	}
	c.logger.Info("archive collected", "year", year, "files", archive.Len(), "path", local.Path)
	return archive, nil
}

func (c *Collector) fetchWithRetry(ctx context.Context, year int) (LocalArchive, error) {
	var local LocalArchive
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		l, err := c.source.Fetch(ctx, year)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		local = l
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.metrics.CollectRetries.Inc()
		c.logger.Warn("archive fetch failed, retrying", "year", year, "error", err, "wait", wait)
	}

	if err := backoff.RetryNotify(op, c.backOff(ctx), notify); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return LocalArchive{}, err
		}
		if !errors.Is(err, domain.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
		}
		return LocalArchive{}, fmt.Errorf("collect %d after %d attempts: %w", year, c.retry.MaxAttempts, err)
	}
	return local, nil
}

func (c *Collector) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.retry.InitialInterval
	exp.MaxInterval = c.retry.MaxInterval
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.5
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.retry.MaxAttempts-1)), ctx)
}
