package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/inmet-weather-etl/internal/domain"
	"github.com/couchcryptid/inmet-weather-etl/internal/observability"
)

// Collector fetches one year's archive.
type Collector interface {
	SupportedYears() domain.YearRange
	Collect(ctx context.Context, year int) (domain.Archive, error)
}

// Store is the write side of the warehouse used by a run.
type Store interface {
	Ping(ctx context.Context) error
	Stations(ctx context.Context) ([]domain.StationRecord, error)
	BeginPartition(ctx context.Context, year int) (domain.PartitionTx, error)
}

// ManifestPublisher announces committed runs. Publishing is best effort: the
// partition is already committed when it is called.
type ManifestPublisher interface {
	PublishManifest(ctx context.Context, m domain.RunManifest) error
}

// Status is the outcome of one year's run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// RunResult reports one requested year. Manifest is set only on success.
type RunResult struct {
	Year     int
	Status   Status
	Err      error
	Accepted int64
	Rejected int64
	Elapsed  time.Duration
	Manifest *domain.RunManifest
}

// Options tunes a Coordinator. Zero values select defaults.
type Options struct {
	// Workers bounds how many station files are decoded at once, and how
	// many decoded files may wait for validation.
	Workers int
	// BatchSize is the number of accepted observations per partition append.
	BatchSize int
	// MaxRejects caps the reject records kept in a manifest. Negative keeps all.
	MaxRejects int
	// Publisher is notified after each committed run. Optional.
	Publisher ManifestPublisher
}

const (
	defaultWorkers   = 4
	defaultBatchSize = 5000
)

// Coordinator runs requested years through collect, normalize, validate and
// load. Years run one after another; a failed year does not stop the rest.
type Coordinator struct {
	collector Collector
	store     Store
	logger    *slog.Logger
	metrics   *observability.Metrics
	opts      Options
	locks     yearLocks
	ready     atomic.Bool
}

// New creates a Coordinator.
func New(collector Collector, store Store, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Coordinator {
	if opts.Workers < 1 {
		opts.Workers = defaultWorkers
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = defaultBatchSize
	}
	return &Coordinator{
		collector: collector,
		store:     store,
		logger:    logger,
		metrics:   metrics,
		opts:      opts,
		locks:     yearLocks{held: make(map[int]struct{})},
	}
}

// ListYears returns the collectable years. It has no side effects.
func (c *Coordinator) ListYears() []int {
	return c.collector.SupportedYears().Years()
}

// CheckReadiness reports whether the store is reachable. The first success
// after a failure is logged.
func (c *Coordinator) CheckReadiness(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		c.ready.Store(false)
		return fmt.Errorf("store unreachable: %w", err)
	}
	if !c.ready.Swap(true) {
		c.logger.Info("store reachable")
	}
	return nil
}

// Run processes years in the given order, dropping repeats. Once ctx is
// cancelled the current year rolls back and every remaining year is
// reported cancelled.
func (c *Coordinator) Run(ctx context.Context, years []int) []RunResult {
	c.metrics.PipelineRunning.Set(1)
	defer c.metrics.PipelineRunning.Set(0)

	years = dedupeYears(years)
	c.logger.Info("run started", "years", years, "workers", c.opts.Workers)

	results := make([]RunResult, 0, len(years))
	for _, year := range years {
		if err := ctx.Err(); err != nil {
			results = append(results, RunResult{Year: year, Status: StatusCancelled, Err: err})
			c.metrics.Runs.WithLabelValues(string(StatusCancelled)).Inc()
			continue
		}
		results = append(results, c.RunYear(ctx, year))
	}
	return results
}

// RunYear replaces one year's partition. It is safe to call concurrently;
// a second call for a year already in progress gets ErrRunInProgress.
func (c *Coordinator) RunYear(ctx context.Context, year int) RunResult {
	start := domain.Now()
	res := RunResult{Year: year}

	manifest, err := c.runYear(ctx, year, start)
	res.Elapsed = domain.Now().Sub(start)
	switch {
	case err == nil:
		res.Status = StatusSucceeded
		res.Accepted, res.Rejected = manifest.Accepted, manifest.Rejected
		res.Manifest = manifest
		c.metrics.YearDuration.Observe(res.Elapsed.Seconds())
		c.logger.Info("year committed", "year", year,
			"accepted", manifest.Accepted, "rejected", manifest.Rejected,
			"checksum", manifest.Checksum, "elapsed", res.Elapsed)
	case ctx.Err() != nil && !errors.Is(err, domain.ErrRunInProgress):
		res.Status = StatusCancelled
		res.Err = err
		c.logger.Warn("year cancelled", "year", year, "error", err)
	default:
		res.Status = StatusFailed
		res.Err = err
		c.logger.Error("year failed", "year", year, "error", err)
	}
	c.metrics.Runs.WithLabelValues(string(res.Status)).Inc()
	return res
}

func (c *Coordinator) runYear(ctx context.Context, year int, start time.Time) (*domain.RunManifest, error) {
	unlock, ok := c.locks.tryLock(year)
	if !ok {
		return nil, fmt.Errorf("year %d: %w", year, domain.ErrRunInProgress)
	}
	defer unlock()

	archive, err := c.collector.Collect(ctx, year)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := archive.Close(); err != nil {
			c.logger.Warn("close archive", "year", year, "error", err)
		}
	}()

	known, err := c.store.Stations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stations: %w", err)
	}
	registry := domain.NewStationRegistry(known)

	tx, err := c.store.BeginPartition(ctx, year)
	if err != nil {
		if errors.Is(err, domain.ErrRunInProgress) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrPartitionWriteFailed, err)
	}
	defer func() {
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("rollback partition", "year", year, "error", err)
		}
	}()

	run := &yearRun{
		year:      year,
		registry:  registry,
		validator: domain.NewValidator(year, registry),
		tx:        tx,
		acc:       newRunAccumulator(uuid.NewString(), year, start, c.opts.MaxRejects, c.opts.BatchSize),
	}
	entries := archive.Entries()
	run.acc.manifest.SourceFiles = len(entries)

	if err := c.loadEntries(ctx, run, entries); err != nil {
		return nil, err
	}
	if err := run.flush(ctx, c.metrics); err != nil {
		return nil, c.writeFailure(ctx, err)
	}

	manifest := run.acc.finish(domain.Now())
	if err := tx.Commit(ctx, registry.Changed(), manifest); err != nil {
		return nil, c.writeFailure(ctx, err)
	}
	c.publish(ctx, manifest)
	return &manifest, nil
}

// writeFailure wraps a store error unless the run was cancelled.
func (c *Coordinator) writeFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrPartitionWriteFailed, err)
}

func (c *Coordinator) publish(ctx context.Context, m domain.RunManifest) {
	if c.opts.Publisher == nil {
		return
	}
	if err := c.opts.Publisher.PublishManifest(ctx, m); err != nil {
		c.metrics.ManifestsPublished.WithLabelValues("error").Inc()
		c.logger.Warn("publish manifest failed", "year", m.Year, "run_id", m.RunID, "error", err)
		return
	}
	c.metrics.ManifestsPublished.WithLabelValues("success").Inc()
}

// yearRun is the state threaded through one year's load.
type yearRun struct {
	year      int
	registry  *domain.StationRegistry
	validator *domain.Validator
	tx        domain.PartitionTx
	acc       *runAccumulator
}

// flush appends the pending batch to the partition.
func (r *yearRun) flush(ctx context.Context, metrics *observability.Metrics) error {
	batch := r.acc.takeBatch()
	if len(batch) == 0 {
		return nil
	}
	if err := r.tx.Append(ctx, batch); err != nil {
		return fmt.Errorf("append %d observations: %w", len(batch), err)
	}
	metrics.CommitBatch.Observe(float64(len(batch)))
	return nil
}

// yearLocks serializes runs of the same year within the process.
type yearLocks struct {
	mu   sync.Mutex
	held map[int]struct{}
}

func (l *yearLocks) tryLock(year int) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[year]; busy {
		return nil, false
	}
	l.held[year] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.held, year)
		l.mu.Unlock()
	}, true
}

func dedupeYears(years []int) []int {
	seen := make(map[int]struct{}, len(years))
	out := make([]int, 0, len(years))
	for _, y := range years {
		if _, dup := seen[y]; dup {
			continue
		}
		seen[y] = struct{}{}
		out = append(out, y)
	}
	return slices.Clip(out)
}
