package pipeline

import (
	"context"
	"errors"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/inmet-weather-etl/internal/domain"
)

// decodedFile is a station file after extraction and normalization. Exactly
// one of raw.Err, err and file describes the outcome.
type decodedFile struct {
	raw  domain.RawFile
	file *domain.NormalizedFile
	rows []domain.NormalizedRow
	err  error
}

// decodeEntry extracts and normalizes one archive entry. Entries that cannot
// be extracted or hold no column header are carried in raw.Err. It runs on
// the worker pool, so it must not touch per-year state.
func decodeEntry(entry domain.ArchiveEntry) decodedFile {
	raw := entry.Read()
	if raw.Err != nil {
		return decodedFile{raw: raw}
	}
	nf, err := domain.Normalize(raw)
	switch {
	case errors.Is(err, domain.ErrCorruptArchive):
		return decodedFile{raw: domain.RawFile{Name: raw.Name, Err: err}}
	case err != nil:
		return decodedFile{raw: domain.RawFile{Name: raw.Name}, err: err}
	}
	return decodedFile{
		raw:  domain.RawFile{Name: raw.Name},
		file: nf,
		rows: slices.Collect(nf.Rows()),
	}
}

// loadEntries decodes entries on a bounded pool and feeds them to the
// validator strictly in archive order. At most opts.Workers decoded files are
// held at once.
func (c *Coordinator) loadEntries(ctx context.Context, run *yearRun, entries []domain.ArchiveEntry) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]chan decodedFile, len(entries))
	for i := range results {
		results[i] = make(chan decodedFile, 1)
	}
	window := make(chan struct{}, c.opts.Workers)

	g, gctx := errgroup.WithContext(ctx)
	// One slot for the producer below.
	g.SetLimit(c.opts.Workers + 1)
	g.Go(func() error {
		for i, entry := range entries {
			select {
			case window <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			g.Go(func() error {
				results[i] <- decodeEntry(entry)
				return nil
			})
		}
		return nil
	})

	err := c.consumeEntries(gctx, run, results, window)
	cancel()
	if werr := g.Wait(); err == nil && werr != nil && !errors.Is(werr, context.Canceled) {
		err = werr
	}
	return err
}

func (c *Coordinator) consumeEntries(ctx context.Context, run *yearRun, results []chan decodedFile, window chan struct{}) error {
	for _, ch := range results {
		var df decodedFile
		select {
		case df = <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		<-window

		if err := c.consumeFile(ctx, run, df); err != nil {
			return err
		}
	}
	return nil
}

// consumeFile validates one decoded file and stages its accepted rows.
func (c *Coordinator) consumeFile(ctx context.Context, run *yearRun, df decodedFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log := c.logger.With("year", run.year, "file", df.raw.Name)

	switch {
	case df.raw.Err != nil:
		c.metrics.FilesProcessed.WithLabelValues("corrupt").Inc()
		log.Warn("station file rejected", "reason", domain.ReasonCorruptArchive, "error", df.raw.Err)
		run.acc.seen()
		c.reject(run, run.validator.RejectFile(df.raw))
		return nil
	case df.err != nil:
		c.metrics.FilesProcessed.WithLabelValues("unrecognized").Inc()
		return df.err
	}
	c.metrics.FilesProcessed.WithLabelValues("normalized").Inc()

	header := df.file.Header
	if header.Err != nil {
		log.Warn("invalid station header", "station", header.Station.Code, "error", header.Err)
	} else if run.registry.Upsert(header.Station) {
		log.Debug("station registered", "station", header.Station.Code)
	}

	for _, row := range df.rows {
		run.acc.seen()
		c.metrics.RowsSeen.Inc()
		for _, f := range row.ParseFailures {
			c.metrics.CellParseFailures.WithLabelValues(string(f)).Inc()
		}

		obs, rej := run.validator.Validate(row)
		if rej != nil {
			c.reject(run, *rej)
			continue
		}
		c.metrics.RowsAccepted.Inc()
		if run.acc.accept(obs) {
			if err := run.flush(ctx, c.metrics); err != nil {
				return c.writeFailure(ctx, err)
			}
		}
	}
	log.Debug("station file loaded", "layout", df.file.Layout, "encoding", df.file.Encoding, "rows", len(df.rows))
	return nil
}

func (c *Coordinator) reject(run *yearRun, r domain.RejectRecord) {
	c.metrics.RowsRejected.WithLabelValues(string(r.Reason)).Inc()
	run.acc.reject(r)
}
