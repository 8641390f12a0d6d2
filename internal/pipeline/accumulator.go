package pipeline

import (
	"time"

	"github.com/couchcryptid/inmet-weather-etl/internal/domain"
)

// runAccumulator collects one year's counters, checksum and pending batch.
// It is owned by the validating goroutine.
type runAccumulator struct {
	manifest   domain.RunManifest
	maxRejects int
	batchSize  int
	checksum   *domain.PartitionChecksum
	stations   map[string]struct{}
	batch      []domain.Observation
}

func newRunAccumulator(runID string, year int, started time.Time, maxRejects, batchSize int) *runAccumulator {
	return &runAccumulator{
		manifest: domain.RunManifest{
			RunID:     runID,
			Year:      year,
			StartedAt: started,
			ByReason:  make(map[domain.RejectReason]int),
		},
		maxRejects: maxRejects,
		batchSize:  batchSize,
		checksum:   domain.NewPartitionChecksum(),
		stations:   make(map[string]struct{}),
		batch:      make([]domain.Observation, 0, batchSize),
	}
}

// seen counts one row, or one whole rejected file.
func (a *runAccumulator) seen() {
	a.manifest.RowsSeen++
}

// accept stages an observation and reports whether the batch is full.
func (a *runAccumulator) accept(o domain.Observation) bool {
	a.manifest.Accepted++
	a.checksum.Add(o)
	a.stations[o.StationCode] = struct{}{}
	a.batch = append(a.batch, o)
	return len(a.batch) >= a.batchSize
}

// reject counts r and keeps it until the manifest cap is reached.
func (a *runAccumulator) reject(r domain.RejectRecord) {
	a.manifest.Rejected++
	a.manifest.ByReason[r.Reason]++
	if a.maxRejects >= 0 && len(a.manifest.Rejects) >= a.maxRejects {
		a.manifest.Truncated = true
		return
	}
	a.manifest.Rejects = append(a.manifest.Rejects, r)
}

// takeBatch hands over the pending observations. The returned slice is
// reused after the next accept.
func (a *runAccumulator) takeBatch() []domain.Observation {
	b := a.batch
	a.batch = a.batch[:0]
	return b
}

func (a *runAccumulator) finish(at time.Time) domain.RunManifest {
	m := a.manifest
	m.FinishedAt = at
	m.Checksum = a.checksum.Sum()
	m.Stations = len(a.stations)
	return m
}
