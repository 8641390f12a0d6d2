package export

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchcryptid/inmet-weather-etl/internal/domain"
)

// ErrNoManifest means a year has never been committed.
var ErrNoManifest = errors.New("no manifest for year")

// Verification compares a stored partition with its latest manifest.
type Verification struct {
	Year     int
	RunID    string
	Expected string
	Actual   string
	Manifest int64
	Rows     int64
}

// OK reports whether the partition matches the manifest.
func (v Verification) OK() bool {
	return v.Expected == v.Actual && v.Manifest == v.Rows
}

// Verify recomputes year's checksum from the store and compares it with the
// most recent manifest.
func Verify(ctx context.Context, src Source, year int) (Verification, error) {
	manifests, err := src.Manifests(ctx, year)
	if err != nil {
		return Verification{}, fmt.Errorf("read manifests %d: %w", year, err)
	}
	if len(manifests) == 0 {
		return Verification{}, fmt.Errorf("%d: %w", year, ErrNoManifest)
	}
	latest := manifests[len(manifests)-1]

	sum := domain.NewPartitionChecksum()
	var rows int64
	err = src.ScanPartition(ctx, year, func(o domain.Observation) error {
		sum.Add(o)
		rows++
		return nil
	})
	if err != nil {
		return Verification{}, fmt.Errorf("scan partition %d: %w", year, err)
	}
	return Verification{
		Year:     year,
		RunID:    latest.RunID,
		Expected: latest.Checksum,
		Actual:   sum.Sum(),
		Manifest: latest.Accepted,
		Rows:     rows,
	}, nil
}
