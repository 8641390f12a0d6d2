package domain

import "context"

// PartitionTx replaces one year's observation partition. Appended rows are
// invisible to readers until Commit, which also upserts stations and records
// the manifest in the same transaction. Rollback after Commit is a no-op, so
// callers may always defer it.
// Append must not retain obs after it returns.
type PartitionTx interface {
	Append(ctx context.Context, obs []Observation) error
	Commit(ctx context.Context, stations []StationRecord, manifest RunManifest) error
	Rollback(ctx context.Context) error
}

// Archive is one collected yearly archive.
type Archive interface {
	// Entries lists the station files in archive order.
	Entries() []ArchiveEntry
	// Close releases the archive and any temporary download.
	Close() error
}

// ArchiveEntry is a station file not yet extracted. Read may be called
// concurrently for different entries.
type ArchiveEntry struct {
	Name string
	Read func() RawFile
}
