package domain

import "errors"

// Fatal errors. Each one fails a single year's run; other years continue.
var (
	// ErrUnsupportedYear is returned before any I/O for years outside the
	// collectable range.
	ErrUnsupportedYear = errors.New("unsupported year")

	// ErrSourceUnavailable covers network failures, timeouts, 404/5xx and a
	// missing local archive. Retried with backoff before it becomes fatal.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrCorruptArchive marks an archive or archive entry that cannot be
	// extracted. A corrupt entry only rejects that file.
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrUnrecognizedLayout is returned when a file's column header matches no
	// known layout. The normalizer never guesses.
	ErrUnrecognizedLayout = errors.New("unrecognized layout")

	// ErrRunInProgress is returned when another run already holds the year.
	ErrRunInProgress = errors.New("run in progress")

	// ErrPartitionWriteFailed wraps store failures during the partition
	// replace. The prior partition is left untouched.
	ErrPartitionWriteFailed = errors.New("partition write failed")
)
