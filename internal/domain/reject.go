package domain

import (
	"sort"
	"time"
)

// RejectReason is the closed taxonomy of quality failures. Rules are
// evaluated in this order and the first failure wins:
//
//  1. UnknownStation: the station code has no known station record.
//  2. TimestampOutOfRange: the timestamp is unparseable or outside
//     [max(installation date, year start), year end].
//  3. DuplicateObservation: the (station, timestamp) pair was already seen
//     this year. The first occurrence in archive order wins.
//  4. MeasurementOutOfRange: a present reading violates its physical range.
//
// CorruptArchive rejects a whole file that could not be extracted.
type RejectReason string

const (
	ReasonUnknownStation        RejectReason = "UnknownStation"
	ReasonTimestampOutOfRange   RejectReason = "TimestampOutOfRange"
	ReasonDuplicateObservation  RejectReason = "DuplicateObservation"
	ReasonMeasurementOutOfRange RejectReason = "MeasurementOutOfRange"
	ReasonCorruptArchive        RejectReason = "CorruptArchive"
)

// RejectReasons lists every reason in rule order.
var RejectReasons = []RejectReason{
	ReasonUnknownStation,
	ReasonTimestampOutOfRange,
	ReasonDuplicateObservation,
	ReasonMeasurementOutOfRange,
	ReasonCorruptArchive,
}

// RejectRecord is a quarantined row (or whole file) with its provenance.
// Line is zero for whole-file rejects.
type RejectRecord struct {
	File        string       `json:"file"`
	Line        int          `json:"line,omitempty"`
	StationCode string       `json:"station_code,omitempty"`
	Reason      RejectReason `json:"reason"`
	Detail      string       `json:"detail,omitempty"`
	Payload     string       `json:"payload,omitempty"`
}

// RunManifest records what one successful year run committed.
type RunManifest struct {
	RunID       string               `json:"run_id"`
	Year        int                  `json:"year"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
	RowsSeen    int64                `json:"rows_seen"`
	Accepted    int64                `json:"accepted"`
	Rejected    int64                `json:"rejected"`
	ByReason    map[RejectReason]int `json:"by_reason"`
	Checksum    string               `json:"checksum"`
	Stations    int                  `json:"stations"`
	Rejects     []RejectRecord       `json:"rejects"`
	Truncated   bool                 `json:"rejects_truncated,omitempty"`
	SourceFiles int                  `json:"source_files"`
}

// SortedReasons returns the manifest's reasons with non-zero counts in rule
// order.
func (m RunManifest) SortedReasons() []RejectReason {
	out := make([]RejectReason, 0, len(m.ByReason))
	for r, n := range m.ByReason {
		if n > 0 {
			out = append(out, r)
		}
	}
	order := make(map[RejectReason]int, len(RejectReasons))
	for i, r := range RejectReasons {
		order[r] = i
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i]] < order[out[j]] })
	return out
}
