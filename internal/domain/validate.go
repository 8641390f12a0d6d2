package domain

import (
	"fmt"
	"strconv"
	"time"
)

// Validator applies the quality rules to one year's normalized rows. It keeps
// only the set of seen (station, timestamp) keys, so memory grows with the
// number of accepted identities, not with row payloads. Not safe for
// concurrent use: rows must arrive in archive order for first-wins duplicate
// resolution to be deterministic.
type Validator struct {
	year      int
	stations  StationLookup
	yearStart time.Time
	nextYear  time.Time
	seen      map[ObservationKey]struct{}
}

// NewValidator creates a validator for rows belonging to year.
func NewValidator(year int, stations StationLookup) *Validator {
	return &Validator{
		year:      year,
		stations:  stations,
		yearStart: YearStart(year),
		nextYear:  YearStart(year + 1),
		seen:      make(map[ObservationKey]struct{}),
	}
}

// Validate decides a row's disposition. Exactly one of the results is
// meaningful: the observation when the reject is nil.
func (v *Validator) Validate(row NormalizedRow) (Observation, *RejectRecord) {
	reject := func(reason RejectReason, detail string) (Observation, *RejectRecord) {
		return Observation{}, &RejectRecord{
			File:        row.File,
			Line:        row.Line,
			StationCode: row.StationCode,
			Reason:      reason,
			Detail:      detail,
			Payload:     row.Payload,
		}
	}

	station, ok := v.stations.Station(row.StationCode)
	if !ok {
		return reject(ReasonUnknownStation, fmt.Sprintf("station %q not known", row.StationCode))
	}

	if row.Timestamp.IsZero() {
		return reject(ReasonTimestampOutOfRange, "unparseable timestamp")
	}
	lower := v.yearStart
	if station.InstalledOn.After(lower) {
		lower = station.InstalledOn
	}
	if row.Timestamp.Before(lower) || !row.Timestamp.Before(v.nextYear) {
		return reject(ReasonTimestampOutOfRange, fmt.Sprintf("timestamp %s outside [%s, %d-12-31T23:59:59Z]",
			row.Timestamp.Format(time.RFC3339), lower.Format(time.RFC3339), v.year))
	}

	obs := Observation{
		StationCode:  row.StationCode,
		Timestamp:    row.Timestamp,
		Measurements: row.Measurements,
	}
	key := obs.Key()
	if _, dup := v.seen[key]; dup {
		return reject(ReasonDuplicateObservation, fmt.Sprintf("duplicate of %s", key))
	}
	v.seen[key] = struct{}{}

	if field, value, ok := obs.CheckRanges(); !ok {
		r := PhysicalRanges[field]
		return reject(ReasonMeasurementOutOfRange, fmt.Sprintf("%s=%s outside [%s, %s]",
			field, formatFloat(value), formatFloat(r.Min), formatFloat(r.Max)))
	}

	return obs, nil
}

// RejectFile produces the whole-file reject for an entry that could not be
// extracted.
func (v *Validator) RejectFile(file RawFile) RejectRecord {
	detail := "entry could not be extracted"
	if file.Err != nil {
		detail = file.Err.Error()
	}
	return RejectRecord{
		File:   file.Name,
		Reason: ReasonCorruptArchive,
		Detail: detail,
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
