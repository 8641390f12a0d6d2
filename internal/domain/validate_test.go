package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var brasilia = StationRecord{
	Code:        "A001",
	Name:        "BRASILIA",
	Region:      "CO",
	State:       "DF",
	Latitude:    -15.78944444,
	Longitude:   -47.92583332,
	Elevation:   1160.96,
	InstalledOn: time.Date(2000, 5, 7, 0, 0, 0, 0, time.UTC),
}

func row(code string, ts time.Time, m Measurements) NormalizedRow {
	return NormalizedRow{File: "f.csv", Line: 10, StationCode: code, Timestamp: ts, Measurements: m, Payload: "raw"}
}

func TestValidator_Rules(t *testing.T) {
	ts := time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		row        NormalizedRow
		wantReason RejectReason
		detail     string
	}{
		{
			name: "accepted",
			row:  row("A001", ts, Measurements{Humidity: ptr(55)}),
		},
		{
			name:       "unknown station",
			row:        row("Z999", ts, Measurements{}),
			wantReason: ReasonUnknownStation,
		},
		{
			name:       "unknown station wins over bad timestamp",
			row:        row("Z999", time.Time{}, Measurements{}),
			wantReason: ReasonUnknownStation,
		},
		{
			name:       "unparseable timestamp",
			row:        row("A001", time.Time{}, Measurements{}),
			wantReason: ReasonTimestampOutOfRange,
			detail:     "unparseable",
		},
		{
			name:       "timestamp in another year",
			row:        row("A001", time.Date(2022, 12, 31, 23, 0, 0, 0, time.UTC), Measurements{}),
			wantReason: ReasonTimestampOutOfRange,
		},
		{
			name:       "timestamp at next year start",
			row:        row("A001", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Measurements{}),
			wantReason: ReasonTimestampOutOfRange,
		},
		{
			name:       "humidity above range",
			row:        row("A001", ts.Add(time.Hour), Measurements{Humidity: ptr(150)}),
			wantReason: ReasonMeasurementOutOfRange,
			detail:     "humidity=150",
		},
		{
			name:       "negative precipitation",
			row:        row("A001", ts.Add(2*time.Hour), Measurements{Precipitation: ptr(-1)}),
			wantReason: ReasonMeasurementOutOfRange,
			detail:     "precipitation",
		},
		{
			name: "slightly negative night radiation accepted",
			row:  row("A001", ts.Add(3*time.Hour), Measurements{Radiation: ptr(-3.54)}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(2023, NewStationRegistry([]StationRecord{brasilia}))
			obs, rej := v.Validate(tt.row)
			if tt.wantReason == "" {
				require.Nil(t, rej)
				assert.Equal(t, tt.row.StationCode, obs.StationCode)
				assert.Equal(t, tt.row.Timestamp, obs.Timestamp)
				return
			}
			require.NotNil(t, rej)
			assert.Equal(t, tt.wantReason, rej.Reason)
			assert.Equal(t, "f.csv", rej.File)
			assert.Equal(t, 10, rej.Line)
			assert.Equal(t, "raw", rej.Payload)
			assert.Contains(t, rej.Detail, tt.detail)
		})
	}
}

func TestValidator_BeforeInstallation(t *testing.T) {
	st := brasilia
	st.InstalledOn = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	v := NewValidator(2023, NewStationRegistry([]StationRecord{st}))

	_, rej := v.Validate(row("A001", time.Date(2023, 5, 31, 23, 0, 0, 0, time.UTC), Measurements{}))
	require.NotNil(t, rej)
	assert.Equal(t, ReasonTimestampOutOfRange, rej.Reason)

	_, rej = v.Validate(row("A001", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), Measurements{}))
	assert.Nil(t, rej)
}

func TestValidator_FirstDuplicateWins(t *testing.T) {
	ts := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	v := NewValidator(2023, NewStationRegistry([]StationRecord{brasilia}))

	first, rej := v.Validate(row("A001", ts, Measurements{Temperature: ptr(20)}))
	require.Nil(t, rej)
	assert.Equal(t, ptr(20.0), first.Temperature)

	_, rej = v.Validate(row("A001", ts, Measurements{Temperature: ptr(25)}))
	require.NotNil(t, rej)
	assert.Equal(t, ReasonDuplicateObservation, rej.Reason)
	assert.Len(t, v.seen, 1)
}

func TestValidator_OutOfRangeStillClaimsKey(t *testing.T) {
	ts := time.Date(2023, 1, 1, 5, 0, 0, 0, time.UTC)
	v := NewValidator(2023, NewStationRegistry([]StationRecord{brasilia}))

	_, rej := v.Validate(row("A001", ts, Measurements{Humidity: ptr(120)}))
	require.NotNil(t, rej)
	assert.Equal(t, ReasonMeasurementOutOfRange, rej.Reason)

	_, rej = v.Validate(row("A001", ts, Measurements{Humidity: ptr(60)}))
	require.NotNil(t, rej)
	assert.Equal(t, ReasonDuplicateObservation, rej.Reason)
}

func TestValidator_RangeBoundaries(t *testing.T) {
	for _, f := range Fields {
		r := PhysicalRanges[f]
		t.Run(string(f), func(t *testing.T) {
			v := NewValidator(2023, NewStationRegistry([]StationRecord{brasilia}))
			base := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
			cases := []struct {
				value float64
				ok    bool
			}{
				{r.Min, true},
				{r.Max, true},
				{r.Min - 0.1, false},
				{r.Max + 0.1, false},
			}
			for i, c := range cases {
				var m Measurements
				m.Set(f, ptr(c.value))
				_, rej := v.Validate(row("A001", base.Add(time.Duration(i)*time.Hour), m))
				assert.Equal(t, c.ok, rej == nil, fmt.Sprintf("%s=%v", f, c.value))
			}
		})
	}
}

func TestValidator_RejectFile(t *testing.T) {
	v := NewValidator(2023, NewStationRegistry(nil))
	rej := v.RejectFile(RawFile{Name: "bad.csv", Err: ErrCorruptArchive})
	assert.Equal(t, ReasonCorruptArchive, rej.Reason)
	assert.Equal(t, "bad.csv", rej.File)
	assert.Zero(t, rej.Line)
	assert.Contains(t, rej.Detail, "corrupt archive")
}
