package domain

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// maxHeaderLines bounds the search for the column-header row. INMET files
// carry eight station-header lines.
const maxHeaderLines = 16

// missingValue is the INMET sentinel for an absent reading.
const missingValue = "-9999"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// StationHeader is the metadata block at the top of a station file. Values
// holds raw cell text keyed by folded header key ("CODIGO", "UF", ...).
// Err is set when the block does not yield a valid StationRecord; the
// station code in Station is still populated when present.
type StationHeader struct {
	Values  map[string]string
	Station StationRecord
	Err     error
}

// NormalizedRow is one data row mapped onto the canonical schema. A zero
// Timestamp means the date or hour cell could not be parsed. ParseFailures
// names every field whose cell was present but unparseable; such fields are
// nil in Measurements.
type NormalizedRow struct {
	File          string
	Line          int
	StationCode   string
	Timestamp     time.Time
	Measurements  Measurements
	ParseFailures []Field
	Payload       string
}

// NormalizedFile is a decoded station file with its header parsed and its
// layout identified. Data rows are produced lazily by Rows.
type NormalizedFile struct {
	Name     string
	Layout   Layout
	Header   StationHeader
	Encoding string

	spec      layoutSpec
	columns   map[int]Field
	delimiter rune
	body      string
	bodyLine  int
}

// Normalize decodes a raw station file and identifies its layout. It is
// pure: the same name and bytes always produce the same header and rows.
// A column header matching no known layout is ErrUnrecognizedLayout; an
// empty or truncated file with no column header is ErrCorruptArchive.
func Normalize(raw RawFile) (*NormalizedFile, error) {
	if raw.Err != nil {
		return nil, fmt.Errorf("normalize %s: %w", raw.Name, raw.Err)
	}

	text, enc := decodeText(raw.Content)
	delim := detectDelimiter(text)

	r := newReader(strings.NewReader(text), delim)
	values := make(map[string]string)
	var columnHeader []string
	for i := 0; i < maxHeaderLines; i++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("normalize %s: read header: %w: %w", raw.Name, ErrCorruptArchive, err)
		}
		if isHeaderEntry(rec) {
			key := foldHeaderKey(rec[0])
			if len(rec) > 1 {
				values[key] = strings.TrimSpace(rec[1])
			} else {
				values[key] = ""
			}
			continue
		}
		columnHeader = rec
		break
	}
	if columnHeader == nil {
		return nil, fmt.Errorf("normalize %s: no column header: %w", raw.Name, ErrCorruptArchive)
	}

	spec, ok := detectLayout(columnHeader)
	if !ok {
		return nil, fmt.Errorf("normalize %s: columns %q: %w", raw.Name, strings.Join(firstN(columnHeader, 2), string(delim)), ErrUnrecognizedLayout)
	}

	line, _ := r.FieldPos(0)
	offset := int(r.InputOffset())

	return &NormalizedFile{
		Name:      raw.Name,
		Layout:    spec.layout,
		Header:    parseStationHeader(values, coverageYear(raw.Name)),
		Encoding:  enc,
		spec:      spec,
		columns:   spec.bindColumns(columnHeader),
		delimiter: delim,
		body:      text[offset:],
		bodyLine:  line,
	}, nil
}

// Rows yields the file's data rows in file order. Rows never fail: cells
// that cannot be parsed are reported through NormalizedRow.ParseFailures.
// Each call starts again from the first data row.
func (f *NormalizedFile) Rows() iter.Seq[NormalizedRow] {
	return func(yield func(NormalizedRow) bool) {
		r := newReader(strings.NewReader(f.body), f.delimiter)
		line := f.bodyLine
		for {
			rec, err := r.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				line = f.errorLine(err, line)
				// The csv reader tolerates ragged rows, so only quoting damage
				// lands here. Surface it as an unparseable row.
				if !yield(NormalizedRow{File: f.Name, Line: line, StationCode: f.Header.Station.Code, ParseFailures: []Field{FieldTimestamp}}) {
					return
				}
				continue
			}
			line, _ = r.FieldPos(0)
			line += f.bodyLine
			if !yield(f.normalizeRow(rec, line)) {
				return
			}
		}
	}
}

// errorLine returns the file line where a failed record started. prev is
// the line of the previous record.
func (f *NormalizedFile) errorLine(err error, prev int) int {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return pe.StartLine + f.bodyLine
	}
	return prev + 1
}

func (f *NormalizedFile) normalizeRow(rec []string, line int) NormalizedRow {
	row := NormalizedRow{
		File:        f.Name,
		Line:        line,
		StationCode: f.Header.Station.Code,
		Payload:     strings.Join(rec, string(f.delimiter)),
	}

	var date, hour string
	if len(rec) > 0 {
		date = rec[0]
	}
	if len(rec) > 1 {
		hour = rec[1]
	}
	ts, ok := f.spec.parseTimestamp(date, hour)
	if ok {
		row.Timestamp = ts
	} else {
		row.ParseFailures = append(row.ParseFailures, FieldTimestamp)
	}

	for _, idx := range slices.Sorted(maps.Keys(f.columns)) {
		field := f.columns[idx]
		if idx >= len(rec) {
			continue
		}
		v, present, err := parseDecimal(rec[idx])
		if err != nil {
			row.ParseFailures = append(row.ParseFailures, field)
			continue
		}
		if present {
			row.Measurements.Set(field, &v)
		}
	}
	return row
}

func (l layoutSpec) parseTimestamp(date, hour string) (time.Time, bool) {
	date = strings.TrimSpace(date)
	hour = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(hour), "UTC"))
	if date == "" || hour == "" {
		return time.Time{}, false
	}
	var d time.Time
	var ok bool
	for _, layout := range l.dateFormats {
		if parsed, err := time.Parse(layout, date); err == nil {
			d, ok = parsed, true
			break
		}
	}
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range l.hourFormats {
		if h, err := time.Parse(layout, hour); err == nil {
			return time.Date(d.Year(), d.Month(), d.Day(), h.Hour(), h.Minute(), 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// parseDecimal reads an INMET numeric cell. Empty cells and the -9999
// sentinel are absent, not errors. Decimal commas are accepted.
func parseDecimal(cell string) (float64, bool, error) {
	s := strings.TrimSpace(cell)
	if s == "" || s == missingValue {
		return 0, false, nil
	}
	s = strings.Replace(s, ",", ".", 1)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, err
	}
	if v == -9999 {
		return 0, false, nil
	}
	return v, true, nil
}

var foundingDateFormats = []string{"02/01/2006", "02/01/06", "2006-01-02", "2006/01/02"}

// coverageName matches the period suffix of INMET file names, e.g.
// "_01-01-2023_A_31-12-2023.CSV".
var coverageName = regexp.MustCompile(`_\d{2}-\d{2}-\d{4}_A_\d{2}-\d{2}-(\d{4})\.[cC][sS][vV]$`)

// coverageYear returns the last year a station file covers according to its
// name, or 0 when the name does not follow the INMET convention.
func coverageYear(name string) int {
	m := coverageName.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	y, _ := strconv.Atoi(m[1])
	return y
}

// parseStationHeader builds the station record from header values. Two-digit
// founding years follow time.Parse (1969–2068); one later than coverage, the
// last year the file covers, belongs to the previous century.
func parseStationHeader(values map[string]string, coverage int) StationHeader {
	h := StationHeader{Values: values}
	st := StationRecord{
		Code:   strings.ToUpper(values["CODIGO"]),
		Name:   values["ESTACAO"],
		Region: strings.ToUpper(values["REGIAO"]),
		State:  strings.ToUpper(values["UF"]),
	}

	var errs []error
	parseCoord := func(key string, dst *float64) {
		v, present, err := parseDecimal(values[key])
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s %q: %w", strings.ToLower(key), values[key], err))
		case !present:
			errs = append(errs, fmt.Errorf("%s missing", strings.ToLower(key)))
		default:
			*dst = v
		}
	}
	parseCoord("LATITUDE", &st.Latitude)
	parseCoord("LONGITUDE", &st.Longitude)
	parseCoord("ALTITUDE", &st.Elevation)

	if raw := values["DATA DE FUNDACAO"]; raw != "" {
		for _, layout := range foundingDateFormats {
			if t, err := time.Parse(layout, raw); err == nil {
				if layout == "02/01/06" && coverage > 0 && t.Year() > coverage {
					t = t.AddDate(-100, 0, 0)
				}
				st.InstalledOn = t
				break
			}
		}
		if st.InstalledOn.IsZero() {
			errs = append(errs, fmt.Errorf("founding date %q not recognized", raw))
		}
	}

	if err := ValidateStation(st); err != nil {
		errs = append(errs, err)
	}
	h.Station = st
	h.Err = errors.Join(errs...)
	return h
}

// decodeText returns the file as UTF-8. Files are ISO-8859-1 unless they
// carry a UTF-8 BOM or are already valid UTF-8.
func decodeText(b []byte) (string, string) {
	if bytes.HasPrefix(b, utf8BOM) {
		return string(b[len(utf8BOM):]), "utf-8"
	}
	if utf8.Valid(b) {
		return string(b), "utf-8"
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b), "utf-8"
	}
	return string(decoded), "iso-8859-1"
}

// detectDelimiter picks ";" or "," from the first line. INMET has always
// used ";", so it wins ties.
func detectDelimiter(text string) rune {
	first, _, _ := strings.Cut(text, "\n")
	if strings.Count(first, ",") > strings.Count(first, ";") && !strings.Contains(first, ";") {
		return ','
	}
	return ';'
}

func newReader(r io.Reader, delim rune) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

func isHeaderEntry(rec []string) bool {
	return len(rec) > 0 && strings.HasSuffix(strings.TrimSpace(rec[0]), ":")
}

func firstN(s []string, n int) []string {
	if len(s) < n {
		return s
	}
	return s[:n]
}
