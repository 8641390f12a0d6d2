// Package inmetfile writes station files and yearly archives in the INMET
// publication format. It backs the synthetic archive generator and the test
// fixtures of the collector and pipeline.
package inmetfile

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"golang.org/x/text/encoding/charmap"

	"github.com/couchcryptid/inmet-weather-etl/internal/domain"
)

// Station is the header block of a station file.
type Station struct {
	Region    string
	State     string
	Name      string
	Code      string
	Latitude  float64
	Longitude float64
	Elevation float64
	Founded   time.Time
}

// Row is one hourly data row. Values hold cell text as published, so tests
// can write sentinels ("-9999") and garbage alike. Missing fields are empty.
type Row struct {
	Time   time.Time
	Values map[domain.Field]string
}

// File is one station file.
type File struct {
	Name    string
	Layout  domain.Layout
	Station Station
	Rows    []Row
	// UTF8 writes the file as UTF-8 instead of ISO-8859-1.
	UTF8 bool
}

// column is a data column title and the canonical field it carries; hourly
// max/min columns carry none and are written empty.
type column struct {
	title string
	field domain.Field
}

var dataColumns = []column{
	{"PRECIPITAÇÃO TOTAL, HORÁRIO (mm)", domain.FieldPrecipitation},
	{"PRESSAO ATMOSFERICA AO NIVEL DA ESTACAO, HORARIA (mB)", domain.FieldPressure},
	{"PRESSÃO ATMOSFERICA MAX.NA HORA ANT. (AUT) (mB)", ""},
	{"PRESSÃO ATMOSFERICA MIN. NA HORA ANT. (AUT) (mB)", ""},
	{"RADIACAO GLOBAL (Kj/m²)", domain.FieldRadiation},
	{"TEMPERATURA DO AR - BULBO SECO, HORARIA (°C)", domain.FieldTemperature},
	{"TEMPERATURA DO PONTO DE ORVALHO (°C)", domain.FieldDewPoint},
	{"TEMPERATURA MÁXIMA NA HORA ANT. (AUT) (°C)", ""},
	{"TEMPERATURA MÍNIMA NA HORA ANT. (AUT) (°C)", ""},
	{"TEMPERATURA ORVALHO MAX. NA HORA ANT. (AUT) (°C)", ""},
	{"TEMPERATURA ORVALHO MIN. NA HORA ANT. (AUT) (°C)", ""},
	{"UMIDADE REL. MAX. NA HORA ANT. (AUT) (%)", ""},
	{"UMIDADE REL. MIN. NA HORA ANT. (AUT) (%)", ""},
	{"UMIDADE RELATIVA DO AR, HORARIA (%)", domain.FieldHumidity},
	{"VENTO, DIREÇÃO HORARIA (gr) (° (gr))", domain.FieldWindDirection},
	{"VENTO, RAJADA MAXIMA (m/s)", domain.FieldWindGust},
	{"VENTO, VELOCIDADE HORARIA (m/s)", domain.FieldWindSpeed},
}

// FileName returns the archive entry name INMET uses for a station year.
func FileName(st Station, year int) string {
	return fmt.Sprintf("INMET_%s_%s_%s_%s_01-01-%d_A_31-12-%d.CSV",
		st.Region, st.State, st.Code, strings.ReplaceAll(st.Name, " ", "_"), year, year)
}

// Decimal formats a value with a decimal comma, the way INMET publishes it.
func Decimal(v float64) string {
	return strings.Replace(strconv.FormatFloat(v, 'f', -1, 64), ".", ",", 1)
}

// Bytes renders the file in its layout and encoding.
func (f File) Bytes() []byte {
	var b strings.Builder
	f.writeHeader(&b)

	dateCol, hourCol := "Data", "Hora UTC"
	if f.Layout == domain.LayoutLegacy {
		dateCol, hourCol = "DATA (YYYY-MM-DD)", "HORA (UTC)"
	}
	b.WriteString(dateCol + ";" + hourCol + ";")
	for _, c := range dataColumns {
		b.WriteString(c.title + ";")
	}
	b.WriteString("\n")

	for _, r := range f.Rows {
		t := r.Time.UTC()
		if f.Layout == domain.LayoutLegacy {
			b.WriteString(t.Format("2006-01-02") + ";" + t.Format("15:04") + ";")
		} else {
			b.WriteString(t.Format("2006/01/02") + ";" + t.Format("1504") + " UTC;")
		}
		for _, c := range dataColumns {
			if c.field != "" {
				b.WriteString(r.Values[c.field])
			}
			b.WriteString(";")
		}
		b.WriteString("\n")
	}

	if f.UTF8 {
		return []byte(b.String())
	}
	encoded, err := charmap.ISO8859_1.NewEncoder().String(b.String())
	if err != nil {
		// Every character written above is in latin-1 unless a caller supplies
		// one that is not; fall back to UTF-8 rather than lose the file.
		return []byte(b.String())
	}
	return []byte(encoded)
}

func (f File) writeHeader(b *strings.Builder) {
	st := f.Station
	if f.Layout == domain.LayoutLegacy {
		fmt.Fprintf(b, "REGIÃO:;%s\n", st.Region)
		fmt.Fprintf(b, "UF:;%s\n", st.State)
		fmt.Fprintf(b, "ESTAÇÃO:;%s\n", st.Name)
		fmt.Fprintf(b, "CODIGO (WMO):;%s\n", st.Code)
		fmt.Fprintf(b, "LATITUDE:;%s\n", Decimal(st.Latitude))
		fmt.Fprintf(b, "LONGITUDE:;%s\n", Decimal(st.Longitude))
		fmt.Fprintf(b, "ALTITUDE:;%s\n", Decimal(st.Elevation))
		fmt.Fprintf(b, "DATA DE FUNDAÇÃO (YYYY-MM-DD):;%s\n", formatFounded(st.Founded, "2006-01-02"))
		return
	}
	fmt.Fprintf(b, "REGIAO:;%s\n", st.Region)
	fmt.Fprintf(b, "UF:;%s\n", st.State)
	fmt.Fprintf(b, "ESTACAO:;%s\n", st.Name)
	fmt.Fprintf(b, "CODIGO (WMO):;%s\n", st.Code)
	fmt.Fprintf(b, "LATITUDE:;%s\n", Decimal(st.Latitude))
	fmt.Fprintf(b, "LONGITUDE:;%s\n", Decimal(st.Longitude))
	fmt.Fprintf(b, "ALTITUDE:;%s\n", Decimal(st.Elevation))
	founded := "02/01/06"
	if st.Founded.Year() < 2000 {
		founded = "02/01/2006"
	}
	fmt.Fprintf(b, "DATA DE FUNDACAO:;%s\n", formatFounded(st.Founded, founded))
}

func formatFounded(t time.Time, layout string) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(layout)
}

// Entry is one archive member. Corrupt entries are stored with a CRC that
// does not match their content, so extraction fails on read.
type Entry struct {
	Name    string
	Content []byte
	Corrupt bool
}

// WriteZip writes a yearly archive with the given entries in order.
func WriteZip(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		if e.Corrupt {
			if err := writeCorrupt(zw, e); err != nil {
				return err
			}
			continue
		}
		fw, err := zw.Create(e.Name)
		if err != nil {
			return fmt.Errorf("create %s: %w", e.Name, err)
		}
		if _, err := fw.Write(e.Content); err != nil {
			return fmt.Errorf("write %s: %w", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

func writeCorrupt(zw *zip.Writer, e Entry) error {
	hdr := &zip.FileHeader{
		Name:               e.Name,
		Method:             zip.Store,
		CRC32:              0xDEADBEEF,
		CompressedSize64:   uint64(len(e.Content)),
		UncompressedSize64: uint64(len(e.Content)),
	}
	fw, err := zw.CreateRaw(hdr)
	if err != nil {
		return fmt.Errorf("create raw %s: %w", e.Name, err)
	}
	if _, err := fw.Write(e.Content); err != nil {
		return fmt.Errorf("write raw %s: %w", e.Name, err)
	}
	return nil
}

// Archive renders files into a zip archive in memory.
func Archive(files []File, extra ...Entry) ([]byte, error) {
	entries := make([]Entry, 0, len(files)+len(extra))
	for _, f := range files {
		entries = append(entries, Entry{Name: f.Name, Content: f.Bytes()})
	}
	entries = append(entries, extra...)
	var buf bytes.Buffer
	if err := WriteZip(&buf, entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
