package domain

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Layout identifies a known column layout of INMET station files.
type Layout int

const (
	LayoutUnknown Layout = iota
	// LayoutLegacy is used by the 2000–2018 archives.
	LayoutLegacy
	// LayoutModern is used from 2019 onwards.
	LayoutModern
)

func (l Layout) String() string {
	switch l {
	case LayoutLegacy:
		return "legacy"
	case LayoutModern:
		return "modern"
	default:
		return "unknown"
	}
}

// layoutSpec describes how one layout maps onto the canonical schema. Column
// names are stored folded (see FoldHeader).
type layoutSpec struct {
	layout      Layout
	dateColumn  string
	hourColumn  string
	dateFormats []string
	hourFormats []string
	columns     map[string]Field
}

// Measurement columns are named the same in both layouts apart from a few
// spelling drifts, which are listed as aliases.
var measurementColumns = map[string]Field{
	"PRECIPITACAO TOTAL, HORARIO (MM)":                      FieldPrecipitation,
	"PRESSAO ATMOSFERICA AO NIVEL DA ESTACAO, HORARIA (MB)": FieldPressure,
	"RADIACAO GLOBAL (KJ/M²)":                               FieldRadiation,
	"RADIACAO GLOBAL (KJ/M2)":                               FieldRadiation,
	"TEMPERATURA DO AR - BULBO SECO, HORARIA (°C)":          FieldTemperature,
	"TEMPERATURA DO PONTO DE ORVALHO (°C)":                  FieldDewPoint,
	"UMIDADE RELATIVA DO AR, HORARIA (%)":                   FieldHumidity,
	"VENTO, DIRECAO HORARIA (GR) (° (GR))":                  FieldWindDirection,
	"VENTO, RAJADA MAXIMA (M/S)":                            FieldWindGust,
	"VENTO, VELOCIDADE HORARIA (M/S)":                       FieldWindSpeed,
}

var layouts = []layoutSpec{
	{
		layout:      LayoutLegacy,
		dateColumn:  "DATA (YYYY-MM-DD)",
		hourColumn:  "HORA (UTC)",
		dateFormats: []string{"2006-01-02", "2006/01/02"},
		hourFormats: []string{"15:04", "1504"},
		columns:     measurementColumns,
	},
	{
		layout:      LayoutModern,
		dateColumn:  "DATA",
		hourColumn:  "HORA UTC",
		dateFormats: []string{"2006/01/02", "2006-01-02"},
		hourFormats: []string{"1504", "15:04"},
		columns:     measurementColumns,
	},
}

// detectLayout matches a folded column-header row against the known layouts.
func detectLayout(header []string) (layoutSpec, bool) {
	if len(header) < 2 {
		return layoutSpec{}, false
	}
	date, hour := FoldHeader(header[0]), FoldHeader(header[1])
	for _, l := range layouts {
		if date == l.dateColumn && hour == l.hourColumn {
			return l, true
		}
	}
	return layoutSpec{}, false
}

// bindColumns maps column indexes to fields. Columns outside the canonical
// schema (hourly max/min readings) are ignored.
func (l layoutSpec) bindColumns(header []string) map[int]Field {
	bound := make(map[int]Field)
	seen := make(map[Field]bool)
	for i := 2; i < len(header); i++ {
		f, ok := l.columns[FoldHeader(header[i])]
		if !ok || seen[f] {
			continue
		}
		seen[f] = true
		bound[i] = f
	}
	return bound
}

var (
	spaceRun  = regexp.MustCompile(`\s+`)
	parenTail = regexp.MustCompile(`\s*\([^)]*\)$`)
)

// FoldHeader upper-cases a header cell, strips accents and collapses
// whitespace, so "Precipitação Total,  Horário (mm)" and
// "PRECIPITACAO TOTAL, HORARIO (MM)" compare equal.
func FoldHeader(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = spaceRun.ReplaceAllString(strings.TrimSpace(folded), " ")
	return strings.ToUpper(folded)
}

// foldHeaderKey folds a station-header key and drops the trailing colon and
// any parenthesized hint: "DATA DE FUNDAÇÃO (YYYY-MM-DD):" → "DATA DE FUNDACAO".
func foldHeaderKey(s string) string {
	k := strings.TrimSuffix(FoldHeader(s), ":")
	return strings.TrimSpace(parenTail.ReplaceAllString(k, ""))
}
