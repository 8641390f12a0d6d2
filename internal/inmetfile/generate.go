package inmetfile

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/couchcryptid/inmet-weather-etl/internal/domain"
)

// SampleStations are real automatic stations, used by the generator.
var SampleStations = []Station{
	{Region: "CO", State: "DF", Name: "BRASILIA", Code: "A001", Latitude: -15.78944444, Longitude: -47.92583332, Elevation: 1160.96, Founded: time.Date(2000, 5, 7, 0, 0, 0, 0, time.UTC)},
	{Region: "SE", State: "RJ", Name: "RIO DE JANEIRO - FORTE DE COPACABANA", Code: "A652", Latitude: -22.98833333, Longitude: -43.19055555, Elevation: 25.6, Founded: time.Date(2007, 7, 12, 0, 0, 0, 0, time.UTC)},
	{Region: "S", State: "RS", Name: "PORTO ALEGRE", Code: "A801", Latitude: -30.05361111, Longitude: -51.17472221, Elevation: 41.18, Founded: time.Date(2000, 9, 22, 0, 0, 0, 0, time.UTC)},
	{Region: "N", State: "AM", Name: "MANAUS", Code: "A101", Latitude: -3.10333333, Longitude: -60.01555555, Elevation: 61.25, Founded: time.Date(2000, 5, 9, 0, 0, 0, 0, time.UTC)},
	{Region: "NE", State: "PE", Name: "RECIFE", Code: "A301", Latitude: -8.05916666, Longitude: -34.95916666, Elevation: 10.0, Founded: time.Date(2004, 7, 20, 0, 0, 0, 0, time.UTC)},
}

// GenerateOptions controls synthetic archive content.
type GenerateOptions struct {
	Year     int
	Stations []Station
	// Hours per station, starting at January 1st 00:00 UTC. Zero means the
	// whole year.
	Hours int
	Seed  uint64
	// MissingRate is the fraction of cells written as -9999.
	MissingRate float64
}

// Generate produces one file per station with plausible hourly readings. The
// same options always produce the same files.
func Generate(opts GenerateOptions) []File {
	stations := opts.Stations
	if len(stations) == 0 {
		stations = SampleStations
	}
	start := domain.YearStart(opts.Year)
	hours := opts.Hours
	if hours <= 0 {
		hours = int(domain.YearStart(opts.Year+1).Sub(start) / time.Hour)
	}
	layout := domain.LayoutModern
	if opts.Year < 2019 {
		layout = domain.LayoutLegacy
	}

	rng := rand.New(rand.NewPCG(opts.Seed, uint64(opts.Year)))
	files := make([]File, 0, len(stations))
	for _, st := range stations {
		f := File{
			Name:    FileName(st, opts.Year),
			Layout:  layout,
			Station: st,
			Rows:    make([]Row, 0, hours),
		}
		base := 28 + st.Latitude/4 // warmer towards the equator
		for h := 0; h < hours; h++ {
			ts := start.Add(time.Duration(h) * time.Hour)
			f.Rows = append(f.Rows, Row{Time: ts, Values: sampleValues(rng, ts, base, st.Elevation, opts.MissingRate)})
		}
		files = append(files, f)
	}
	return files
}

func sampleValues(rng *rand.Rand, ts time.Time, base, elevation, missing float64) map[domain.Field]string {
	// Diurnal cycle peaking mid-afternoon local time (UTC-3).
	phase := 2 * math.Pi * float64((ts.Hour()+21)%24-15) / 24
	temp := base + 6*math.Cos(phase) + rng.NormFloat64()
	humidity := clamp(70-2.5*(temp-base)+rng.NormFloat64()*5, 5, 100)
	dew := temp - (100-humidity)/5
	pressure := 1013.25*math.Exp(-elevation/8434) + rng.NormFloat64()
	wind := math.Abs(rng.NormFloat64() * 2.5)
	radiation := math.Max(-3, 3000*math.Cos(phase)) + rng.Float64()*50
	precip := 0.0
	if rng.Float64() < 0.08 {
		precip = rng.ExpFloat64() * 2
	}

	v := map[domain.Field]string{
		domain.FieldTemperature:   Decimal(round1(temp)),
		domain.FieldDewPoint:      Decimal(round1(dew)),
		domain.FieldHumidity:      Decimal(math.Round(humidity)),
		domain.FieldPressure:      Decimal(round1(pressure)),
		domain.FieldWindSpeed:     Decimal(round1(wind)),
		domain.FieldWindGust:      Decimal(round1(wind * (1.5 + rng.Float64()))),
		domain.FieldWindDirection: Decimal(math.Round(rng.Float64() * 360)),
		domain.FieldPrecipitation: Decimal(round1(precip)),
		domain.FieldRadiation:     Decimal(round1(radiation)),
	}
	if missing > 0 {
		for _, f := range domain.Fields {
			if rng.Float64() < missing {
				v[f] = "-9999"
			}
		}
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
