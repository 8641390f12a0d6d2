package domain

import (
	"fmt"
	"time"
)

// Field names a measurement column of the canonical schema.
type Field string

const (
	FieldTemperature   Field = "temperature"
	FieldDewPoint      Field = "dew_point"
	FieldHumidity      Field = "humidity"
	FieldPressure      Field = "pressure"
	FieldWindSpeed     Field = "wind_speed"
	FieldWindGust      Field = "wind_gust"
	FieldWindDirection Field = "wind_direction"
	FieldPrecipitation Field = "precipitation"
	FieldRadiation     Field = "radiation"

	// FieldTimestamp tags an unparseable date or hour cell.
	FieldTimestamp Field = "timestamp"
)

// Fields lists the measurement fields in canonical column order.
var Fields = []Field{
	FieldTemperature,
	FieldDewPoint,
	FieldHumidity,
	FieldPressure,
	FieldWindSpeed,
	FieldWindGust,
	FieldWindDirection,
	FieldPrecipitation,
	FieldRadiation,
}

// Range is an inclusive physical bound for one measurement.
type Range struct {
	Min, Max float64
}

// Contains reports whether v lies within the bound.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// PhysicalRanges bounds plausible readings per field. Global radiation goes
// slightly negative at night because of sensor offset.
var PhysicalRanges = map[Field]Range{
	FieldTemperature:   {Min: -40, Max: 60},
	FieldDewPoint:      {Min: -60, Max: 50},
	FieldHumidity:      {Min: 0, Max: 100},
	FieldPressure:      {Min: 500, Max: 1100},
	FieldWindSpeed:     {Min: 0, Max: 75},
	FieldWindGust:      {Min: 0, Max: 100},
	FieldWindDirection: {Min: 0, Max: 360},
	FieldPrecipitation: {Min: 0, Max: 500},
	FieldRadiation:     {Min: -100, Max: 6000},
}

// Measurements holds the nullable readings of one observation.
//
//	Temperature, DewPoint  °C
//	Humidity               % relative humidity
//	Pressure               hPa at station level
//	WindSpeed, WindGust    m/s
//	WindDirection          degrees
//	Precipitation          mm in the hour
//	Radiation              kJ/m² global radiation
type Measurements struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	DewPoint      *float64 `json:"dew_point,omitempty"`
	Humidity      *float64 `json:"humidity,omitempty"`
	Pressure      *float64 `json:"pressure,omitempty"`
	WindSpeed     *float64 `json:"wind_speed,omitempty"`
	WindGust      *float64 `json:"wind_gust,omitempty"`
	WindDirection *float64 `json:"wind_direction,omitempty"`
	Precipitation *float64 `json:"precipitation,omitempty"`
	Radiation     *float64 `json:"radiation,omitempty"`
}

// Get returns the reading for a field, nil when absent.
func (m *Measurements) Get(f Field) *float64 {
	if p := m.slot(f); p != nil {
		return *p
	}
	return nil
}

// Set stores a reading for a field. Unknown fields are ignored.
func (m *Measurements) Set(f Field, v *float64) {
	if p := m.slot(f); p != nil {
		*p = v
	}
}

func (m *Measurements) slot(f Field) **float64 {
	switch f {
	case FieldTemperature:
		return &m.Temperature
	case FieldDewPoint:
		return &m.DewPoint
	case FieldHumidity:
		return &m.Humidity
	case FieldPressure:
		return &m.Pressure
	case FieldWindSpeed:
		return &m.WindSpeed
	case FieldWindGust:
		return &m.WindGust
	case FieldWindDirection:
		return &m.WindDirection
	case FieldPrecipitation:
		return &m.Precipitation
	case FieldRadiation:
		return &m.Radiation
	default:
		return nil
	}
}

// CheckRanges returns the first present field outside its physical range.
func (m *Measurements) CheckRanges() (Field, float64, bool) {
	for _, f := range Fields {
		v := m.Get(f)
		if v == nil {
			continue
		}
		if !PhysicalRanges[f].Contains(*v) {
			return f, *v, false
		}
	}
	return "", 0, true
}

// Observation is one accepted hourly reading, identified by station and UTC
// timestamp.
type Observation struct {
	StationCode string    `json:"station_code"`
	Timestamp   time.Time `json:"timestamp"`
	Measurements
}

// Key returns the identity of the observation.
func (o Observation) Key() ObservationKey {
	return ObservationKey{StationCode: o.StationCode, Timestamp: o.Timestamp.Unix()}
}

// ObservationKey is the (station, timestamp) identity used for duplicate
// detection.
type ObservationKey struct {
	StationCode string
	Timestamp   int64
}

func (k ObservationKey) String() string {
	return fmt.Sprintf("%s@%s", k.StationCode, time.Unix(k.Timestamp, 0).UTC().Format(time.RFC3339))
}

// RawFile is one per-station file extracted from a yearly archive. Err is set
// when the entry could not be extracted; Content is then empty.
type RawFile struct {
	Name    string
	Content []byte
	Err     error
}
