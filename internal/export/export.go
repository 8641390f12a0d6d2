// Package export writes the warehouse to Parquet files and verifies stored
// partitions against their manifests.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/couchcryptid/inmet-weather-etl/internal/domain"
)

// Source is the read side of the store.
type Source interface {
	Stations(ctx context.Context) ([]domain.StationRecord, error)
	ScanPartition(ctx context.Context, year int, fn func(domain.Observation) error) error
	Manifests(ctx context.Context, year int) ([]domain.RunManifest, error)
}

// StationsFile is the name of the station export.
const StationsFile = "stations.parquet"

// ObservationsFile returns the name of one year's observation export.
func ObservationsFile(year int) string {
	return fmt.Sprintf("observations_%d.parquet", year)
}

const writeChunk = 4096

// StationRow is the Parquet schema of stations.parquet.
type StationRow struct {
	Code        string    `parquet:"code"`
	Name        string    `parquet:"name"`
	Region      string    `parquet:"region"`
	State       string    `parquet:"state"`
	Latitude    float64   `parquet:"latitude"`
	Longitude   float64   `parquet:"longitude"`
	Elevation   float64   `parquet:"elevation"`
	InstalledOn time.Time `parquet:"installed_on,timestamp(millisecond)"`
}

// ObservationRow is the Parquet schema of observations_<year>.parquet.
// Missing readings are null.
type ObservationRow struct {
	StationCode   string    `parquet:"station_code"`
	ObservedAt    time.Time `parquet:"observed_at,timestamp(millisecond)"`
	Temperature   *float64  `parquet:"temperature,optional"`
	DewPoint      *float64  `parquet:"dew_point,optional"`
	Humidity      *float64  `parquet:"humidity,optional"`
	Pressure      *float64  `parquet:"pressure,optional"`
	WindSpeed     *float64  `parquet:"wind_speed,optional"`
	WindGust      *float64  `parquet:"wind_gust,optional"`
	WindDirection *float64  `parquet:"wind_direction,optional"`
	Precipitation *float64  `parquet:"precipitation,optional"`
	Radiation     *float64  `parquet:"radiation,optional"`
}

func stationRow(s domain.StationRecord) StationRow {
	return StationRow{
		Code:        s.Code,
		Name:        s.Name,
		Region:      s.Region,
		State:       s.State,
		Latitude:    s.Latitude,
		Longitude:   s.Longitude,
		Elevation:   s.Elevation,
		InstalledOn: s.InstalledOn.UTC(),
	}
}

func observationRow(o domain.Observation) ObservationRow {
	return ObservationRow{
		StationCode:   o.StationCode,
		ObservedAt:    o.Timestamp.UTC(),
		Temperature:   o.Temperature,
		DewPoint:      o.DewPoint,
		Humidity:      o.Humidity,
		Pressure:      o.Pressure,
		WindSpeed:     o.WindSpeed,
		WindGust:      o.WindGust,
		WindDirection: o.WindDirection,
		Precipitation: o.Precipitation,
		Radiation:     o.Radiation,
	}
}

// Exporter writes Parquet files into a directory. Files are written under a
// temporary name and renamed once complete.
type Exporter struct {
	src    Source
	dir    string
	logger *slog.Logger
}

// NewExporter creates an Exporter writing into dir.
func NewExporter(src Source, dir string, logger *slog.Logger) *Exporter {
	return &Exporter{src: src, dir: dir, logger: logger}
}

// Stations writes stations.parquet and returns its path and row count.
func (e *Exporter) Stations(ctx context.Context) (string, int, error) {
	stations, err := e.src.Stations(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("read stations: %w", err)
	}
	rows := make([]StationRow, len(stations))
	for i, s := range stations {
		rows[i] = stationRow(s)
	}

	path := filepath.Join(e.dir, StationsFile)
	err = writeAtomic(path, func(f *os.File) error {
		w := parquet.NewGenericWriter[StationRow](f)
		if _, err := w.Write(rows); err != nil {
			return err
		}
		return w.Close()
	})
	if err != nil {
		return "", 0, fmt.Errorf("write %s: %w", StationsFile, err)
	}
	e.logger.Info("stations exported", "path", path, "rows", len(rows))
	return path, len(rows), nil
}

// Year writes one year's partition in commit order and returns the path and
// row count.
func (e *Exporter) Year(ctx context.Context, year int) (string, int64, error) {
	name := ObservationsFile(year)
	path := filepath.Join(e.dir, name)
	var total int64
	err := writeAtomic(path, func(f *os.File) error {
		w := parquet.NewGenericWriter[ObservationRow](f)
		buf := make([]ObservationRow, 0, writeChunk)
		flush := func() error {
			if len(buf) == 0 {
				return nil
			}
			if _, err := w.Write(buf); err != nil {
				return err
			}
			total += int64(len(buf))
			buf = buf[:0]
			return nil
		}
		err := e.src.ScanPartition(ctx, year, func(o domain.Observation) error {
			buf = append(buf, observationRow(o))
			if len(buf) == writeChunk {
				return flush()
			}
			return nil
		})
		if err != nil {
			return err
		}
		if err := flush(); err != nil {
			return err
		}
		return w.Close()
	})
	if err != nil {
		return "", 0, fmt.Errorf("write %s: %w", name, err)
	}
	e.logger.Info("partition exported", "year", year, "path", path, "rows", total)
	return path, total, nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
