package inmet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/couchcryptid/inmet-weather-etl/internal/domain"
	"github.com/couchcryptid/inmet-weather-etl/internal/observability"
)

// Source makes a yearly archive available as a local zip file.
type Source interface {
	Fetch(ctx context.Context, year int) (LocalArchive, error)
}

// LocalArchive is a fetched archive on disk. Temporary archives are removed
// when the Archive built from them is closed.
type LocalArchive struct {
	Path      string
	Temporary bool
}

var (
	errServerError = errors.New("server error")
	errUnexpected  = errors.New("unexpected status code")
)

// HTTPSource downloads {baseURL}{year}.zip into a work directory. Requests
// go through a circuit breaker so a dead portal fails fast across years.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	workDir string
	circuit *gobreaker.CircuitBreaker
	metrics *observability.Metrics
}

// NewHTTPSource creates an HTTP archive source. timeout bounds each download,
// body included. The circuit opens after tripAfter consecutive failures; values
// below 1 use 5.
func NewHTTPSource(baseURL string, timeout time.Duration, workDir string, tripAfter int, metrics *observability.Metrics) *HTTPSource {
	if tripAfter < 1 {
		tripAfter = 5
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	s := &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		workDir: workDir,
		metrics: metrics,
	}
	s.circuit = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "inmet-portal",
		MaxRequests: 1,
		Interval:    10 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(tripAfter)
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			open := 0.0
			if to == gobreaker.StateOpen {
				open = 1
			}
			metrics.CollectorBreakers.WithLabelValues(name).Set(open)
		},
	})
	return s
}

// URL returns the archive location for a year.
func (s *HTTPSource) URL(year int) string {
	return s.baseURL + strconv.Itoa(year) + ".zip"
}

// Fetch downloads the archive. Failures are ErrSourceUnavailable; an open
// circuit is reported as a permanent failure so callers stop retrying.
func (s *HTTPSource) Fetch(ctx context.Context, year int) (LocalArchive, error) {
	result, err := s.circuit.Execute(func() (interface{}, error) {
		return s.download(ctx, year)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return LocalArchive{}, backoff.Permanent(fmt.Errorf("fetch %s: circuit open: %w", s.URL(year), domain.ErrSourceUnavailable))
		}
		return LocalArchive{}, err
	}
	return result.(LocalArchive), nil
}

func (s *HTTPSource) download(ctx context.Context, year int) (LocalArchive, error) {
	url := s.URL(year)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return LocalArchive{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return LocalArchive{}, fmt.Errorf("fetch %s: %w: %w", url, domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return LocalArchive{}, fmt.Errorf("fetch %s: %w: %w: %d", url, domain.ErrSourceUnavailable, errServerError, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return LocalArchive{}, fmt.Errorf("fetch %s: %w: %w: %d", url, domain.ErrSourceUnavailable, errUnexpected, resp.StatusCode)
	}

	f, err := os.CreateTemp(s.workDir, fmt.Sprintf("inmet-%d-*.zip", year))
	if err != nil {
		return LocalArchive{}, fmt.Errorf("create temp archive: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return LocalArchive{}, fmt.Errorf("download %s: %w: %w", url, domain.ErrSourceUnavailable, err)
	}
	s.metrics.ArchiveBytes.Add(float64(n))
	return LocalArchive{Path: f.Name(), Temporary: true}, nil
}

// DirSource reads archives already on disk as {dir}/{year}.zip.
type DirSource struct {
	dir string
}

// NewDirSource creates a source over a local archive directory.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// Fetch returns the local archive path, or ErrSourceUnavailable when it is
// missing.
func (s *DirSource) Fetch(_ context.Context, year int) (LocalArchive, error) {
	path := filepath.Join(s.dir, strconv.Itoa(year)+".zip")
	if _, err := os.Stat(path); err != nil {
		return LocalArchive{}, fmt.Errorf("open %s: %w: %w", path, domain.ErrSourceUnavailable, err)
	}
	return LocalArchive{Path: path}, nil
}
