package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/inmet-weather-etl/internal/adapter/inmet"
	"github.com/couchcryptid/inmet-weather-etl/internal/adapter/memory"
	"github.com/couchcryptid/inmet-weather-etl/internal/domain"
	"github.com/couchcryptid/inmet-weather-etl/internal/inmetfile"
	"github.com/couchcryptid/inmet-weather-etl/internal/observability"
	"github.com/couchcryptid/inmet-weather-etl/internal/pipeline"
)

// --- fixtures ---

func freezeClock(t *testing.T) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)))
	t.Cleanup(func() { domain.SetClock(nil) })
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	dir     string
	metrics *observability.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	freezeClock(t)
	return &harness{dir: t.TempDir(), metrics: observability.NewMetricsForTesting()}
}

func (h *harness) writeArchive(t *testing.T, year int, files []inmetfile.File, extra ...inmetfile.Entry) {
	t.Helper()
	body, err := inmetfile.Archive(files, extra...)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, strconv.Itoa(year)+".zip"), body, 0o600))
}

func (h *harness) coordinator(store pipeline.Store, opts pipeline.Options) *pipeline.Coordinator {
	collector := inmet.NewCollector(inmet.NewDirSource(h.dir), domain.DefaultFirstYear,
		inmet.RetryPolicy{MaxAttempts: 1}, testLogger(), h.metrics)
	return pipeline.New(collector, store, testLogger(), h.metrics, opts)
}

func generate(year, hours int, stations ...inmetfile.Station) []inmetfile.File {
	return inmetfile.Generate(inmetfile.GenerateOptions{Year: year, Stations: stations, Hours: hours, Seed: 7})
}

// scenario2023 is two stations with twelve hours each, plus a duplicate of
// the first A001 row and an A652 row with humidity 150.
func scenario2023() []inmetfile.File {
	files := generate(2023, 12, inmetfile.SampleStations[0], inmetfile.SampleStations[1])

	dup := files[0].Rows[0]
	dup.Values = maps.Clone(dup.Values)
	dup.Values[domain.FieldTemperature] = "1,0"
	files[0].Rows = append(files[0].Rows, dup)

	humid := inmetfile.Row{
		Time:   domain.YearStart(2023).Add(12 * time.Hour),
		Values: maps.Clone(files[1].Rows[11].Values),
	}
	humid.Values[domain.FieldHumidity] = "150"
	files[1].Rows = append(files[1].Rows, humid)
	return files
}

func partition(t *testing.T, store *memory.Store, year int) []domain.Observation {
	t.Helper()
	var out []domain.Observation
	require.NoError(t, store.ScanPartition(context.Background(), year, func(o domain.Observation) error {
		out = append(out, o)
		return nil
	}))
	return out
}

// --- fault injection ---

type faultyStore struct {
	*memory.Store
	failAppendAfter int
	failCommit      bool
	onAppend        func()
	stationsGate    chan struct{}
	entered         chan struct{}
	pingErr         error
}

func (s *faultyStore) Ping(ctx context.Context) error {
	if s.pingErr != nil {
		return s.pingErr
	}
	return s.Store.Ping(ctx)
}

func (s *faultyStore) Stations(ctx context.Context) ([]domain.StationRecord, error) {
	if s.stationsGate != nil {
		close(s.entered)
		<-s.stationsGate
	}
	return s.Store.Stations(ctx)
}

func (s *faultyStore) BeginPartition(ctx context.Context, year int) (domain.PartitionTx, error) {
	tx, err := s.Store.BeginPartition(ctx, year)
	if err != nil {
		return nil, err
	}
	return &faultyTx{PartitionTx: tx, store: s}, nil
}

type faultyTx struct {
	domain.PartitionTx
	store   *faultyStore
	appends int
}

func (tx *faultyTx) Append(ctx context.Context, obs []domain.Observation) error {
	tx.appends++
	if tx.store.onAppend != nil {
		tx.store.onAppend()
	}
	if tx.store.failAppendAfter > 0 && tx.appends > tx.store.failAppendAfter {
		return errors.New("disk full")
	}
	return tx.PartitionTx.Append(ctx, obs)
}

func (tx *faultyTx) Commit(ctx context.Context, stations []domain.StationRecord, m domain.RunManifest) error {
	if tx.store.failCommit {
		return errors.New("connection reset")
	}
	return tx.PartitionTx.Commit(ctx, stations, m)
}

type recordingPublisher struct {
	mu        sync.Mutex
	manifests []domain.RunManifest
	err       error
}

func (p *recordingPublisher) PublishManifest(_ context.Context, m domain.RunManifest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.manifests = append(p.manifests, m)
	return nil
}

// --- tests ---

func TestCoordinator_Run_TwoStationScenario(t *testing.T) {
	h := newHarness(t)
	files := scenario2023()
	h.writeArchive(t, 2023, files)
	store := memory.New()

	results := h.coordinator(store, pipeline.Options{Workers: 2, BatchSize: 5}).Run(context.Background(), []int{2023})
	require.Len(t, results, 1)
	res := results[0]
	require.NoError(t, res.Err)
	assert.Equal(t, pipeline.StatusSucceeded, res.Status)
	assert.Equal(t, int64(24), res.Accepted)
	assert.Equal(t, int64(2), res.Rejected)

	m := res.Manifest
	require.NotNil(t, m)
	assert.Equal(t, 2023, m.Year)
	assert.Equal(t, int64(26), m.RowsSeen)
	assert.Equal(t, 2, m.Stations)
	assert.Equal(t, 2, m.SourceFiles)
	assert.Equal(t, map[domain.RejectReason]int{
		domain.ReasonDuplicateObservation:  1,
		domain.ReasonMeasurementOutOfRange: 1,
	}, m.ByReason)
	require.Len(t, m.Rejects, 2)
	assert.Equal(t, "A001", m.Rejects[0].StationCode)
	assert.Contains(t, m.Rejects[1].Detail, "humidity=150")
	assert.False(t, m.Truncated)

	obs := partition(t, store, 2023)
	require.Len(t, obs, 24)
	assert.Equal(t, domain.ChecksumObservations(obs), m.Checksum)

	first := obs[0]
	assert.Equal(t, "A001", first.StationCode)
	want, err := strconv.ParseFloat(strings.Replace(files[0].Rows[0].Values[domain.FieldTemperature], ",", ".", 1), 64)
	require.NoError(t, err)
	require.NotNil(t, first.Temperature)
	assert.InDelta(t, want, *first.Temperature, 1e-9, "first occurrence of a duplicate wins")

	stations, err := store.Stations(context.Background())
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.Equal(t, "A001", stations[0].Code)
	assert.Equal(t, "A652", stations[1].Code)

	assert.InDelta(t, 26, testutil.ToFloat64(h.metrics.RowsSeen), 0)
	assert.InDelta(t, 24, testutil.ToFloat64(h.metrics.RowsAccepted), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.RowsRejected.WithLabelValues(string(domain.ReasonDuplicateObservation))), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Runs.WithLabelValues("succeeded")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(h.metrics.PipelineRunning), 0)
}

func TestCoordinator_Run_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.writeArchive(t, 2023, scenario2023())
	store := memory.New()
	c := h.coordinator(store, pipeline.Options{Workers: 3, BatchSize: 4})

	first := c.Run(context.Background(), []int{2023})[0]
	require.NoError(t, first.Err)
	before := partition(t, store, 2023)

	second := c.Run(context.Background(), []int{2023})[0]
	require.NoError(t, second.Err)
	after := partition(t, store, 2023)

	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("partition changed on rerun (-first +second):\n%s", diff)
	}
	assert.Equal(t, first.Manifest.Checksum, second.Manifest.Checksum)
	assert.NotEqual(t, first.Manifest.RunID, second.Manifest.RunID)

	manifests, err := store.Manifests(context.Background(), 2023)
	require.NoError(t, err)
	assert.Len(t, manifests, 2)
}

func TestCoordinator_Run_WorkerCountDoesNotChangeResult(t *testing.T) {
	h := newHarness(t)
	h.writeArchive(t, 2021, generate(2021, 48, inmetfile.SampleStations...))

	var checksums []string
	for _, workers := range []int{1, 2, 8} {
		res := h.coordinator(memory.New(), pipeline.Options{Workers: workers, BatchSize: 17}).Run(context.Background(), []int{2021})[0]
		require.NoError(t, res.Err)
		assert.Equal(t, int64(5*48), res.Accepted)
		checksums = append(checksums, res.Manifest.Checksum)
	}
	assert.Equal(t, checksums[0], checksums[1])
	assert.Equal(t, checksums[0], checksums[2])
}

func TestCoordinator_Run_LegacyLayout(t *testing.T) {
	h := newHarness(t)
	h.writeArchive(t, 2010, generate(2010, 24, inmetfile.SampleStations[0], inmetfile.SampleStations[2]))
	store := memory.New()

	res := h.coordinator(store, pipeline.Options{}).Run(context.Background(), []int{2010})[0]
	require.NoError(t, res.Err)
	assert.Equal(t, int64(48), res.Accepted)
	assert.Zero(t, res.Rejected)
	assert.Len(t, partition(t, store, 2010), 48)
}

func TestCoordinator_Run_WriteFailureKeepsPriorPartition(t *testing.T) {
	tests := []struct {
		name  string
		store func(*memory.Store) *faultyStore
	}{
		{"append fails", func(m *memory.Store) *faultyStore { return &faultyStore{Store: m, failAppendAfter: 1} }},
		{"commit fails", func(m *memory.Store) *faultyStore { return &faultyStore{Store: m, failCommit: true} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.writeArchive(t, 2023, scenario2023())
			mem := memory.New()

			ok := h.coordinator(mem, pipeline.Options{BatchSize: 5}).Run(context.Background(), []int{2023})[0]
			require.NoError(t, ok.Err)
			before := partition(t, mem, 2023)

			h.writeArchive(t, 2023, generate(2023, 30, inmetfile.SampleStations[:3]...))
			res := h.coordinator(tt.store(mem), pipeline.Options{BatchSize: 5}).Run(context.Background(), []int{2023})[0]
			assert.Equal(t, pipeline.StatusFailed, res.Status)
			require.ErrorIs(t, res.Err, domain.ErrPartitionWriteFailed)
			assert.Nil(t, res.Manifest)

			assert.Equal(t, before, partition(t, mem, 2023))
			manifests, err := mem.Manifests(context.Background(), 2023)
			require.NoError(t, err)
			assert.Len(t, manifests, 1)
			stations, err := mem.Stations(context.Background())
			require.NoError(t, err)
			assert.Len(t, stations, 2, "stations from the failed run are not committed")

			// The year is usable again after the failure.
			again := h.coordinator(mem, pipeline.Options{}).Run(context.Background(), []int{2023})[0]
			require.NoError(t, again.Err)
			assert.Equal(t, int64(90), again.Accepted)
		})
	}
}

func TestCoordinator_Run_UnknownStationIsIsolated(t *testing.T) {
	h := newHarness(t)
	stray := inmetfile.SampleStations[2]
	stray.Code = "Z99"
	files := generate(2023, 6, inmetfile.SampleStations[0], stray)
	h.writeArchive(t, 2023, files)
	store := memory.New()

	res := h.coordinator(store, pipeline.Options{}).Run(context.Background(), []int{2023})[0]
	require.NoError(t, res.Err)
	assert.Equal(t, int64(6), res.Accepted)
	assert.Equal(t, int64(6), res.Rejected)
	assert.Equal(t, map[domain.RejectReason]int{domain.ReasonUnknownStation: 6}, res.Manifest.ByReason)
	assert.Equal(t, 1, res.Manifest.Stations)

	for _, o := range partition(t, store, 2023) {
		assert.Equal(t, "A001", o.StationCode)
	}
}

func TestCoordinator_Run_KnownStationWithBadHeader(t *testing.T) {
	h := newHarness(t)
	store := memory.New()

	h.writeArchive(t, 2022, generate(2022, 3, inmetfile.SampleStations[0]))
	require.NoError(t, h.coordinator(store, pipeline.Options{}).Run(context.Background(), []int{2022})[0].Err)

	files := generate(2023, 3, inmetfile.SampleStations[0])
	files[0].Station.Latitude = 120
	h.writeArchive(t, 2023, files)

	res := h.coordinator(store, pipeline.Options{}).Run(context.Background(), []int{2023})[0]
	require.NoError(t, res.Err)
	assert.Equal(t, int64(3), res.Accepted, "rows still load against the stored station")

	stations, err := store.Stations(context.Background())
	require.NoError(t, err)
	require.Len(t, stations, 1)
	assert.InDelta(t, inmetfile.SampleStations[0].Latitude, stations[0].Latitude, 1e-6)
}

func TestCoordinator_Run_CorruptEntry(t *testing.T) {
	h := newHarness(t)
	h.writeArchive(t, 2023, generate(2023, 4, inmetfile.SampleStations[0]),
		inmetfile.Entry{Name: "INMET_S_RS_A801_PORTO_ALEGRE_01-01-2023_A_31-12-2023.CSV", Content: []byte("REGIAO:;S\n"), Corrupt: true})

	res := h.coordinator(memory.New(), pipeline.Options{}).Run(context.Background(), []int{2023})[0]
	require.NoError(t, res.Err)
	assert.Equal(t, int64(4), res.Accepted)
	assert.Equal(t, int64(1), res.Rejected)
	require.Len(t, res.Manifest.Rejects, 1)
	assert.Equal(t, domain.ReasonCorruptArchive, res.Manifest.Rejects[0].Reason)
	assert.Zero(t, res.Manifest.Rejects[0].Line)
	assert.Equal(t, int64(5), res.Manifest.RowsSeen)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.FilesProcessed.WithLabelValues("corrupt")), 0)
}

func TestCoordinator_Run_TruncatedEntryIsRejected(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{name: "empty entry", content: nil},
		{name: "station header only", content: []byte("REGIAO:;S\nUF:;RS\nESTACAO:;TRUNCATED\nCODIGO (WMO):;A899\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			const name = "INMET_S_RS_A899_TRUNCATED_01-01-2023_A_31-12-2023.CSV"
			h.writeArchive(t, 2023, generate(2023, 24, inmetfile.SampleStations[0], inmetfile.SampleStations[1]),
				inmetfile.Entry{Name: name, Content: tt.content})
			store := memory.New()

			res := h.coordinator(store, pipeline.Options{}).Run(context.Background(), []int{2023})[0]
			require.NoError(t, res.Err)
			assert.Equal(t, pipeline.StatusSucceeded, res.Status)
			assert.Equal(t, int64(48), res.Accepted)
			assert.Equal(t, int64(1), res.Rejected)
			assert.Equal(t, int64(49), res.Manifest.RowsSeen)
			require.Len(t, res.Manifest.Rejects, 1)
			assert.Equal(t, domain.ReasonCorruptArchive, res.Manifest.Rejects[0].Reason)
			assert.Equal(t, name, res.Manifest.Rejects[0].File)
			assert.Contains(t, res.Manifest.Rejects[0].Detail, "no column header")
			assert.Len(t, partition(t, store, 2023), 48)
			assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.FilesProcessed.WithLabelValues("corrupt")), 0)
		})
	}
}

func TestCoordinator_Run_FailureIsolation(t *testing.T) {
	h := newHarness(t)
	h.writeArchive(t, 2022, generate(2022, 2, inmetfile.SampleStations[0]),
		inmetfile.Entry{Name: "INMET_X.CSV", Content: []byte("FOO;BAR\n1;2\n")})
	h.writeArchive(t, 2023, generate(2023, 2, inmetfile.SampleStations[0]))
	store := memory.New()

	results := h.coordinator(store, pipeline.Options{}).Run(context.Background(), []int{2022, 2021, 2023})
	require.Len(t, results, 3)

	assert.Equal(t, pipeline.StatusFailed, results[0].Status)
	require.ErrorIs(t, results[0].Err, domain.ErrUnrecognizedLayout)
	assert.Equal(t, pipeline.StatusFailed, results[1].Status)
	require.ErrorIs(t, results[1].Err, domain.ErrSourceUnavailable)
	assert.Equal(t, pipeline.StatusSucceeded, results[2].Status)

	assert.Empty(t, partition(t, store, 2022))
	assert.Len(t, partition(t, store, 2023), 2)
	assert.InDelta(t, 2, testutil.ToFloat64(h.metrics.Runs.WithLabelValues("failed")), 0)
}

func TestCoordinator_Run_UnsupportedYear(t *testing.T) {
	h := newHarness(t)
	results := h.coordinator(memory.New(), pipeline.Options{}).Run(context.Background(), []int{1999, 2031})
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, pipeline.StatusFailed, res.Status)
		require.ErrorIs(t, res.Err, domain.ErrUnsupportedYear)
	}
}

func TestCoordinator_Run_DropsRepeatedYears(t *testing.T) {
	h := newHarness(t)
	h.writeArchive(t, 2023, generate(2023, 1, inmetfile.SampleStations[0]))
	h.writeArchive(t, 2022, generate(2022, 1, inmetfile.SampleStations[0]))

	results := h.coordinator(memory.New(), pipeline.Options{}).Run(context.Background(), []int{2023, 2022, 2023})
	require.Len(t, results, 2)
	assert.Equal(t, 2023, results[0].Year)
	assert.Equal(t, 2022, results[1].Year)
}

func TestCoordinator_Run_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t)
	h.writeArchive(t, 2023, generate(2023, 1, inmetfile.SampleStations[0]))
	store := memory.New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := h.coordinator(store, pipeline.Options{}).Run(ctx, []int{2023, 2022})
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, pipeline.StatusCancelled, res.Status)
		require.ErrorIs(t, res.Err, context.Canceled)
	}
	manifests, err := store.Manifests(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, manifests)
}

func TestCoordinator_Run_CancelledMidYear(t *testing.T) {
	h := newHarness(t)
	h.writeArchive(t, 2023, generate(2023, 20, inmetfile.SampleStations[:2]...))
	h.writeArchive(t, 2022, generate(2022, 20, inmetfile.SampleStations[:2]...))
	mem := memory.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &faultyStore{Store: mem, onAppend: cancel}

	results := h.coordinator(store, pipeline.Options{BatchSize: 10}).Run(ctx, []int{2023, 2022})
	require.Len(t, results, 2)
	assert.Equal(t, pipeline.StatusCancelled, results[0].Status)
	assert.NotErrorIs(t, results[0].Err, domain.ErrPartitionWriteFailed)
	assert.Equal(t, pipeline.StatusCancelled, results[1].Status)

	assert.Empty(t, partition(t, mem, 2023))
	tx, err := mem.BeginPartition(context.Background(), 2023)
	require.NoError(t, err, "cancelled run released the partition")
	require.NoError(t, tx.Rollback(context.Background()))
}

func TestCoordinator_RunYear_InProgress(t *testing.T) {
	h := newHarness(t)
	h.writeArchive(t, 2023, generate(2023, 2, inmetfile.SampleStations[0]))

	t.Run("same process", func(t *testing.T) {
		store := &faultyStore{Store: memory.New(), stationsGate: make(chan struct{}), entered: make(chan struct{})}
		c := h.coordinator(store, pipeline.Options{})

		done := make(chan pipeline.RunResult)
		go func() { done <- c.RunYear(context.Background(), 2023) }()
		<-store.entered

		second := c.RunYear(context.Background(), 2023)
		assert.Equal(t, pipeline.StatusFailed, second.Status)
		require.ErrorIs(t, second.Err, domain.ErrRunInProgress)

		close(store.stationsGate)
		first := <-done
		require.NoError(t, first.Err)
	})

	t.Run("store lock held elsewhere", func(t *testing.T) {
		store := memory.New()
		tx, err := store.BeginPartition(context.Background(), 2023)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback(context.Background()) }()

		res := h.coordinator(store, pipeline.Options{}).RunYear(context.Background(), 2023)
		assert.Equal(t, pipeline.StatusFailed, res.Status)
		require.ErrorIs(t, res.Err, domain.ErrRunInProgress)
		assert.NotErrorIs(t, res.Err, domain.ErrPartitionWriteFailed)
	})
}

func TestCoordinator_ManifestRejectCap(t *testing.T) {
	h := newHarness(t)
	h.writeArchive(t, 2023, scenario2023())

	res := h.coordinator(memory.New(), pipeline.Options{MaxRejects: 1}).Run(context.Background(), []int{2023})[0]
	require.NoError(t, res.Err)
	assert.Equal(t, int64(2), res.Manifest.Rejected)
	assert.Len(t, res.Manifest.Rejects, 1)
	assert.True(t, res.Manifest.Truncated)
}

func TestCoordinator_PublishesManifest(t *testing.T) {
	h := newHarness(t)
	h.writeArchive(t, 2023, generate(2023, 2, inmetfile.SampleStations[0]))

	pub := &recordingPublisher{}
	res := h.coordinator(memory.New(), pipeline.Options{Publisher: pub}).Run(context.Background(), []int{2023})[0]
	require.NoError(t, res.Err)
	require.Len(t, pub.manifests, 1)
	assert.Equal(t, res.Manifest.RunID, pub.manifests[0].RunID)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.ManifestsPublished.WithLabelValues("success")), 0)

	failing := &recordingPublisher{err: errors.New("broker down")}
	res = h.coordinator(memory.New(), pipeline.Options{Publisher: failing}).Run(context.Background(), []int{2023})[0]
	require.NoError(t, res.Err, "publishing is best effort")
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.ManifestsPublished.WithLabelValues("error")), 0)
}

func TestCoordinator_ListYears(t *testing.T) {
	h := newHarness(t)
	years := h.coordinator(memory.New(), pipeline.Options{}).ListYears()
	require.NotEmpty(t, years)
	assert.Equal(t, 2000, years[0])
	assert.Equal(t, 2024, years[len(years)-1])
	assert.Len(t, years, 25)
}

func TestCoordinator_CheckReadiness(t *testing.T) {
	h := newHarness(t)
	store := &faultyStore{Store: memory.New()}
	c := h.coordinator(store, pipeline.Options{})
	require.NoError(t, c.CheckReadiness(context.Background()))

	store.pingErr = errors.New("connection refused")
	err := c.CheckReadiness(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unreachable")
}
