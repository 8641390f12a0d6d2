package observability

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "info", "json").Info("year committed", "year", 2023)
	assert.Contains(t, buf.String(), `"year":2023`)

	buf.Reset()
	newLogger(&buf, "info", "text").Info("year committed", "year", 2023)
	assert.Contains(t, buf.String(), "year=2023")
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")
	logger.Info("dropped")
	assert.Empty(t, buf.String())
	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestMetrics_RegisterOnFreshRegistry(t *testing.T) {
	m := NewMetricsForTesting()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(m.RowsSeen))
	for _, c := range m.collectors()[1:] {
		require.NoError(t, reg.Register(c))
	}

	m.RowsRejected.WithLabelValues("UnknownStation").Add(2)
	m.RowsSeen.Add(26)
	assert.InDelta(t, 2, testutil.ToFloat64(m.RowsRejected.WithLabelValues("UnknownStation")), 0)
	assert.InDelta(t, 26, testutil.ToFloat64(m.RowsSeen), 0)
}
