package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// DefaultArchiveBaseURL is where INMET publishes the yearly archives.
const DefaultArchiveBaseURL = "https://portal.inmet.gov.br/uploads/dadoshistoricos/"

// Config holds all pipeline settings, populated from environment variables.
type Config struct {
	// DatabaseURL selects the Postgres store. Empty means the in-memory store.
	DatabaseURL string

	// Archive collection.
	ArchiveBaseURL       string
	ArchiveDir           string // when set, archives are read from {dir}/{year}.zip
	ArchiveFirstYear     int
	WorkDir              string
	CollectTimeout       time.Duration
	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	// Year run tuning.
	Workers            int
	CopyBatchSize      int
	ManifestMaxRejects int

	// Manifest notifications; disabled without brokers.
	KafkaBrokers       []string
	KafkaManifestTopic string

	HTTPAddr        string // empty disables the health/metrics server
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// LoadDotEnv loads variables from an env file without overriding ones
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		ArchiveBaseURL:     sharedcfg.EnvOrDefault("ARCHIVE_BASE_URL", DefaultArchiveBaseURL),
		ArchiveDir:         os.Getenv("ARCHIVE_DIR"),
		WorkDir:            sharedcfg.EnvOrDefault("WORK_DIR", os.TempDir()),
		KafkaManifestTopic: sharedcfg.EnvOrDefault("KAFKA_MANIFEST_TOPIC", "inmet-run-manifests"),
		HTTPAddr:           os.Getenv("HTTP_ADDR"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(brokers)
	}

	ints := []struct {
		key string
		def int
		min int
		dst *int
	}{
		{"ARCHIVE_FIRST_YEAR", 2000, 2000, &cfg.ArchiveFirstYear},
		{"RETRY_MAX_ATTEMPTS", 4, 1, &cfg.RetryMaxAttempts},
		{"WORKERS", runtime.NumCPU(), 1, &cfg.Workers},
		{"COPY_BATCH_SIZE", 5000, 1, &cfg.CopyBatchSize},
		{"MANIFEST_MAX_REJECTS", 1000, 0, &cfg.ManifestMaxRejects},
	}
	for _, v := range ints {
		n, err := parseInt(v.key, v.def, v.min)
		if err != nil {
			return nil, err
		}
		*v.dst = n
	}

	durations := []struct {
		key      string
		def      time.Duration
		positive bool
		dst      *time.Duration
	}{
		{"COLLECT_TIMEOUT", 10 * time.Minute, true, &cfg.CollectTimeout},
		{"RETRY_INITIAL_INTERVAL", 2 * time.Second, false, &cfg.RetryInitialInterval},
		{"RETRY_MAX_INTERVAL", time.Minute, false, &cfg.RetryMaxInterval},
	}
	for _, v := range durations {
		d, err := parseDuration(v.key, v.def, v.positive)
		if err != nil {
			return nil, err
		}
		*v.dst = d
	}

	if cfg.RetryMaxInterval < cfg.RetryInitialInterval {
		return nil, errors.New("RETRY_MAX_INTERVAL must not be shorter than RETRY_INITIAL_INTERVAL")
	}
	if cfg.ArchiveBaseURL == "" && cfg.ArchiveDir == "" {
		return nil, errors.New("one of ARCHIVE_BASE_URL or ARCHIVE_DIR is required")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaManifestTopic == "" {
		return nil, errors.New("KAFKA_MANIFEST_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

func parseInt(key string, def, minimum int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		return 0, fmt.Errorf("invalid %s %q: must be an integer >= %d", key, s, minimum)
	}
	return n, nil
}

func parseDuration(key string, def time.Duration, positive bool) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 || (positive && d == 0) {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return d, nil
}
