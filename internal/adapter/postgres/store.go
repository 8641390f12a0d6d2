// Package postgres is the production store: stations, year-partitioned
// observations and run manifests in PostgreSQL, accessed through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/inmet-weather-etl/internal/domain"
)

// Store implements the pipeline store on a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks the database is reachable, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	s.logger.Info("schema migrated", "statements", len(migrations))
	return nil
}

// Stations returns every stored station sorted by code.
func (s *Store) Stations(ctx context.Context) ([]domain.StationRecord, error) {
	rows, err := s.pool.Query(ctx, selectStations)
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.StationRecord, error) {
		var st domain.StationRecord
		err := row.Scan(&st.Code, &st.Name, &st.Region, &st.State, &st.Latitude, &st.Longitude, &st.Elevation, &st.InstalledOn)
		st.InstalledOn = st.InstalledOn.UTC()
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan stations: %w", err)
	}
	return out, nil
}

// ScanPartition calls fn for each observation of year in commit order.
func (s *Store) ScanPartition(ctx context.Context, year int, fn func(domain.Observation) error) error {
	rows, err := s.pool.Query(ctx, selectPartition, year)
	if err != nil {
		return fmt.Errorf("query partition %d: %w", year, err)
	}
	defer rows.Close()

	for rows.Next() {
		var o domain.Observation
		if err := rows.Scan(&o.StationCode, &o.Timestamp,
			&o.Temperature, &o.DewPoint, &o.Humidity, &o.Pressure,
			&o.WindSpeed, &o.WindGust, &o.WindDirection, &o.Precipitation, &o.Radiation); err != nil {
			return fmt.Errorf("scan observation: %w", err)
		}
		o.Timestamp = o.Timestamp.UTC()
		if err := fn(o); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Manifests returns the manifests for year, oldest first. Year 0 returns all.
func (s *Store) Manifests(ctx context.Context, year int) ([]domain.RunManifest, error) {
	rows, err := s.pool.Query(ctx, selectManifests, year)
	if err != nil {
		return nil, fmt.Errorf("query manifests: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RunManifest, error) {
		var (
			m        domain.RunManifest
			runID    uuid.UUID
			byReason []byte
			rejects  []byte
		)
		if err := row.Scan(&runID, &m.Year, &m.StartedAt, &m.FinishedAt, &m.RowsSeen, &m.Accepted, &m.Rejected,
			&byReason, &m.Checksum, &m.Stations, &m.SourceFiles, &rejects, &m.Truncated); err != nil {
			return m, err
		}
		m.RunID = runID.String()
		m.StartedAt, m.FinishedAt = m.StartedAt.UTC(), m.FinishedAt.UTC()
		if err := json.Unmarshal(byReason, &m.ByReason); err != nil {
			return m, fmt.Errorf("decode by_reason: %w", err)
		}
		if err := json.Unmarshal(rejects, &m.Rejects); err != nil {
			return m, fmt.Errorf("decode rejects: %w", err)
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan manifests: %w", err)
	}
	return out, nil
}

// BeginPartition opens the transaction that replaces year. It takes a
// transaction-scoped advisory lock on the year, so a concurrent run from
// another process gets ErrRunInProgress, and clears the year's rows; other
// sessions keep seeing the old partition until commit.
func (s *Store) BeginPartition(ctx context.Context, year int) (domain.PartitionTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin partition %d: %w", year, err)
	}

	var locked bool
	if err := tx.QueryRow(ctx, tryPartitionLock, int32(partitionLockClass), int32(year)).Scan(&locked); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("lock partition %d: %w", year, err)
	}
	if !locked {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("partition %d locked by another session: %w", year, domain.ErrRunInProgress)
	}

	tag, err := tx.Exec(ctx, deletePartition, year)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("clear partition %d: %w", year, err)
	}
	s.logger.Debug("partition opened", "year", year, "replaced_rows", tag.RowsAffected())

	return &partitionTx{tx: tx, year: year}, nil
}

type partitionTx struct {
	tx   pgx.Tx
	year int
	seq  int32
}

// Append copies a batch of observations into the open partition.
func (p *partitionTx) Append(ctx context.Context, obs []domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	rows := make([][]any, len(obs))
	for i, o := range obs {
		p.seq++
		rows[i] = observationRow(p.year, p.seq, o)
	}
	n, err := p.tx.CopyFrom(ctx, pgx.Identifier{"observations"}, observationColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy observations: %w", err)
	}
	if int(n) != len(obs) {
		return fmt.Errorf("copy observations: wrote %d of %d rows", n, len(obs))
	}
	return nil
}

// Commit upserts stations, records the manifest and commits the partition.
func (p *partitionTx) Commit(ctx context.Context, stations []domain.StationRecord, manifest domain.RunManifest) error {
	batch := &pgx.Batch{}
	for _, st := range stations {
		batch.Queue(upsertStation, st.Code, st.Name, st.Region, st.State,
			st.Latitude, st.Longitude, st.Elevation, st.InstalledOn)
	}
	if err := p.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert stations: %w", err)
	}
	if err := p.writeManifest(ctx, manifest); err != nil {
		return err
	}
	if err := p.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit partition %d: %w", p.year, err)
	}
	return nil
}

func (p *partitionTx) writeManifest(ctx context.Context, m domain.RunManifest) error {
	runID, err := uuid.Parse(m.RunID)
	if err != nil {
		return fmt.Errorf("manifest run id %q: %w", m.RunID, err)
	}
	byReason, err := json.Marshal(m.ByReason)
	if err != nil {
		return fmt.Errorf("encode by_reason: %w", err)
	}
	rejects := m.Rejects
	if rejects == nil {
		rejects = []domain.RejectRecord{}
	}
	rejectsJSON, err := json.Marshal(rejects)
	if err != nil {
		return fmt.Errorf("encode rejects: %w", err)
	}
	if _, err := p.tx.Exec(ctx, insertManifest, runID, m.Year, m.StartedAt, m.FinishedAt,
		m.RowsSeen, m.Accepted, m.Rejected, byReason, m.Checksum, m.Stations, m.SourceFiles,
		rejectsJSON, m.Truncated); err != nil {
		return fmt.Errorf("insert manifest: %w", err)
	}
	return nil
}

// Rollback abandons the partition; the previous one stays in place.
func (p *partitionTx) Rollback(ctx context.Context) error {
	err := p.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func observationRow(year int, seq int32, o domain.Observation) []any {
	return []any{
		int16(year), seq, o.StationCode, o.Timestamp.UTC(),
		o.Temperature, o.DewPoint, o.Humidity, o.Pressure,
		o.WindSpeed, o.WindGust, o.WindDirection, o.Precipitation, o.Radiation,
	}
}
