// Package memory provides an in-process store with the same partition
// semantics as the Postgres store. It backs local runs without a database
// and the pipeline tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/couchcryptid/inmet-weather-etl/internal/domain"
)

var errTxDone = errors.New("partition transaction already finished")

// Store keeps stations, year partitions and run manifests in memory.
type Store struct {
	mu         sync.RWMutex
	stations   map[string]domain.StationRecord
	partitions map[int][]domain.Observation
	manifests  []domain.RunManifest
	open       map[int]bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		stations:   make(map[string]domain.StationRecord),
		partitions: make(map[int][]domain.Observation),
		open:       make(map[int]bool),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Stations returns every stored station sorted by code.
func (s *Store) Stations(context.Context) ([]domain.StationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.StationRecord, 0, len(s.stations))
	for _, st := range s.stations {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// ScanPartition calls fn for each observation of year in commit order.
func (s *Store) ScanPartition(ctx context.Context, year int, fn func(domain.Observation) error) error {
	s.mu.RLock()
	rows := s.partitions[year]
	s.mu.RUnlock()
	for _, o := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(o); err != nil {
			return err
		}
	}
	return nil
}

// Manifests returns the recorded manifests for year, oldest first. Year 0
// returns all of them.
func (s *Store) Manifests(_ context.Context, year int) ([]domain.RunManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RunManifest
	for _, m := range s.manifests {
		if year == 0 || m.Year == year {
			out = append(out, m)
		}
	}
	return out, nil
}

// BeginPartition starts replacing year. Only one open transaction per year is
// allowed; a second one gets ErrRunInProgress.
func (s *Store) BeginPartition(_ context.Context, year int) (domain.PartitionTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open[year] {
		return nil, fmt.Errorf("partition %d: %w", year, domain.ErrRunInProgress)
	}
	s.open[year] = true
	return &partitionTx{store: s, year: year}, nil
}

type partitionTx struct {
	store *Store
	year  int
	rows  []domain.Observation
	done  bool
}

func (tx *partitionTx) Append(ctx context.Context, obs []domain.Observation) error {
	if tx.done {
		return errTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.rows = append(tx.rows, obs...)
	return nil
}

func (tx *partitionTx) Commit(ctx context.Context, stations []domain.StationRecord, manifest domain.RunManifest) error {
	if tx.done {
		return errTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range stations {
		s.stations[st.Code] = st
	}
	s.partitions[tx.year] = tx.rows
	s.manifests = append(s.manifests, manifest)
	delete(s.open, tx.year)
	tx.done = true
	return nil
}

func (tx *partitionTx) Rollback(context.Context) error {
	if tx.done {
		return nil
	}
	s := tx.store
	s.mu.Lock()
	delete(s.open, tx.year)
	s.mu.Unlock()
	tx.done = true
	tx.rows = nil
	return nil
}
