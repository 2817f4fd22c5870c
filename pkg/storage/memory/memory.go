// Package memory stores ping records in process memory. Data is lost
// on restart. Useful for testing and development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pingmesh/pingmesh/pkg/ping"
	"github.com/pingmesh/pingmesh/pkg/storage"
)

type recordKey struct {
	cell string
	ts   int64
}

// Storage is an in-memory storage.Storage implementation.
type Storage struct {
	mu      sync.RWMutex
	records map[recordKey]ping.Record
}

// New creates an in-memory record table.
func New() *Storage {
	return &Storage{records: make(map[recordKey]ping.Record)}
}

// Put stores a record. Same-key writes overwrite (last write wins).
func (s *Storage) Put(ctx context.Context, rec ping.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[keyOf(rec.Cell, rec.Timestamp)] = rec
	return nil
}

// Get fetches a record by exact key.
func (s *Storage) Get(ctx context.Context, cell string, ts time.Time) (ping.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[keyOf(cell, ts)]
	if !ok {
		return ping.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

// QueryCell returns records in cell with Timestamp >= since.
func (s *Storage) QueryCell(ctx context.Context, cell string, since time.Time) ([]ping.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []ping.Record
	for key, rec := range s.records {
		if key.cell == cell && !rec.Timestamp.Before(since) {
			results = append(results, rec)
		}
	}
	return results, nil
}

// ScanSince returns all records with Timestamp >= since.
func (s *Storage) ScanSince(ctx context.Context, since time.Time) ([]ping.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []ping.Record
	for _, rec := range s.records {
		if !rec.Timestamp.Before(since) {
			results = append(results, rec)
		}
	}
	return results, nil
}

// DeleteBefore removes records older than the cutoff.
func (s *Storage) DeleteBefore(ctx context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, rec := range s.records {
		if rec.Timestamp.Before(before) {
			delete(s.records, key)
		}
	}
	return nil
}

// Stats returns table statistics.
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{TotalRecords: uint64(len(s.records))}
	if len(s.records) == 0 {
		return stats, nil
	}

	cells := make(map[string]bool)
	first := true
	for key, rec := range s.records {
		cells[key.cell] = true
		if first || rec.Timestamp.Before(stats.OldestRecord) {
			stats.OldestRecord = rec.Timestamp
		}
		if first || rec.Timestamp.After(stats.NewestRecord) {
			stats.NewestRecord = rec.Timestamp
		}
		first = false
	}
	stats.TotalCells = uint64(len(cells))

	// Rough size estimate (each record ~150 bytes encoded)
	stats.SizeBytes = uint64(len(s.records)) * 150
	return stats, nil
}

// Close is a no-op for memory storage.
func (s *Storage) Close() error {
	return nil
}

func keyOf(cell string, ts time.Time) recordKey {
	return recordKey{cell: cell, ts: ts.UnixNano()}
}
