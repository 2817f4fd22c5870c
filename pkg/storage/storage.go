// Package storage provides the ping record table abstraction: a store
// keyed by (spatial cell, event timestamp) supporting point lookup,
// per-cell range queries, and full scans with a time filter.
//
// Implementations: memory (testing), badger (production).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pingmesh/pingmesh/pkg/ping"
)

// ErrNotFound is returned by Get when no record has the given key.
var ErrNotFound = errors.New("storage: record not found")

// Storage is the record table capability.
//
// The primary key is (Cell, Timestamp). Two pings landing in the same
// cell with the identical timestamp collide and the later write wins;
// nanosecond timestamps make that vanishingly rare but it is a known
// limitation, not an error.
type Storage interface {
	// Put stores a record, overwriting any record with the same key.
	Put(ctx context.Context, rec ping.Record) error

	// Get fetches the record with the exact (cell, timestamp) key.
	Get(ctx context.Context, cell string, ts time.Time) (ping.Record, error)

	// QueryCell returns records in one cell with Timestamp >= since.
	// Results come back in no particular order.
	QueryCell(ctx context.Context, cell string, since time.Time) ([]ping.Record, error)

	// ScanSince returns all records with Timestamp >= since. This is a
	// full-table scan; callers should prefer QueryCell when they have
	// a cell filter.
	ScanSince(ctx context.Context, since time.Time) ([]ping.Record, error)

	// DeleteBefore removes records with Timestamp < before. The
	// optional retention sweep is its only caller.
	DeleteBefore(ctx context.Context, before time.Time) error

	// Stats returns table statistics.
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage.
	Close() error
}

// Stats provides table health and usage info.
type Stats struct {
	// Total records stored
	TotalRecords uint64

	// Distinct spatial cells with at least one record
	TotalCells uint64

	// Storage size in bytes (backend estimate)
	SizeBytes uint64

	// Oldest and newest event timestamps
	OldestRecord time.Time
	NewestRecord time.Time
}
