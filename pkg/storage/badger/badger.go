// Package badger implements storage.Storage using BadgerDB (LSM tree).
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/pingmesh/pingmesh/pkg/ping"
	"github.com/pingmesh/pingmesh/pkg/storage"
)

// Keys are p:<cell>:<unixnano, big-endian>. The cell ID is the key
// prefix, so a cell-filtered query is a prefix iteration and the
// big-endian timestamp keeps records inside a cell time-ordered.
var keyPrefix = []byte("p:")

const keySep = byte(':')

// Storage is a BadgerDB-backed record table.
type Storage struct {
	db *badgerdb.DB
}

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files.
	Path string

	// InMemory mode (for testing).
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = 48 MB
	// default, sized for small self-hosted deployments).
	MaxMemoryMB int64
}

// New creates a BadgerDB storage backend.
func New(cfg Config) (*Storage, error) {
	opts := badgerdb.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Conservative memory limits; BadgerDB's defaults assume far more
	// RAM than this service needs.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumCompactors(2).
		WithValueThreshold(1024).
		WithValueLogFileSize(64 << 20)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Storage{db: db}, nil
}

// Put stores a record. Same-key writes overwrite (last write wins).
func (s *Storage) Put(ctx context.Context, rec ping.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := ping.EncodeRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	err = s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(makeKey(rec.Cell, rec.Timestamp), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Get fetches a record by exact key.
func (s *Storage) Get(ctx context.Context, cell string, ts time.Time) (ping.Record, error) {
	if err := ctx.Err(); err != nil {
		return ping.Record{}, err
	}

	var rec ping.Record
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(makeKey(cell, ts))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = ping.DecodeRecord(val)
			return err
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return ping.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return ping.Record{}, fmt.Errorf("failed to read record: %w", err)
	}
	return rec, nil
}

// QueryCell iterates the cell's key prefix, pruning by the timestamp
// embedded in each key before touching the value.
func (s *Storage) QueryCell(ctx context.Context, cell string, since time.Time) ([]ping.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := cellPrefix(cell)
	var results []ping.Record

	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchSize = 100
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek straight to the cutoff within the cell's prefix.
		start := makeKey(cell, since)
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				rec, err := ping.DecodeRecord(val)
				if err != nil {
					return err
				}
				results = append(results, rec)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query cell %s: %w", cell, err)
	}
	return results, nil
}

// ScanSince walks the whole table, filtering on the key-embedded
// timestamp. Expensive on large tables; documented scalability limit
// of unfiltered congestion queries.
func (s *Storage) ScanSince(ctx context.Context, since time.Time) ([]ping.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var results []ping.Record
	var iterCount int

	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchSize = 100
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			iterCount++
			// Honor cancellation on long scans.
			if iterCount%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			item := it.Item()
			_, ts, ok := parseKey(item.Key())
			if !ok || ts.Before(since) {
				continue
			}

			if err := item.Value(func(val []byte) error {
				rec, err := ping.DecodeRecord(val)
				if err != nil {
					return err
				}
				results = append(results, rec)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	return results, nil
}

// DeleteBefore removes records older than the cutoff.
func (s *Storage) DeleteBefore(ctx context.Context, before time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)

		var keysToDelete [][]byte
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			_, ts, ok := parseKey(it.Item().Key())
			if ok && ts.Before(before) {
				keysToDelete = append(keysToDelete, it.Item().KeyCopy(nil))
			}
		}
		it.Close()

		for _, key := range keysToDelete {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Stats returns table statistics.
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &storage.Stats{}
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		cells := make(map[string]bool)
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			cell, ts, ok := parseKey(it.Item().Key())
			if !ok {
				continue
			}
			stats.TotalRecords++
			cells[cell] = true

			if stats.OldestRecord.IsZero() || ts.Before(stats.OldestRecord) {
				stats.OldestRecord = ts
			}
			if stats.NewestRecord.IsZero() || ts.After(stats.NewestRecord) {
				stats.NewestRecord = ts
			}
		}
		stats.TotalCells = uint64(len(cells))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect stats: %w", err)
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

// Close shuts down BadgerDB cleanly.
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection. Returns an error
// when no GC was needed; callers treat that as informational.
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

func cellPrefix(cell string) []byte {
	prefix := make([]byte, 0, len(keyPrefix)+len(cell)+1)
	prefix = append(prefix, keyPrefix...)
	prefix = append(prefix, cell...)
	return append(prefix, keySep)
}

func makeKey(cell string, ts time.Time) []byte {
	key := cellPrefix(cell)
	var ord [8]byte
	binary.BigEndian.PutUint64(ord[:], uint64(ts.UnixNano()))
	return append(key, ord[:]...)
}

func parseKey(key []byte) (cell string, ts time.Time, ok bool) {
	if !bytes.HasPrefix(key, keyPrefix) || len(key) < len(keyPrefix)+1+8 {
		return "", time.Time{}, false
	}
	body := key[len(keyPrefix):]
	sep := len(body) - 9
	if sep < 0 || body[sep] != keySep {
		return "", time.Time{}, false
	}
	tsNano := binary.BigEndian.Uint64(body[sep+1:])
	return string(body[:sep]), time.Unix(0, int64(tsNano)), true
}
