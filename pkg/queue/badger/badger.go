// Package badger implements queue.Queue on BadgerDB, giving a single
// host a durable queue without an external broker.
//
// Message bodies survive restarts. Visibility leases and delivery
// counts are kept in memory only: after a crash every unacked message
// is redelivered with a reset attempt count, which stays within the
// at-least-once contract.
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/pingmesh/pingmesh/pkg/queue"
)

// Keys are q:<unixnano, big-endian><uuid>, so iteration order is
// enqueue order.
var keyPrefix = []byte("q:")

const defaultVisibility = 30 * time.Second

type message struct {
	id       string
	key      []byte
	body     []byte
	attempts int
}

func (m *message) ID() string    { return m.id }
func (m *message) Body() []byte  { return m.body }
func (m *message) Attempts() int { return m.attempts }

// Config holds BadgerDB queue configuration.
type Config struct {
	// Path to store database files.
	Path string

	// InMemory mode (for testing).
	InMemory bool

	// VisibilityTimeout is how long a received message stays invisible
	// before it is eligible for redelivery. Zero means 30s.
	VisibilityTimeout time.Duration

	// MaxMemoryMB limits BadgerDB memory usage (0 = 48 MB default).
	MaxMemoryMB int64
}

// Queue is a BadgerDB-backed queue.Queue implementation.
type Queue struct {
	db         *badgerdb.DB
	visibility time.Duration

	mu       sync.Mutex
	leases   map[string]time.Time
	attempts map[string]int
	closed   bool

	notify chan struct{}
}

// New opens (or creates) a badger-backed queue.
func New(cfg Config) (*Queue, error) {
	opts := badgerdb.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}
	opts = opts.
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger queue: %w", err)
	}

	visibility := cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = defaultVisibility
	}

	return &Queue{
		db:         db,
		visibility: visibility,
		leases:     make(map[string]time.Time),
		attempts:   make(map[string]int),
		notify:     make(chan struct{}, 1),
	}, nil
}

// Enqueue appends a payload durably.
func (q *Queue) Enqueue(ctx context.Context, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", queue.ErrClosed
	}
	q.mu.Unlock()

	id := uuid.NewString()
	key := makeKey(time.Now(), id)

	err := q.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(key, body)
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue message: %w", err)
	}

	q.signal()
	return id, nil
}

// Receive returns up to max visible messages, blocking up to wait while
// nothing is deliverable.
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]queue.Message, error) {
	deadline := time.Now().Add(wait)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := q.scan(max)
		if err != nil {
			return nil, err
		}
		if len(batch) > 0 {
			return batch, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		// Wake early for new enqueues; cap the sleep so expiring
		// leases are noticed without a dedicated timer per message.
		if remaining > time.Second {
			remaining = time.Second
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Ack deletes the message permanently.
func (q *Queue) Ack(ctx context.Context, msg queue.Message) error {
	m, ok := msg.(*message)
	if !ok {
		return fmt.Errorf("badger queue: foreign message %q", msg.ID())
	}

	err := q.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(m.key)
	})
	if err != nil {
		return fmt.Errorf("failed to ack message %s: %w", m.id, err)
	}

	q.mu.Lock()
	delete(q.leases, m.id)
	delete(q.attempts, m.id)
	q.mu.Unlock()
	return nil
}

// Release drops the message's lease so it is redelivered immediately.
func (q *Queue) Release(ctx context.Context, msg queue.Message) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return queue.ErrClosed
	}
	delete(q.leases, msg.ID())
	q.mu.Unlock()

	q.signal()
	return nil
}

// Close shuts BadgerDB down. Unacked messages are redelivered on the
// next open.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.signal()
	return q.db.Close()
}

// Len counts stored messages, leased ones included.
func (q *Queue) Len() (int, error) {
	count := 0
	err := q.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (q *Queue) scan(max int) ([]queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, queue.ErrClosed
	}

	now := time.Now()
	var batch []queue.Message

	err := q.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchSize = max
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			item := it.Item()
			id := idFromKey(item.Key())
			if id == "" {
				continue
			}
			if expiry, leased := q.leases[id]; leased && now.Before(expiry) {
				continue
			}

			body, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			batch = append(batch, &message{
				id:   id,
				key:  item.KeyCopy(nil),
				body: body,
			})
			if len(batch) >= max {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue: %w", err)
	}

	for _, raw := range batch {
		m := raw.(*message)
		q.leases[m.id] = now.Add(q.visibility)
		q.attempts[m.id]++
		m.attempts = q.attempts[m.id]
	}
	return batch, nil
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func makeKey(ts time.Time, id string) []byte {
	key := make([]byte, 0, len(keyPrefix)+8+len(id))
	key = append(key, keyPrefix...)
	var ord [8]byte
	binary.BigEndian.PutUint64(ord[:], uint64(ts.UnixNano()))
	key = append(key, ord[:]...)
	return append(key, id...)
}

func idFromKey(key []byte) string {
	if !bytes.HasPrefix(key, keyPrefix) || len(key) <= len(keyPrefix)+8 {
		return ""
	}
	return string(key[len(keyPrefix)+8:])
}
