// Package queue provides the durable queue abstraction between the
// ingestion API and the worker.
//
// Semantics are at-least-once: a received message stays invisible to
// other receivers for a backend-defined lease, and is redelivered if it
// is neither acked nor released before the lease expires. Consumers
// must tolerate duplicates.
//
// Implementations: memory (testing), badger (embedded durable),
// nsq (broker-backed).
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue: closed")

// Message is one delivery of a queued payload. Attempts counts
// deliveries including this one, so a first delivery reports 1.
type Message interface {
	ID() string
	Body() []byte
	Attempts() int
}

// Queue is the durable append-only queue capability.
type Queue interface {
	// Enqueue appends a payload and returns its message ID.
	Enqueue(ctx context.Context, body []byte) (string, error)

	// Receive returns up to max messages, blocking up to wait if the
	// queue is empty. An empty slice with a nil error means the wait
	// elapsed with nothing to deliver.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)

	// Ack removes a received message permanently.
	Ack(ctx context.Context, msg Message) error

	// Release returns a received message to the queue for redelivery.
	Release(ctx context.Context, msg Message) error

	// Close shuts the queue down. In-flight messages become eligible
	// for redelivery on the next open (durable backends).
	Close() error
}
