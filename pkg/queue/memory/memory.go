// Package memory implements queue.Queue in process memory. Data is
// lost on restart. Useful for testing and development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pingmesh/pingmesh/pkg/queue"
)

type message struct {
	id       string
	body     []byte
	attempts int
	inflight bool
}

func (m *message) ID() string    { return m.id }
func (m *message) Body() []byte  { return m.body }
func (m *message) Attempts() int { return m.attempts }

// Queue is an in-memory queue.Queue implementation.
type Queue struct {
	mu       sync.Mutex
	messages []*message
	notify   chan struct{}
	closed   bool
}

// New creates an empty in-memory queue.
func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Enqueue appends a payload.
func (q *Queue) Enqueue(ctx context.Context, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", queue.ErrClosed
	}

	msg := &message{id: uuid.NewString(), body: append([]byte(nil), body...)}
	q.messages = append(q.messages, msg)
	q.signal()
	return msg.id, nil
}

// Receive returns up to max visible messages, blocking up to wait while
// the queue is empty.
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]queue.Message, error) {
	deadline := time.Now().Add(wait)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, closed := q.take(max)
		if closed {
			return nil, queue.ErrClosed
		}
		if len(batch) > 0 {
			return batch, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
			return nil, nil
		}
	}
}

// Ack removes the message permanently.
func (q *Queue) Ack(ctx context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}

	for i, m := range q.messages {
		if m.id == msg.ID() {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return nil
		}
	}
	return nil
}

// Release makes the message visible for redelivery.
func (q *Queue) Release(ctx context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}

	for _, m := range q.messages {
		if m.id == msg.ID() {
			m.inflight = false
			q.signal()
			return nil
		}
	}
	return nil
}

// Close shuts the queue down.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.signal()
	return nil
}

// Len reports how many messages are held, in-flight included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func (q *Queue) take(max int) ([]queue.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, true
	}

	var batch []queue.Message
	for _, m := range q.messages {
		if m.inflight {
			continue
		}
		m.inflight = true
		m.attempts++
		batch = append(batch, m)
		if len(batch) >= max {
			break
		}
	}
	return batch, false
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
