package badger

import (
	"context"
	"os"
	"testing"
	"time"
)

func newTestQueue(t *testing.T, visibility time.Duration) *Queue {
	t.Helper()
	q, err := New(Config{InMemory: true, VisibilityTimeout: visibility})
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestBadgerQueue_EnqueueReceiveAck(t *testing.T) {
	q := newTestQueue(t, time.Minute)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, []byte("payload"))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected non-empty message ID")
	}

	msgs, err := q.Receive(ctx, 10, time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if string(msgs[0].Body()) != "payload" {
		t.Errorf("Body mismatch: %q", msgs[0].Body())
	}
	if msgs[0].ID() != id {
		t.Errorf("ID mismatch: %s != %s", msgs[0].ID(), id)
	}

	if err := q.Ack(ctx, msgs[0]); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	n, err := q.Len()
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected empty queue after ack, got %d", n)
	}
}

func TestBadgerQueue_OrderAndBatch(t *testing.T) {
	q := newTestQueue(t, time.Minute)
	ctx := context.Background()

	for _, body := range []string{"a", "b", "c"} {
		if _, err := q.Enqueue(ctx, []byte(body)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	msgs, err := q.Receive(ctx, 2, time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if string(msgs[0].Body()) != "a" || string(msgs[1].Body()) != "b" {
		t.Errorf("Expected enqueue order, got %q then %q", msgs[0].Body(), msgs[1].Body())
	}
}

func TestBadgerQueue_LeaseExpiryRedelivers(t *testing.T) {
	q := newTestQueue(t, 50*time.Millisecond)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, []byte("x")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	first, err := q.Receive(ctx, 1, time.Second)
	if err != nil || len(first) != 1 {
		t.Fatalf("First receive: %v, %d messages", err, len(first))
	}
	if first[0].Attempts() != 1 {
		t.Errorf("Expected attempts=1, got %d", first[0].Attempts())
	}

	// Leased message is invisible until the lease runs out.
	hidden, err := q.Receive(ctx, 1, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(hidden) != 0 {
		t.Fatal("Expected leased message to be invisible")
	}

	redelivered, err := q.Receive(ctx, 1, 2*time.Second)
	if err != nil {
		t.Fatalf("Receive after expiry failed: %v", err)
	}
	if len(redelivered) != 1 {
		t.Fatal("Expected redelivery after lease expiry")
	}
	if redelivered[0].Attempts() != 2 {
		t.Errorf("Expected attempts=2 on redelivery, got %d", redelivered[0].Attempts())
	}
}

func TestBadgerQueue_ReleaseRedeliversImmediately(t *testing.T) {
	q := newTestQueue(t, time.Minute)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, []byte("x")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	first, _ := q.Receive(ctx, 1, time.Second)
	if err := q.Release(ctx, first[0]); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	second, err := q.Receive(ctx, 1, time.Second)
	if err != nil {
		t.Fatalf("Receive after release failed: %v", err)
	}
	if len(second) != 1 {
		t.Fatal("Expected redelivery after release")
	}
	if second[0].Attempts() != 2 {
		t.Errorf("Expected attempts=2, got %d", second[0].Attempts())
	}
}

func TestBadgerQueue_Persistence(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "badger-queue-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	ctx := context.Background()

	{
		q, err := New(Config{Path: tmpDir})
		if err != nil {
			t.Fatalf("Failed to create queue: %v", err)
		}
		if _, err := q.Enqueue(ctx, []byte("survives")); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		if err := q.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	q, err := New(Config{Path: tmpDir})
	if err != nil {
		t.Fatalf("Failed to reopen queue: %v", err)
	}
	defer q.Close()

	msgs, err := q.Receive(ctx, 1, time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(msgs) != 1 || string(msgs[0].Body()) != "survives" {
		t.Fatalf("Expected the persisted message back, got %d messages", len(msgs))
	}
}

func TestBadgerQueue_EmptyTimesOut(t *testing.T) {
	q := newTestQueue(t, time.Minute)

	start := time.Now()
	msgs, err := q.Receive(context.Background(), 1, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Expected empty batch, got %d", len(msgs))
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("Receive returned before the wait elapsed")
	}
}
