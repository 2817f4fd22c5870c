package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/pingmesh/pingmesh/pkg/queue"
)

// FailurePolicy decides what happens to a message whose record could
// not be written to storage. Parse and validation failures never reach
// a policy; those are discarded unconditionally because redelivery
// cannot change the outcome.
//
// Handle must leave the message in a terminal or redeliverable state:
// acked, released back to the queue, or moved to a dead-letter queue.
// A non-nil error tells the caller the policy could not place the
// message anywhere, and the caller acks it as a last resort.
type FailurePolicy interface {
	Name() string
	Handle(ctx context.Context, q queue.Queue, msg queue.Message) error
}

// DiscardPolicy drops the message. Storage errors are treated like any
// other unprocessable input: logged and removed from the queue.
type DiscardPolicy struct{}

func (DiscardPolicy) Name() string { return "discard" }

func (DiscardPolicy) Handle(ctx context.Context, q queue.Queue, msg queue.Message) error {
	return q.Ack(ctx, msg)
}

// RequeuePolicy releases the message for redelivery until it has been
// attempted MaxAttempts times, then discards it.
type RequeuePolicy struct {
	MaxAttempts int
}

func (RequeuePolicy) Name() string { return "requeue" }

func (p RequeuePolicy) Handle(ctx context.Context, q queue.Queue, msg queue.Message) error {
	if msg.Attempts() >= p.MaxAttempts {
		log.Printf("Message %s exhausted %d delivery attempts; discarding", msg.ID(), msg.Attempts())
		return q.Ack(ctx, msg)
	}
	return q.Release(ctx, msg)
}

// DeadLetterPolicy moves the message body to a separate queue for
// later inspection or replay, then removes it from the main queue.
type DeadLetterPolicy struct {
	Dead queue.Queue
}

func (DeadLetterPolicy) Name() string { return "deadletter" }

func (p DeadLetterPolicy) Handle(ctx context.Context, q queue.Queue, msg queue.Message) error {
	if _, err := p.Dead.Enqueue(ctx, msg.Body()); err != nil {
		// Keep the message alive on the main queue so dead-lettering
		// gets another chance on redelivery.
		if rerr := q.Release(ctx, msg); rerr != nil {
			return fmt.Errorf("dead-letter enqueue failed (%v) and release failed: %w", err, rerr)
		}
		log.Printf("Dead-letter enqueue failed for message %s, released for retry: %v", msg.ID(), err)
		return nil
	}
	return q.Ack(ctx, msg)
}
