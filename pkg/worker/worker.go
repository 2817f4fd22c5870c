// Package worker drains the durable queue and turns raw ping payloads
// into stored records.
//
// Every message reaches a terminal state in one delivery: stored, or
// discarded because it was unparsable, failed timestamp validation, or
// hit a storage error under the discard policy. The queue removal
// happens regardless of outcome, so a poison message can never wedge
// the loop. Storage-stage failures go through a configurable
// FailurePolicy; requeue and dead-letter policies are the only paths
// that keep a message alive past its first delivery.
package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/pingmesh/pingmesh/pkg/ping"
	"github.com/pingmesh/pingmesh/pkg/queue"
	"github.com/pingmesh/pingmesh/pkg/storage"
)

// Config controls batch sizing and pacing.
type Config struct {
	// BatchSize is the maximum messages pulled per cycle.
	BatchSize int

	// ReceiveWait is how long a receive blocks on an empty queue.
	ReceiveWait time.Duration

	// DwellWarn is the queue-dwell threshold that triggers a backlog
	// warning. Observability only.
	DwellWarn time.Duration

	// EmptyPause is slept after a cycle that delivered nothing.
	EmptyPause time.Duration

	// ErrorPause is slept after a cycle that failed unexpectedly.
	ErrorPause time.Duration
}

// Processor wires the queue, validation, enrichment, and storage into
// the per-batch processing cycle.
type Processor struct {
	queue     queue.Queue
	store     storage.Storage
	validator ping.Validator
	enricher  ping.Enricher
	policy    FailurePolicy
	cfg       Config

	// now is swappable for tests; nil means time.Now.
	now func() time.Time
}

// New creates a Processor. A nil policy defaults to DiscardPolicy,
// matching the accepted drop-on-storage-error behavior.
func New(q queue.Queue, store storage.Storage, validator ping.Validator, enricher ping.Enricher, policy FailurePolicy, cfg Config) *Processor {
	if policy == nil {
		policy = DiscardPolicy{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.EmptyPause <= 0 {
		cfg.EmptyPause = time.Second
	}
	if cfg.ErrorPause <= 0 {
		cfg.ErrorPause = time.Second
	}
	return &Processor{
		queue:     q,
		store:     store,
		validator: validator,
		enricher:  enricher,
		policy:    policy,
		cfg:       cfg,
	}
}

// ProcessBatch runs one receive cycle and returns the records stored
// during it. Messages are fully isolated: one message's failure never
// affects another's outcome. An empty slice means the queue had
// nothing to deliver within the wait.
func (p *Processor) ProcessBatch(ctx context.Context) ([]ping.Record, error) {
	msgs, err := p.queue.Receive(ctx, p.cfg.BatchSize, p.cfg.ReceiveWait)
	if err != nil {
		return nil, err
	}

	var stored []ping.Record
	for _, msg := range msgs {
		if rec, ok := p.processMessage(ctx, msg); ok {
			stored = append(stored, rec)
		}
	}
	return stored, nil
}

// processMessage walks one message through parse, validation,
// enrichment, and storage. It reports whether a record was stored.
func (p *Processor) processMessage(ctx context.Context, msg queue.Message) (ping.Record, bool) {
	raw, err := ping.DecodeRaw(msg.Body())
	if err != nil {
		// Unparsable payloads never become parsable; drop for good.
		log.Printf("Discarding unparsable message %s: %v", msg.ID(), err)
		p.ack(ctx, msg)
		return ping.Record{}, false
	}

	now := p.clock()

	if dwell, exceeded := ping.Dwell(raw.AcceptedAt, now, p.cfg.DwellWarn); exceeded {
		log.Printf("Warning: ping from device %s queued for %.0fs (accepted %s) - possible queue backlog",
			raw.DeviceID, dwell.Seconds(), raw.AcceptedAt.Format(time.RFC3339))
	}

	if valid, reason := p.validator.CheckTimestamp(raw.Timestamp, now); !valid {
		log.Printf("Warning: invalid timestamp %s for device %s: %s; discarding message %s",
			raw.Timestamp.Format(time.RFC3339), raw.DeviceID, reason, msg.ID())
		p.ack(ctx, msg)
		return ping.Record{}, false
	}

	rec, err := p.enricher.Enrich(raw)
	if err != nil {
		// Invariant breakage (missing accepted_at) or unindexable
		// coordinates; retrying cannot help.
		log.Printf("Discarding unenrichable message %s from device %s: %v", msg.ID(), raw.DeviceID, err)
		p.ack(ctx, msg)
		return ping.Record{}, false
	}

	if err := p.store.Put(ctx, rec); err != nil {
		log.Printf("Storage error for message %s (device %s, attempt %d): %v; applying %s policy",
			msg.ID(), raw.DeviceID, msg.Attempts(), err, p.policy.Name())
		if perr := p.policy.Handle(ctx, p.queue, msg); perr != nil {
			log.Printf("Failure policy %s on message %s: %v", p.policy.Name(), msg.ID(), perr)
			p.ack(ctx, msg)
		}
		return ping.Record{}, false
	}

	p.ack(ctx, msg)
	return rec, true
}

// Run drains the queue until ctx is cancelled. Empty cycles pause
// briefly to avoid a tight poll loop; unexpected cycle errors pause
// and retry rather than killing the loop.
func (p *Processor) Run(ctx context.Context) error {
	log.Printf("Worker ready to process pings (batch=%d, wait=%v)", p.cfg.BatchSize, p.cfg.ReceiveWait)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		stored, err := p.ProcessBatch(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, queue.ErrClosed):
			return err
		case err != nil:
			log.Printf("Error during ping processing: %v", err)
			if !sleepCtx(ctx, p.cfg.ErrorPause) {
				return ctx.Err()
			}
		case len(stored) > 0:
			log.Printf("Processed %d pings", len(stored))
		default:
			if !sleepCtx(ctx, p.cfg.EmptyPause) {
				return ctx.Err()
			}
		}
	}
}

func (p *Processor) ack(ctx context.Context, msg queue.Message) {
	if err := p.queue.Ack(ctx, msg); err != nil {
		// At-least-once delivery absorbs a failed ack: the message
		// comes back and reaches the same terminal state again.
		log.Printf("Failed to ack message %s: %v", msg.ID(), err)
	}
}

func (p *Processor) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now().UTC()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
