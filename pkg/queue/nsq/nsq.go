// Package nsq implements queue.Queue on an NSQ broker. The broker owns
// durability and redelivery; Ack and Release map onto NSQ's manual
// Finish and Requeue responses.
package nsq

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	gonsq "github.com/nsqio/go-nsq"

	"github.com/pingmesh/pingmesh/pkg/queue"
)

type message struct {
	raw *gonsq.Message
}

func (m *message) ID() string    { return hex.EncodeToString(m.raw.ID[:]) }
func (m *message) Body() []byte  { return m.raw.Body }
func (m *message) Attempts() int { return int(m.raw.Attempts) }

// Config holds NSQ connection settings.
type Config struct {
	// NSQDAddr is the nsqd TCP address, e.g. "127.0.0.1:4150".
	NSQDAddr string

	// Topic messages are published to and consumed from.
	Topic string

	// Channel is the consumer channel name. Workers sharing a channel
	// split the stream; the broker leases each message to one of them.
	Channel string

	// MaxInFlight bounds unacked deliveries per consumer.
	MaxInFlight int
}

// Queue is an NSQ-backed queue.Queue implementation.
type Queue struct {
	cfg      Config
	producer *gonsq.Producer

	consumerOnce sync.Once
	consumerErr  error
	consumer     *gonsq.Consumer
	deliveries   chan *gonsq.Message

	mu     sync.Mutex
	closed bool
}

// New connects a producer to nsqd. The consumer side is started lazily
// on the first Receive, so API processes never subscribe to the topic.
func New(cfg Config) (*Queue, error) {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 32
	}

	producer, err := gonsq.NewProducer(cfg.NSQDAddr, gonsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create nsq producer: %w", err)
	}
	if err := producer.Ping(); err != nil {
		producer.Stop()
		return nil, fmt.Errorf("failed to reach nsqd at %s: %w", cfg.NSQDAddr, err)
	}

	return &Queue{
		cfg:        cfg,
		producer:   producer,
		deliveries: make(chan *gonsq.Message, cfg.MaxInFlight),
	}, nil
}

// Enqueue publishes a payload. NSQ does not return broker-side IDs on
// publish, so the ID handed back is a client-side tracking ID.
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

	if err := q.producer.Publish(q.cfg.Topic, body); err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", q.cfg.Topic, err)
	}
	return fmt.Sprintf("pub-%d", time.Now().UnixNano()), nil
}

// Receive gathers up to max deliveries, blocking up to wait for the
// first one and draining whatever else is already buffered.
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]queue.Message, error) {
	if err := q.startConsumer(); err != nil {
		return nil, err
	}

	var batch []queue.Message

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case m, ok := <-q.deliveries:
		if !ok {
			return nil, queue.ErrClosed
		}
		batch = append(batch, &message{raw: m})
	}

	for len(batch) < max {
		select {
		case m, ok := <-q.deliveries:
			if !ok {
				return batch, nil
			}
			batch = append(batch, &message{raw: m})
		default:
			return batch, nil
		}
	}
	return batch, nil
}

// Ack finishes the delivery at the broker.
func (q *Queue) Ack(ctx context.Context, msg queue.Message) error {
	m, ok := msg.(*message)
	if !ok {
		return fmt.Errorf("nsq queue: foreign message %q", msg.ID())
	}
	m.raw.Finish()
	return nil
}

// Release requeues the delivery with the broker's default backoff.
func (q *Queue) Release(ctx context.Context, msg queue.Message) error {
	m, ok := msg.(*message)
	if !ok {
		return fmt.Errorf("nsq queue: foreign message %q", msg.ID())
	}
	m.raw.Requeue(-1)
	return nil
}

// Close stops the consumer and producer. Unfinished deliveries time out
// at the broker and are redelivered.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	consumer := q.consumer
	q.mu.Unlock()

	if consumer != nil {
		consumer.Stop()
		<-consumer.StopChan
	}
	q.producer.Stop()
	return nil
}

func (q *Queue) startConsumer() error {
	q.consumerOnce.Do(func() {
		cfg := gonsq.NewConfig()
		cfg.MaxInFlight = q.cfg.MaxInFlight

		consumer, err := gonsq.NewConsumer(q.cfg.Topic, q.cfg.Channel, cfg)
		if err != nil {
			q.consumerErr = fmt.Errorf("failed to create nsq consumer: %w", err)
			return
		}

		consumer.AddHandler(gonsq.HandlerFunc(func(m *gonsq.Message) error {
			// Receive/Ack/Release decide the response, not the handler.
			m.DisableAutoResponse()
			q.deliveries <- m
			return nil
		}))

		if err := consumer.ConnectToNSQD(q.cfg.NSQDAddr); err != nil {
			q.consumerErr = fmt.Errorf("failed to connect consumer to %s: %w", q.cfg.NSQDAddr, err)
			return
		}

		q.mu.Lock()
		q.consumer = consumer
		q.mu.Unlock()
	})
	return q.consumerErr
}
