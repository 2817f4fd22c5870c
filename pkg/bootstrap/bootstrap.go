// Package bootstrap opens the service's backing stores with startup
// retries, so the server and worker survive a data directory or broker
// that comes up a little after they do.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/pingmesh/pingmesh/pkg/config"
	"github.com/pingmesh/pingmesh/pkg/queue"
	badgerqueue "github.com/pingmesh/pingmesh/pkg/queue/badger"
	nsqqueue "github.com/pingmesh/pingmesh/pkg/queue/nsq"
	"github.com/pingmesh/pingmesh/pkg/storage"
	badgerstore "github.com/pingmesh/pingmesh/pkg/storage/badger"
	"github.com/pingmesh/pingmesh/pkg/worker"
)

// RetryConfig bounds a startup retry loop.
type RetryConfig struct {
	Attempts int
	Interval time.Duration
}

// DefaultRetry matches the documented startup behavior: about a minute
// of patience before giving up.
func DefaultRetry() RetryConfig {
	return RetryConfig{Attempts: config.BootstrapAttempts, Interval: config.BootstrapInterval}
}

// Retry runs fn until it succeeds, the attempts are exhausted, or ctx
// is cancelled. The last error is returned on exhaustion.
func Retry(ctx context.Context, name string, rc RetryConfig, fn func(context.Context) error) error {
	if rc.Attempts <= 0 {
		rc.Attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= rc.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt < rc.Attempts {
			log.Printf("Waiting for %s (attempt %d/%d): %v", name, attempt, rc.Attempts, lastErr)
			timer := time.NewTimer(rc.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("%s unavailable after %d attempts: %w", name, rc.Attempts, lastErr)
}

// OpenStore opens the BadgerDB record store under the data directory,
// retrying while another process still holds the directory lock.
func OpenStore(ctx context.Context, cfg *config.Config, rc RetryConfig) (storage.Storage, error) {
	var store storage.Storage
	err := Retry(ctx, "record store", rc, func(context.Context) error {
		s, err := badgerstore.New(badgerstore.Config{
			Path:        filepath.Join(cfg.DataDir, "records"),
			MaxMemoryMB: cfg.MaxMemoryMB,
		})
		if err != nil {
			return err
		}
		store = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// OpenQueue opens the ping queue backend named by the configuration:
// a durable BadgerDB queue under the data directory, or an NSQ
// topic/channel on a remote broker.
func OpenQueue(ctx context.Context, cfg *config.Config, rc RetryConfig) (queue.Queue, error) {
	var q queue.Queue
	err := Retry(ctx, "ping queue", rc, func(context.Context) error {
		opened, err := openQueueOnce(cfg)
		if err != nil {
			return err
		}
		q = opened
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// OpenDeadLetterQueue opens the dead-letter destination for the
// configured backend: a sibling BadgerDB queue, or the NSQ topic with
// a ".dead" suffix.
func OpenDeadLetterQueue(ctx context.Context, cfg *config.Config, rc RetryConfig) (queue.Queue, error) {
	var q queue.Queue
	err := Retry(ctx, "dead-letter queue", rc, func(context.Context) error {
		var opened queue.Queue
		var err error
		switch cfg.QueueBackend {
		case config.QueueNSQ:
			opened, err = nsqqueue.New(nsqqueue.Config{
				NSQDAddr: cfg.NSQDAddr,
				Topic:    cfg.NSQTopic + ".dead",
				Channel:  cfg.NSQChannel,
			})
		default:
			opened, err = badgerqueue.New(badgerqueue.Config{
				Path:              filepath.Join(cfg.DataDir, "deadletter"),
				VisibilityTimeout: cfg.VisibilityTimeout,
				MaxMemoryMB:       cfg.MaxMemoryMB,
			})
		}
		if err != nil {
			return err
		}
		q = opened
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// BuildPolicy maps the configured failure policy name to its
// implementation, opening the dead-letter queue when the policy needs
// one. The returned cleanup closes that queue; it is nil for policies
// without one.
func BuildPolicy(ctx context.Context, cfg *config.Config, rc RetryConfig) (worker.FailurePolicy, func(), error) {
	switch cfg.FailurePolicy {
	case config.PolicyRequeue:
		return worker.RequeuePolicy{MaxAttempts: cfg.MaxAttempts}, nil, nil
	case config.PolicyDeadLetter:
		dead, err := OpenDeadLetterQueue(ctx, cfg, rc)
		if err != nil {
			return nil, nil, err
		}
		return worker.DeadLetterPolicy{Dead: dead}, func() { dead.Close() }, nil
	default:
		return worker.DiscardPolicy{}, nil, nil
	}
}

func openQueueOnce(cfg *config.Config) (queue.Queue, error) {
	switch cfg.QueueBackend {
	case config.QueueNSQ:
		return nsqqueue.New(nsqqueue.Config{
			NSQDAddr:    cfg.NSQDAddr,
			Topic:       cfg.NSQTopic,
			Channel:     cfg.NSQChannel,
			MaxInFlight: cfg.ReceiveBatchSize * 2,
		})
	case config.QueueBadger:
		return badgerqueue.New(badgerqueue.Config{
			Path:              filepath.Join(cfg.DataDir, "queue"),
			VisibilityTimeout: cfg.VisibilityTimeout,
			MaxMemoryMB:       cfg.MaxMemoryMB,
		})
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}
