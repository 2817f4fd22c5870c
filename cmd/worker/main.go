// The standalone drain process. BadgerDB locks its directories
// exclusively, so this binary must be the sole owner of the data
// directory: run it with PINGMESH_WORKER=off on the server (and an NSQ
// queue, or a server pointed at different storage), never side by side
// with a server holding the same PINGMESH_DATA_DIR. The default
// deployment embeds the drain loop in cmd/server instead.
package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/pingmesh/pingmesh/pkg/bootstrap"
	"github.com/pingmesh/pingmesh/pkg/config"
	"github.com/pingmesh/pingmesh/pkg/ping"
	"github.com/pingmesh/pingmesh/pkg/queue"
	"github.com/pingmesh/pingmesh/pkg/worker"
)

func main() {
	log.Println("🚀 Starting PingMesh worker...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	log.Printf("⚙️  Configuration: queue=%s, batch=%d, policy=%s",
		cfg.QueueBackend, cfg.ReceiveBatchSize, cfg.FailurePolicy)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenStore(ctx, cfg, bootstrap.DefaultRetry())
	if err != nil {
		log.Fatalf("❌ Failed to open record store: %v", err)
	}
	defer store.Close()
	log.Println("✅ Record store ready")

	q, err := bootstrap.OpenQueue(ctx, cfg, bootstrap.DefaultRetry())
	if err != nil {
		log.Fatalf("❌ Failed to open ping queue: %v", err)
	}
	defer q.Close()
	log.Println("✅ Ping queue ready")

	policy, cleanup, err := bootstrap.BuildPolicy(ctx, cfg, bootstrap.DefaultRetry())
	if err != nil {
		log.Fatalf("❌ Failed to set up failure policy: %v", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	p := worker.New(q, store,
		ping.Validator{MaxClockSkew: cfg.MaxClockSkew, MaxAge: cfg.MaxPingAge},
		ping.Enricher{Resolution: cfg.DefaultResolution},
		policy,
		worker.Config{
			BatchSize:   cfg.ReceiveBatchSize,
			ReceiveWait: cfg.ReceiveWait,
			DwellWarn:   cfg.DwellWarnAfter,
			EmptyPause:  config.EmptyCyclePause,
			ErrorPause:  config.ErrorCyclePause,
		},
	)

	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, queue.ErrClosed) {
		log.Fatalf("❌ Worker stopped: %v", err)
	}
	log.Println("✅ Worker shut down cleanly")
}
