package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/mux"

	"github.com/pingmesh/pingmesh/pkg/bootstrap"
	"github.com/pingmesh/pingmesh/pkg/config"
	"github.com/pingmesh/pingmesh/pkg/ping"
	"github.com/pingmesh/pingmesh/pkg/server"
	"github.com/pingmesh/pingmesh/pkg/worker"
)

func main() {
	log.Println("🚀 Starting PingMesh API server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	log.Printf("⚙️  Configuration: resolution=%d, window=%v, queue=%s",
		cfg.DefaultResolution, cfg.CongestionWindow, cfg.QueueBackend)
	log.Printf("📁 Data directory: %s", cfg.DataDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	handler := server.NewHandler(q, store, cfg)
	hub := server.NewPingHub()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		handler.BroadcastLoop(ctx, hub)
	}()
	log.Println("📡 Live congestion feed started")

	if cfg.Retention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			server.RunRetention(ctx, store, cfg.Retention)
		}()
	}

	// The embedded store and queue lock their directories, so this
	// process is their only owner; the drain loop runs in-process by
	// default. PINGMESH_WORKER=off hands draining to a standalone
	// cmd/worker that must own the data directory instead.
	if cfg.WorkerMode == config.WorkerEmbedded {
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
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
		log.Println("⚙️  Embedded worker started")
	}

	router := mux.NewRouter()
	server.SetupRoutes(router, handler, hub)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	go func() {
		log.Printf("🌐 Server listening on %s", cfg.HTTPAddr)
		log.Println("   POST /ping        - Submit a location ping")
		log.Println("   GET  /congestion  - Query congestion aggregates")
		log.Println("   GET  /ws/live     - Live congestion feed")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutdown signal received...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server shutdown warning: %v", err)
	}

	wg.Wait()
	log.Println("✅ Shutdown complete")
}
