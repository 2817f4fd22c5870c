package server

import (
	"context"
	"log"
	"time"

	"github.com/pingmesh/pingmesh/pkg/storage"
)

const retentionSweepInterval = 1 * time.Hour

// RunRetention deletes records older than the retention window on a
// fixed cadence. A zero retention disables the sweep entirely; records
// are then kept indefinitely.
func RunRetention(ctx context.Context, store storage.Storage, retention time.Duration) {
	if retention <= 0 {
		return
	}

	log.Printf("Retention sweep enabled: records older than %v are deleted hourly", retention)

	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			start := time.Now()
			if err := store.DeleteBefore(ctx, cutoff); err != nil {
				log.Printf("Retention sweep failed: %v", err)
				continue
			}
			log.Printf("Retention sweep completed in %v (cutoff %s)",
				time.Since(start).Round(time.Millisecond), cutoff.Format(time.RFC3339))
		}
	}
}
