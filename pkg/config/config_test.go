package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("Expected addr %s, got %s", DefaultHTTPAddr, cfg.HTTPAddr)
	}
	if cfg.DefaultResolution != 12 {
		t.Errorf("Expected resolution 12, got %d", cfg.DefaultResolution)
	}
	if cfg.CongestionWindow != 30*time.Minute {
		t.Errorf("Expected 30m window, got %v", cfg.CongestionWindow)
	}
	if cfg.MaxClockSkew != 15*time.Minute {
		t.Errorf("Expected 15m skew, got %v", cfg.MaxClockSkew)
	}
	if cfg.MaxPingAge != 30*time.Minute {
		t.Errorf("Expected 30m max age, got %v", cfg.MaxPingAge)
	}
	if cfg.ReceiveBatchSize != 10 {
		t.Errorf("Expected batch size 10, got %d", cfg.ReceiveBatchSize)
	}
	if cfg.ReceiveWait != 20*time.Second {
		t.Errorf("Expected 20s receive wait, got %v", cfg.ReceiveWait)
	}
	if cfg.QueueBackend != QueueBadger {
		t.Errorf("Expected badger queue, got %s", cfg.QueueBackend)
	}
	if cfg.FailurePolicy != PolicyDiscard {
		t.Errorf("Expected discard policy, got %s", cfg.FailurePolicy)
	}
	if cfg.Retention != 0 {
		t.Errorf("Expected retention disabled by default, got %v", cfg.Retention)
	}
	if cfg.WorkerMode != WorkerEmbedded {
		t.Errorf("Expected embedded worker by default, got %s", cfg.WorkerMode)
	}
}

func TestLoad_RejectsUnknownWorkerMode(t *testing.T) {
	t.Setenv("PINGMESH_WORKER", "sidecar")

	if _, err := Load(); err == nil {
		t.Error("Expected error for unknown worker mode")
	}
}

func TestLoad_RetentionDays(t *testing.T) {
	t.Setenv("PINGMESH_RETENTION_DAYS", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Retention != 7*24*time.Hour {
		t.Errorf("Expected 7 days retention, got %v", cfg.Retention)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PINGMESH_HTTP_ADDR", ":9090")
	t.Setenv("PINGMESH_DEFAULT_RESOLUTION", "9")
	t.Setenv("PINGMESH_CONGESTION_WINDOW_MIN", "60")
	t.Setenv("PINGMESH_QUEUE", "nsq")
	t.Setenv("PINGMESH_FAILURE_POLICY", "requeue")
	t.Setenv("PINGMESH_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("Expected :9090, got %s", cfg.HTTPAddr)
	}
	if cfg.DefaultResolution != 9 {
		t.Errorf("Expected resolution 9, got %d", cfg.DefaultResolution)
	}
	if cfg.CongestionWindow != time.Hour {
		t.Errorf("Expected 1h window, got %v", cfg.CongestionWindow)
	}
	if cfg.QueueBackend != QueueNSQ {
		t.Errorf("Expected nsq, got %s", cfg.QueueBackend)
	}
	if cfg.FailurePolicy != PolicyRequeue {
		t.Errorf("Expected requeue, got %s", cfg.FailurePolicy)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("Expected 5 attempts, got %d", cfg.MaxAttempts)
	}
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("PINGMESH_RECEIVE_BATCH", "lots")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ReceiveBatchSize != 10 {
		t.Errorf("Expected default batch size 10, got %d", cfg.ReceiveBatchSize)
	}
}

func TestLoad_RejectsBadResolution(t *testing.T) {
	t.Setenv("PINGMESH_DEFAULT_RESOLUTION", "16")

	if _, err := Load(); err == nil {
		t.Error("Expected error for resolution 16")
	}
}

func TestLoad_RejectsUnknownQueue(t *testing.T) {
	t.Setenv("PINGMESH_QUEUE", "kafka")

	if _, err := Load(); err == nil {
		t.Error("Expected error for unknown queue backend")
	}
}

func TestLoad_RejectsUnknownPolicy(t *testing.T) {
	t.Setenv("PINGMESH_FAILURE_POLICY", "explode")

	if _, err := Load(); err == nil {
		t.Error("Expected error for unknown failure policy")
	}
}
