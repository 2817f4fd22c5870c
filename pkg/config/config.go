package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Server defaults
const (
	DefaultHTTPAddr     = ":8080"
	ServerReadTimeout   = 10 * time.Second
	ServerWriteTimeout  = 10 * time.Second
	ShutdownTimeout     = 30 * time.Second
	DefaultDataDir      = "./data/pingmesh"
	DefaultMaxMemoryMB  = 48
	LiveBroadcastEvery  = 5 * time.Second
	LiveBroadcastWindow = 1 * time.Minute
)

// Worker pacing
const (
	EmptyCyclePause = 1 * time.Second
	ErrorCyclePause = 1 * time.Second
)

// Bootstrap retry defaults
const (
	BootstrapAttempts = 20
	BootstrapInterval = 3 * time.Second
)

// Queue backend names accepted by PINGMESH_QUEUE.
const (
	QueueBadger = "badger"
	QueueNSQ    = "nsq"
)

// Failure policy names accepted by PINGMESH_FAILURE_POLICY.
const (
	PolicyDiscard    = "discard"
	PolicyRequeue    = "requeue"
	PolicyDeadLetter = "deadletter"
)

// Worker placement names accepted by PINGMESH_WORKER. BadgerDB holds an
// exclusive lock on its directory, so the embedded store and queue can
// only ever have one owning process: the default runs the drain loop
// inside the API server. "off" is for deployments that run cmd/worker
// as the sole owner of the data directory instead.
const (
	WorkerEmbedded = "embedded"
	WorkerOff      = "off"
)

// Config holds all runtime settings for the API server and the worker.
// Values come from environment variables (optionally seeded from a .env
// file) and fall back to the documented defaults.
type Config struct {
	HTTPAddr    string
	DataDir     string
	MaxMemoryMB int64

	// Spatial settings
	DefaultResolution int

	// Congestion query window
	CongestionWindow time.Duration

	// Retention is how long records are kept before the hourly sweep
	// deletes them. Zero keeps records indefinitely.
	Retention time.Duration

	// Ping validation thresholds
	MaxClockSkew   time.Duration
	MaxPingAge     time.Duration
	DwellWarnAfter time.Duration

	// Queue settings
	QueueBackend      string
	ReceiveBatchSize  int
	ReceiveWait       time.Duration
	VisibilityTimeout time.Duration

	// NSQ settings (used when QueueBackend == "nsq")
	NSQDAddr   string
	NSQTopic   string
	NSQChannel string

	// Worker failure handling for storage-stage errors
	FailurePolicy string
	MaxAttempts   int

	// WorkerMode places the drain loop: "embedded" runs it inside the
	// server process, "off" leaves draining to a standalone cmd/worker.
	WorkerMode string
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first if present; real environment
// variables take precedence over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	cfg := &Config{
		HTTPAddr:    getEnv("PINGMESH_HTTP_ADDR", DefaultHTTPAddr),
		DataDir:     getEnv("PINGMESH_DATA_DIR", DefaultDataDir),
		MaxMemoryMB: getEnvInt64("PINGMESH_MAX_MEMORY_MB", DefaultMaxMemoryMB),

		DefaultResolution: getEnvInt("PINGMESH_DEFAULT_RESOLUTION", 12),
		CongestionWindow:  minutes(getEnvInt("PINGMESH_CONGESTION_WINDOW_MIN", 30)),
		Retention:         days(getEnvInt("PINGMESH_RETENTION_DAYS", 0)),

		MaxClockSkew:   seconds(getEnvInt("PINGMESH_MAX_CLOCK_SKEW_SEC", 900)),
		MaxPingAge:     seconds(getEnvInt("PINGMESH_MAX_PING_AGE_SEC", 1800)),
		DwellWarnAfter: seconds(getEnvInt("PINGMESH_DWELL_WARN_SEC", 60)),

		QueueBackend:      getEnv("PINGMESH_QUEUE", QueueBadger),
		ReceiveBatchSize:  getEnvInt("PINGMESH_RECEIVE_BATCH", 10),
		ReceiveWait:       seconds(getEnvInt("PINGMESH_RECEIVE_WAIT_SEC", 20)),
		VisibilityTimeout: seconds(getEnvInt("PINGMESH_VISIBILITY_TIMEOUT_SEC", 30)),

		NSQDAddr:   getEnv("PINGMESH_NSQD_ADDR", "127.0.0.1:4150"),
		NSQTopic:   getEnv("PINGMESH_NSQ_TOPIC", "pings"),
		NSQChannel: getEnv("PINGMESH_NSQ_CHANNEL", "worker"),

		FailurePolicy: getEnv("PINGMESH_FAILURE_POLICY", PolicyDiscard),
		MaxAttempts:   getEnvInt("PINGMESH_MAX_ATTEMPTS", 3),

		WorkerMode: getEnv("PINGMESH_WORKER", WorkerEmbedded),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DefaultResolution < 0 || c.DefaultResolution > 15 {
		return fmt.Errorf("config: default resolution %d out of range [0,15]", c.DefaultResolution)
	}
	if c.ReceiveBatchSize < 1 {
		return fmt.Errorf("config: receive batch size must be positive, got %d", c.ReceiveBatchSize)
	}
	switch c.QueueBackend {
	case QueueBadger, QueueNSQ:
	default:
		return fmt.Errorf("config: unknown queue backend %q", c.QueueBackend)
	}
	switch c.FailurePolicy {
	case PolicyDiscard, PolicyRequeue, PolicyDeadLetter:
	default:
		return fmt.Errorf("config: unknown failure policy %q", c.FailurePolicy)
	}
	switch c.WorkerMode {
	case WorkerEmbedded, WorkerOff:
	default:
		return fmt.Errorf("config: unknown worker mode %q", c.WorkerMode)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }
func days(n int) time.Duration    { return time.Duration(n) * 24 * time.Hour }
