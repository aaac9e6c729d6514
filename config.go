package datapath

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config carries servicer-wide limits. Defaults can be loaded from the
// environment via ConfigFromEnv.
type Config struct {
	// MaxWorkerThreads is the worker-thread budget the client threshold is
	// derived from: at most half of it may be concurrently connected clients.
	// ENV: DATAPATH_MAX_WORKER_THREADS
	MaxWorkerThreads int `env:"DATAPATH_MAX_WORKER_THREADS,default=100"`

	// QueueJoinTimeout bounds how long teardown waits for a connection's
	// intake reader to exit. ENV: DATAPATH_QUEUE_JOIN_TIMEOUT
	QueueJoinTimeout time.Duration `env:"DATAPATH_QUEUE_JOIN_TIMEOUT,default=10s"`
}

// DefaultConfig returns the built-in limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxWorkerThreads: 100,
		QueueJoinTimeout: 10 * time.Second,
	}
}

// ConfigFromEnv builds a Config using envdecode; struct tags provide the
// defaults.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode datapath config: %w", err)
	}
	return cfg, nil
}

// maxClients derives the admission threshold from the worker-thread budget.
func (c Config) maxClients() int {
	n := c.MaxWorkerThreads / 2
	if n < 1 {
		n = 1
	}
	return n
}
