package datapath

import (
	"testing"
	"time"
)

func TestMaxClientsIsHalfWorkerBudget(t *testing.T) {
	cfg := Config{MaxWorkerThreads: 100}
	if got := cfg.maxClients(); got != 50 {
		t.Fatalf("maxClients() = %d, want 50", got)
	}

	cfg.MaxWorkerThreads = 1
	if got := cfg.maxClients(); got != 1 {
		t.Fatalf("maxClients() = %d for tiny budget, want 1", got)
	}
}

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() failed: %v", err)
	}
	if cfg.MaxWorkerThreads != 100 {
		t.Fatalf("MaxWorkerThreads = %d, want default 100", cfg.MaxWorkerThreads)
	}
	if cfg.QueueJoinTimeout != 10*time.Second {
		t.Fatalf("QueueJoinTimeout = %v, want default 10s", cfg.QueueJoinTimeout)
	}
}
