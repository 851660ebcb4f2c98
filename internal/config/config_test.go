package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.HTTPAddr != ":8090" || cfg.GatewayAddr != ":8091" {
		t.Fatalf("addresses: %q %q", cfg.HTTPAddr, cfg.GatewayAddr)
	}
	if cfg.Fsync != "always" {
		t.Fatalf("fsync: %q", cfg.Fsync)
	}
	if cfg.MaxQueueDepth != 1000 || cfg.DoneKeep != 1000 {
		t.Fatalf("depth/keep: %d %d", cfg.MaxQueueDepth, cfg.DoneKeep)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BackoffMultiplier != 2 {
		t.Fatalf("retry: %+v", cfg.Retry)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("got %+v", cfg)
	}
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.json")
	body := `{
		"maxQueueDepth": 50,
		"ingestFilter": "source == \"ws\"",
		"retry": {"maxAttempts": 7, "initialDelayMs": 250, "maxDelayMs": 10000, "backoffMultiplier": 2},
		"agent": {"url": "http://agent.internal:9000", "token": "t0k"}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxQueueDepth != 50 {
		t.Fatalf("maxQueueDepth: %d", cfg.MaxQueueDepth)
	}
	if cfg.IngestFilter != `source == "ws"` {
		t.Fatalf("ingestFilter: %q", cfg.IngestFilter)
	}
	if cfg.Retry.MaxAttempts != 7 || cfg.Retry.InitialDelayMs != 250 {
		t.Fatalf("retry: %+v", cfg.Retry)
	}
	if cfg.Agent.URL != "http://agent.internal:9000" || cfg.Agent.Token != "t0k" {
		t.Fatalf("agent: %+v", cfg.Agent)
	}
	// Untouched fields keep their defaults.
	if cfg.HTTPAddr != ":8090" || cfg.RateLimitMax != 10 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("want parse error")
	}
}

func TestLoadRejectsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte("a: 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("yaml should be rejected")
	}
}

func TestFromEnvOverlay(t *testing.T) {
	t.Setenv("RELAY_DATA_DIR", "/tmp/relay-data")
	t.Setenv("RELAY_MAX_QUEUE_DEPTH", "5")
	t.Setenv("RELAY_RETRY_BACKOFF_MULTIPLIER", "1.5")
	t.Setenv("RELAY_AGENT_TOKEN", "sekrit")
	t.Setenv("RELAY_LOG_FORMAT", "json")
	t.Setenv("RELAY_POLL_INTERVAL_MS", "not-a-number")

	cfg := Default()
	FromEnv(&cfg)

	if cfg.DataDir != "/tmp/relay-data" {
		t.Fatalf("dataDir: %q", cfg.DataDir)
	}
	if cfg.MaxQueueDepth != 5 {
		t.Fatalf("maxQueueDepth: %d", cfg.MaxQueueDepth)
	}
	if cfg.Retry.BackoffMultiplier != 1.5 {
		t.Fatalf("multiplier: %v", cfg.Retry.BackoffMultiplier)
	}
	if cfg.Agent.Token != "sekrit" || cfg.Log.Format != "json" {
		t.Fatalf("agent/log: %+v %+v", cfg.Agent, cfg.Log)
	}
	// Unparseable values leave the field alone.
	if cfg.PollIntervalMs != Default().PollIntervalMs {
		t.Fatalf("pollIntervalMs: %d", cfg.PollIntervalMs)
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()
	if cfg.DrainTimeout() != 30*time.Second {
		t.Fatalf("drain timeout: %v", cfg.DrainTimeout())
	}
	if cfg.RateLimitWindow() != time.Minute {
		t.Fatalf("window: %v", cfg.RateLimitWindow())
	}
	cfg.SessionDebounceMs = 0
	if cfg.SessionDebounce() != 0 {
		t.Fatalf("debounce: %v", cfg.SessionDebounce())
	}
}
