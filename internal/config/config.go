package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir     string `json:"dataDir"`
	HTTPAddr    string `json:"httpAddr"`
	GatewayAddr string `json:"gatewayAddr"`

	// Fsync is the WAL durability mode: always|interval|never.
	Fsync           string `json:"fsync"`
	FsyncIntervalMs int    `json:"fsyncIntervalMs"`

	MaxQueueDepth  int    `json:"maxQueueDepth"`
	PollIntervalMs int    `json:"pollIntervalMs"`
	DrainTimeoutMs int    `json:"drainTimeoutMs"`
	DoneKeep       int    `json:"doneKeep"`
	IngestFilter   string `json:"ingestFilter"`

	RateLimitMax      int `json:"rateLimitMax"`
	RateLimitWindowMs int `json:"rateLimitWindowMs"`

	SessionDebounceMs int `json:"sessionDebounceMs"`

	Retry RetryConfig `json:"retry"`
	Agent AgentConfig `json:"agent"`
	Log   LogConfig   `json:"log"`
}

// RetryConfig bounds remote-call retries.
type RetryConfig struct {
	MaxAttempts       int     `json:"maxAttempts"`
	InitialDelayMs    int     `json:"initialDelayMs"`
	MaxDelayMs        int     `json:"maxDelayMs"`
	BackoffMultiplier float64 `json:"backoffMultiplier"`
}

// AgentConfig points at the remote agent service.
type AgentConfig struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// LogConfig selects log verbosity and rendering.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:          ":8090",
		GatewayAddr:       ":8091",
		Fsync:             "always",
		FsyncIntervalMs:   5,
		MaxQueueDepth:     1000,
		PollIntervalMs:    100,
		DrainTimeoutMs:    30000,
		DoneKeep:          1000,
		RateLimitMax:      10,
		RateLimitWindowMs: 60000,
		Retry: RetryConfig{
			MaxAttempts:       3,
			InitialDelayMs:    1000,
			MaxDelayMs:        10000,
			BackoffMultiplier: 2,
		},
		Agent: AgentConfig{
			URL: "http://127.0.0.1:8402",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a JSON file over the defaults. An empty path
// returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return Config{}, errors.New("yaml config not supported; use JSON")
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// Millisecond-field accessors; zero or negative values defer to the
// consumers' own defaults.

func (c Config) PollInterval() time.Duration    { return msDuration(c.PollIntervalMs) }
func (c Config) DrainTimeout() time.Duration    { return msDuration(c.DrainTimeoutMs) }
func (c Config) RateLimitWindow() time.Duration { return msDuration(c.RateLimitWindowMs) }
func (c Config) SessionDebounce() time.Duration { return msDuration(c.SessionDebounceMs) }
func (c Config) FsyncInterval() time.Duration   { return msDuration(c.FsyncIntervalMs) }

func (c RetryConfig) InitialDelay() time.Duration { return msDuration(c.InitialDelayMs) }
func (c RetryConfig) MaxDelay() time.Duration     { return msDuration(c.MaxDelayMs) }

func msDuration(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
