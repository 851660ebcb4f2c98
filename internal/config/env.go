package config

import (
	"os"
	"strconv"
)

// FromEnv overlays RELAY_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	envStr("RELAY_DATA_DIR", &cfg.DataDir)
	envStr("RELAY_HTTP_ADDR", &cfg.HTTPAddr)
	envStr("RELAY_GATEWAY_ADDR", &cfg.GatewayAddr)
	envStr("RELAY_FSYNC", &cfg.Fsync)
	envInt("RELAY_FSYNC_INTERVAL_MS", &cfg.FsyncIntervalMs)

	envInt("RELAY_MAX_QUEUE_DEPTH", &cfg.MaxQueueDepth)
	envInt("RELAY_POLL_INTERVAL_MS", &cfg.PollIntervalMs)
	envInt("RELAY_DRAIN_TIMEOUT_MS", &cfg.DrainTimeoutMs)
	envInt("RELAY_DONE_KEEP", &cfg.DoneKeep)
	envStr("RELAY_INGEST_FILTER", &cfg.IngestFilter)

	envInt("RELAY_RATE_LIMIT_MAX", &cfg.RateLimitMax)
	envInt("RELAY_RATE_LIMIT_WINDOW_MS", &cfg.RateLimitWindowMs)
	envInt("RELAY_SESSION_DEBOUNCE_MS", &cfg.SessionDebounceMs)

	envInt("RELAY_RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts)
	envInt("RELAY_RETRY_INITIAL_DELAY_MS", &cfg.Retry.InitialDelayMs)
	envInt("RELAY_RETRY_MAX_DELAY_MS", &cfg.Retry.MaxDelayMs)
	envFloat("RELAY_RETRY_BACKOFF_MULTIPLIER", &cfg.Retry.BackoffMultiplier)

	envStr("RELAY_AGENT_URL", &cfg.Agent.URL)
	envStr("RELAY_AGENT_TOKEN", &cfg.Agent.Token)

	envStr("RELAY_LOG_LEVEL", &cfg.Log.Level)
	envStr("RELAY_LOG_FORMAT", &cfg.Log.Format)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
