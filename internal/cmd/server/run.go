package serverrun

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/okline/relay/internal/agent"
	"github.com/okline/relay/internal/bus"
	cfgpkg "github.com/okline/relay/internal/config"
	"github.com/okline/relay/internal/dispatch"
	wsgw "github.com/okline/relay/internal/gateway/ws"
	"github.com/okline/relay/internal/retry"
	"github.com/okline/relay/internal/runtime"
	httpserver "github.com/okline/relay/internal/server/http"
	pebblestore "github.com/okline/relay/internal/storage/pebble"
	logpkg "github.com/okline/relay/pkg/log"
)

const trimInterval = time.Minute

type Options struct {
	DataDir       string
	HTTPAddr      string
	GatewayAddr   string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
}

// Run starts a relay node and blocks until ctx is cancelled or a signal
// arrives. Shutdown order: kernel drain first (input, in-flight, outputs,
// agent), then the admin server, then storage.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	cfg := opts.Config

	procLogger, err := logpkg.ApplyConfig(&logpkg.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		procLogger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(runtime.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        cfg,
	}, procLogger)
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("starting relay",
		logpkg.Str("data_dir", opts.DataDir),
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("gateway", opts.GatewayAddr),
		logpkg.Str("agent", cfg.Agent.URL))

	gateway := wsgw.New(wsgw.Config{
		Addr:            opts.GatewayAddr,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow(),
	}, procLogger)

	agentc, err := agent.New(agent.Config{
		URL:   cfg.Agent.URL,
		Token: cfg.Agent.Token,
		Retry: retry.Policy{
			MaxAttempts:       cfg.Retry.MaxAttempts,
			InitialDelay:      cfg.Retry.InitialDelay(),
			MaxDelay:          cfg.Retry.MaxDelay(),
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		},
	}, rt.Sessions(), procLogger)
	if err != nil {
		return err
	}

	kernel, err := dispatch.New(rt.Queues(), agentc, gateway,
		map[string]bus.Output{wsgw.SourceName: gateway},
		dispatch.Config{
			MaxQueueDepth: cfg.MaxQueueDepth,
			PollInterval:  cfg.PollInterval(),
			DrainTimeout:  cfg.DrainTimeout(),
			IngestFilter:  cfg.IngestFilter,
		}, procLogger)
	if err != nil {
		return err
	}

	// Anything stranded in processing by the previous run goes back to
	// pending before the loops start.
	for _, name := range []string{dispatch.QueueIncoming, dispatch.QueueOutgoing} {
		n, err := rt.Queues().Recover(sctx, name)
		if err != nil {
			return err
		}
		if n > 0 {
			procLogger.Info("requeued orphaned items",
				logpkg.Str("queue", name), logpkg.Int("count", n))
		}
	}

	if err := kernel.Run(sctx); err != nil {
		return err
	}

	hsrv := httpserver.New(rt)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			procLogger.Error("admin server failed", logpkg.Err(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		trimDoneLoop(sctx, rt, cfg.DoneKeep, procLogger)
	}()

	<-sctx.Done()
	kernel.Shutdown()
	hsrv.Close()
	wg.Wait()
	return nil
}

// trimDoneLoop bounds the done partitions so the archive doesn't grow
// without limit.
func trimDoneLoop(ctx context.Context, rt *runtime.Runtime, keep int, logger logpkg.Logger) {
	if keep <= 0 {
		return
	}
	ticker := time.NewTicker(trimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range []string{dispatch.QueueIncoming, dispatch.QueueOutgoing} {
				n, err := rt.Queues().TrimDone(ctx, name, keep)
				if err != nil {
					logger.Warn("trim done failed", logpkg.Str("queue", name), logpkg.Err(err))
					continue
				}
				if n > 0 {
					logger.Debug("trimmed done partition",
						logpkg.Str("queue", name), logpkg.Int("removed", n))
				}
			}
		}
	}
}
