package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	cfgpkg "github.com/okline/relay/internal/config"
	"github.com/okline/relay/internal/queue"
	"github.com/okline/relay/internal/session"
	pebblestore "github.com/okline/relay/internal/storage/pebble"
	logpkg "github.com/okline/relay/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
}

// Runtime wires storage, config, and the durable stores for a single-node
// instance.
type Runtime struct {
	db       *pebblestore.DB
	queues   *queue.Store
	sessions *session.Store
	config   cfgpkg.Config
}

// Open initializes the underlying storage and loads the session snapshot.
// The Pebble store lives under DataDir/store; the session snapshot sits at
// the DataDir root.
func Open(opts Options, logger logpkg.Logger) (*Runtime, error) {
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       filepath.Join(opts.DataDir, "store"),
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	sessions := session.NewStore(session.Options{
		Dir:      opts.DataDir,
		Debounce: opts.Config.SessionDebounce(),
	}, logger)
	if err := sessions.Load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	return &Runtime{
		db:       db,
		queues:   queue.NewStore(db, logger),
		sessions: sessions,
		config:   opts.Config,
	}, nil
}

// Close flushes the session snapshot and closes the database.
func (r *Runtime) Close() error {
	var firstErr error
	if r.sessions != nil {
		if err := r.sessions.Close(); err != nil {
			firstErr = err
		}
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CheckHealth performs a simple storage health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// Queues returns the durable queue store.
func (r *Runtime) Queues() *queue.Store { return r.queues }

// Sessions returns the channel-to-session snapshot store.
func (r *Runtime) Sessions() *session.Store { return r.sessions }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
