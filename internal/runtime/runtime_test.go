package runtime

import (
	"bytes"
	"context"
	"testing"

	cfgpkg "github.com/okline/relay/internal/config"
	pebblestore "github.com/okline/relay/internal/storage/pebble"
	logpkg "github.com/okline/relay/pkg/log"
)

func testLogger() logpkg.Logger {
	return logpkg.NewLogger(
		logpkg.WithLevel(logpkg.ErrorLevel),
		logpkg.WithOutput(&logpkg.WriterOutput{W: &bytes.Buffer{}}),
	)
}

func TestOpenCloseAndHealth(t *testing.T) {
	rt, err := Open(Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeAlways,
		Config:  cfgpkg.Default(),
	}, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if rt.Queues() == nil || rt.Sessions() == nil {
		t.Fatal("stores not wired")
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := cfgpkg.Default()
	ctx := context.Background()

	rt, err := Open(Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways, Config: cfg}, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := rt.Queues().Register("incoming"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := rt.Queues().Enqueue(ctx, "incoming", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := rt.Sessions().Set("general", "sess-1"); err != nil {
		t.Fatalf("set session: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rt2, err := Open(Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways, Config: cfg}, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rt2.Close()
	if err := rt2.Queues().Register("incoming"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if d := rt2.Queues().Depth("incoming"); d != 1 {
		t.Fatalf("depth after reopen: %d", d)
	}
	if id, ok := rt2.Sessions().Get("general"); !ok || id != "sess-1" {
		t.Fatalf("session after reopen: %q %v", id, ok)
	}
}
