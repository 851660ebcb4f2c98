// Package log provides the relay's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Entries flow through a Formatter
// (text or JSON) into one or more Outputs (console by default).
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("dispatch"))
//	l.Info("kernel started", log.Int("max_depth", 100))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config holding a level
// name and a format name, the shape the CLI and env wiring produce.
//
// # Interop
//
// RedirectStdLog points the standard library's default logger (used by
// Pebble, among others) at a Logger so all process output shares one
// pipeline.
package log
