// Package httpserver exposes the relay's admin API: health, queue stats,
// and session inspection. It serves operators and the CLI, not chat
// traffic; that goes through the gateway.
package httpserver
