// Package runtime wires the durable stores for a single relay node: the
// Pebble database, the queue store on top of it, and the session snapshot.
package runtime
