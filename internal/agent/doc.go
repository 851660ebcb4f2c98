// Package agent implements the remote-agent collaborator: an HTTP JSON
// client that keeps one remote session per chat channel and turns inbound
// messages into replies.
//
// All remote calls go through the retry executor. When a prompt exhausts its
// retries the agent answers with an apology instead of surfacing the error,
// so the kernel completes the item and the user gets a response either way.
package agent
