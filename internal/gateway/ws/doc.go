// Package ws is the WebSocket chat gateway. It plays both collaborator
// roles for the "ws" source: the Input side turns client frames into bus
// messages (with per-channel rate limiting), and the Output side fans
// responses out to every connection subscribed to the target channel.
package ws
