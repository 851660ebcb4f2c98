// Package dispatch runs the relay's core loop: admit inbound messages into
// the durable "incoming" queue, feed them to the agent, and route replies
// from the durable "outgoing" queue to the matching output.
//
// The kernel owns no business logic. Retries live inside the agent
// collaborator, rate limiting inside the gateway; the kernel's job is to
// keep items moving and to guarantee that a single bad message never takes
// the process down.
package dispatch
