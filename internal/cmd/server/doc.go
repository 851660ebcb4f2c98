// Package serverrun assembles and runs a relay node: storage runtime,
// gateway, agent, dispatch kernel, and the admin HTTP API.
package serverrun
