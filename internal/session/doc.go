// Package session persists the channel-to-remote-session mapping that keeps a
// conversation on the same remote context across restarts.
//
// The whole mapping is one JSON snapshot replaced wholesale on every save via
// write-to-temporary-then-rename, so a crash mid-write never leaves a torn
// record visible. Saves are write-through by default; a debounce interval can
// batch them when write amplification matters more than the durability point.
package session
