// Package ratelimit provides per-key fixed-window admission control.
//
// Each key (a channel id, typically) gets a counter that resets when its
// window expires. Check either admits the caller or reports how many whole
// seconds remain until the window reopens. A background sweeper drops
// entries whose window has lapsed so long-lived processes with many distinct
// keys do not grow without bound.
package ratelimit
