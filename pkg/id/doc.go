// Package id provides a 128-bit, lexicographically sortable identifier for
// queued items.
//
// # Format
//
// The ID is 16 bytes big-endian: [8 bytes ms_timestamp][8 bytes random].
// Byte-wise (and therefore hex-string) comparison preserves chronological
// order across producers sharing a clock. The random tail keeps concurrently
// generated IDs unique; it does not order IDs generated within the same
// millisecond, which the queue accepts as documented ordering looseness.
//
// # Monotonicity
//
// The Generator pins the timestamp component to the last observed millisecond
// when the system clock regresses, so a later ID never sorts before an
// earlier one from the same process.
//
// Usage
//
//	g := id.NewGenerator()
//	newID := g.Next()
//	s := newID.String() // 32-char hex, sorts by enqueue time
package id
