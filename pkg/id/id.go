package id

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// ID is a 128-bit, lexicographically sortable identifier encoded as 16 bytes
// big-endian: [8 bytes ms_timestamp][8 bytes random tiebreaker].
type ID [16]byte

// Bytes returns the raw 16-byte representation.
func (i ID) Bytes() []byte { b := make([]byte, 16); copy(b, i[:]); return b }

// String returns the lowercase hex encoding. Hex preserves byte order, so
// string comparison equals byte comparison.
func (i ID) String() string { return hex.EncodeToString(i[:]) }

// TimestampMs returns the embedded enqueue timestamp in Unix milliseconds.
func (i ID) TimestampMs() int64 { return int64(binary.BigEndian.Uint64(i[0:8])) }

// Compare returns -1, 0, 1 based on lexical comparison.
func (i ID) Compare(other ID) int {
	for idx := 0; idx < 16; idx++ {
		if i[idx] < other[idx] {
			return -1
		}
		if i[idx] > other[idx] {
			return 1
		}
	}
	return 0
}

// Parse decodes a 32-character hex string produced by String.
func Parse(s string) (ID, error) {
	var out ID
	if len(s) != 32 {
		return out, errors.New("id: want 32 hex characters")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// Generator produces IDs whose timestamp component never decreases within a
// process, even if the wall clock steps backwards.
type Generator struct {
	mu     sync.Mutex
	lastMs int64
}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator { return &Generator{} }

// NowMs returns current time in milliseconds since Unix epoch.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// Next returns a new ID. IDs from the same millisecond are unique but their
// relative order is the random tail, not arrival order.
func (g *Generator) Next() ID {
	g.mu.Lock()
	ms := NowMs()
	if ms < g.lastMs {
		ms = g.lastMs
	}
	g.lastMs = ms
	g.mu.Unlock()

	var out ID
	binary.BigEndian.PutUint64(out[0:8], uint64(ms))
	if _, err := rand.Read(out[8:16]); err != nil {
		// crypto/rand never fails on supported platforms; fall back to the
		// clock so an ID is still produced.
		binary.BigEndian.PutUint64(out[8:16], uint64(time.Now().UnixNano()))
	}
	return out
}
