package queue

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"time"
)

// Item is one queued unit of work. Items are written once and never mutated
// in place; lifecycle transitions move the whole record between partitions.
type Item struct {
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Decode unmarshals the item payload into v.
func (it *Item) Decode(v interface{}) error {
	return json.Unmarshal(it.Data, v)
}

// Item record framing: bodyLen(4B BE) | json body | crc32c(body).
// The trailing checksum lets a partition scan distinguish real item records
// from stray or torn values.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encodeItem(it Item) ([]byte, error) {
	body, err := json.Marshal(it)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 4+len(body)+4)
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(body)))
	out = append(out, lb[:]...)
	out = append(out, body...)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc32.Checksum(body, castagnoli))
	out = append(out, cb[:]...)
	return out, nil
}

func decodeItem(b []byte) (Item, bool) {
	if len(b) < 8 {
		return Item{}, false
	}
	blen := binary.BigEndian.Uint32(b[:4])
	if int(4+blen+4) != len(b) {
		return Item{}, false
	}
	body := b[4 : 4+blen]
	if crc32.Checksum(body, castagnoli) != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return Item{}, false
	}
	var it Item
	if err := json.Unmarshal(body, &it); err != nil {
		return Item{}, false
	}
	return it, true
}
