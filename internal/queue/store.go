package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	pebblestore "github.com/okline/relay/internal/storage/pebble"
	"github.com/okline/relay/pkg/id"
	logpkg "github.com/okline/relay/pkg/log"
)

// Store manages named durable queues over a shared Pebble database.
//
// Enqueue may be called concurrently from multiple producers. Dequeue,
// Complete, and Recover serialize per queue on an internal mutex; the atomic
// partition move is the only cross-call coordination.
type Store struct {
	db     *pebblestore.DB
	gen    *id.Generator
	logger logpkg.Logger

	mu     sync.Mutex
	queues map[string]*queueState
}

type queueState struct {
	mu    sync.Mutex
	depth int
	// stray records undecodable pending keys already warned about, so a
	// wedged record does not spam the log on every poll.
	stray map[string]struct{}
}

// Stats reports per-partition item counts for a queue.
type Stats struct {
	Name       string `json:"name"`
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
	Done       int    `json:"done"`
}

// NewStore creates a queue store over db.
func NewStore(db *pebblestore.DB, logger logpkg.Logger) *Store {
	return &Store{
		db:     db,
		gen:    id.NewGenerator(),
		logger: logger.WithComponent("queue"),
		queues: make(map[string]*queueState),
	}
}

// Register idempotently ensures the queue exists and seeds its depth counter
// from the pending partition. Safe to call repeatedly.
func (s *Store) Register(name string) error {
	s.mu.Lock()
	if _, ok := s.queues[name]; ok {
		s.mu.Unlock()
		return nil
	}
	qs := &queueState{stray: make(map[string]struct{})}
	s.queues[name] = qs
	s.mu.Unlock()

	n, err := s.countPartition(pendingPrefix(name))
	if err != nil {
		return fmt.Errorf("register %q: %w", name, err)
	}
	qs.mu.Lock()
	qs.depth = n
	qs.mu.Unlock()
	return nil
}

func (s *Store) state(name string) (*queueState, error) {
	if err := s.Register(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queues[name], nil
}

// Names returns the registered queue names.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.queues))
	for name := range s.queues {
		out = append(out, name)
	}
	return out
}

// Enqueue durably writes data into the pending partition and returns the new
// item id. Ids sort in enqueue order, so the queue drains FIFO.
func (s *Store) Enqueue(ctx context.Context, name string, data interface{}) (string, error) {
	qs, err := s.state(name)
	if err != nil {
		return "", err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("enqueue %q: %w", name, err)
	}
	itemID := s.gen.Next().String()
	rec, err := encodeItem(Item{ID: itemID, Data: raw, EnqueuedAt: time.Now()})
	if err != nil {
		return "", fmt.Errorf("enqueue %q: %w", name, err)
	}
	if err := s.db.Set(pendingKey(name, itemID), rec); err != nil {
		return "", fmt.Errorf("enqueue %q: %w", name, err)
	}

	qs.mu.Lock()
	qs.depth++
	qs.mu.Unlock()
	return itemID, nil
}

// Dequeue claims the oldest pending item by atomically moving it into the
// processing partition and returns it. It returns (nil, nil) when the queue
// is empty, when a concurrent consumer won the claim, or when an I/O failure
// occurred (logged; the item stays where it is for inspection).
func (s *Store) Dequeue(ctx context.Context, name string) (*Item, error) {
	qs, err := s.state(name)
	if err != nil {
		return nil, err
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	itemID, rec, it, ok := s.oldestPending(name, qs)
	if !ok {
		return nil, nil
	}

	// The claim: one batch removes the pending key and writes the processing
	// key. Re-check existence first so a claim lost to another consumer
	// reads as "nothing available", not an error.
	pk := pendingKey(name, itemID)
	if exists, err := s.db.Has(pk); err != nil || !exists {
		if err != nil {
			s.logger.Warn("dequeue claim check failed",
				logpkg.Str("queue", name), logpkg.Str("id", itemID), logpkg.Err(err))
		}
		return nil, nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(pk, nil); err != nil {
		s.logger.Warn("dequeue move failed", logpkg.Str("queue", name), logpkg.Err(err))
		return nil, nil
	}
	if err := b.Set(processingKey(name, itemID), rec, nil); err != nil {
		s.logger.Warn("dequeue move failed", logpkg.Str("queue", name), logpkg.Err(err))
		return nil, nil
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		s.logger.Warn("dequeue commit failed", logpkg.Str("queue", name), logpkg.Err(err))
		return nil, nil
	}

	qs.depth--
	if qs.depth < 0 {
		qs.depth = 0
	}
	return &it, nil
}

// oldestPending returns the lexicographically smallest pending id whose
// record decodes as a valid item frame. Torn or foreign values are skipped,
// so a stray record at the head of the partition cannot wedge the queue.
func (s *Store) oldestPending(name string, qs *queueState) (string, []byte, Item, bool) {
	prefix := pendingPrefix(name)
	iter, err := s.db.PrefixIter(prefix)
	if err != nil {
		s.logger.Warn("pending scan failed", logpkg.Str("queue", name), logpkg.Err(err))
		return "", nil, Item{}, false
	}
	defer iter.Close()
	for ok := iter.First(); ok; ok = iter.Next() {
		itemID := itemIDFromKey(iter.Key(), prefix)
		rec := append([]byte(nil), iter.Value()...)
		it, valid := decodeItem(rec)
		if !valid {
			if _, seen := qs.stray[itemID]; !seen {
				qs.stray[itemID] = struct{}{}
				s.logger.Warn("skipping undecodable pending record",
					logpkg.Str("queue", name), logpkg.Str("id", itemID))
			}
			continue
		}
		return itemID, rec, it, true
	}
	return "", nil, Item{}, false
}

// Complete archives the item into the done partition. Completing an id that
// is not in processing (already completed, or never dequeued) is a no-op.
func (s *Store) Complete(ctx context.Context, name, itemID string) error {
	qs, err := s.state(name)
	if err != nil {
		return err
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	pk := processingKey(name, itemID)
	rec, err := s.db.Get(pk)
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("complete %q/%s: %w", name, itemID, err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(pk, nil); err != nil {
		return fmt.Errorf("complete %q/%s: %w", name, itemID, err)
	}
	if err := b.Set(doneKey(name, itemID), rec, nil); err != nil {
		return fmt.Errorf("complete %q/%s: %w", name, itemID, err)
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return fmt.Errorf("complete %q/%s: %w", name, itemID, err)
	}
	return nil
}

// Depth returns the tracked pending count.
func (s *Store) Depth(name string) int {
	s.mu.Lock()
	qs, ok := s.queues[name]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()
	return qs.depth
}

// RefreshDepth resynchronizes the tracked pending count from storage. Used
// after externally visible changes such as startup recovery.
func (s *Store) RefreshDepth(name string) error {
	qs, err := s.state(name)
	if err != nil {
		return err
	}
	n, err := s.countPartition(pendingPrefix(name))
	if err != nil {
		return fmt.Errorf("refresh depth %q: %w", name, err)
	}
	qs.mu.Lock()
	qs.depth = n
	qs.mu.Unlock()
	return nil
}

// Recover moves every item left in the processing partition back to pending.
// Anything found there at startup was interrupted mid-flight by a crash; the
// restarted consumer will process it again (at-least-once). Returns the
// number of requeued items.
func (s *Store) Recover(ctx context.Context, name string) (int, error) {
	qs, err := s.state(name)
	if err != nil {
		return 0, err
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	prefix := processingPrefix(name)
	iter, err := s.db.PrefixIter(prefix)
	if err != nil {
		return 0, fmt.Errorf("recover %q: %w", name, err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	moved := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		itemID := itemIDFromKey(iter.Key(), prefix)
		if itemID == "" {
			continue
		}
		rec := append([]byte(nil), iter.Value()...)
		if err := b.Delete(iter.Key(), nil); err != nil {
			iter.Close()
			return 0, fmt.Errorf("recover %q: %w", name, err)
		}
		if err := b.Set(pendingKey(name, itemID), rec, nil); err != nil {
			iter.Close()
			return 0, fmt.Errorf("recover %q: %w", name, err)
		}
		moved++
	}
	iter.Close()

	if moved == 0 {
		return 0, nil
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return 0, fmt.Errorf("recover %q: %w", name, err)
	}
	qs.depth += moved
	s.logger.Info("requeued interrupted items",
		logpkg.Str("queue", name), logpkg.Int("count", moved))
	return moved, nil
}

// TrimDone bounds the done partition to the newest keep records, deleting the
// oldest first. Returns the number of records removed.
func (s *Store) TrimDone(ctx context.Context, name string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	total, err := s.countPartition(donePrefix(name))
	if err != nil {
		return 0, fmt.Errorf("trim %q: %w", name, err)
	}
	excess := total - keep
	if excess <= 0 {
		return 0, nil
	}

	iter, err := s.db.PrefixIter(donePrefix(name))
	if err != nil {
		return 0, fmt.Errorf("trim %q: %w", name, err)
	}
	b := s.db.NewBatch()
	defer b.Close()
	removed := 0
	for ok := iter.First(); ok && removed < excess; ok = iter.Next() {
		if err := b.Delete(iter.Key(), nil); err != nil {
			iter.Close()
			return 0, fmt.Errorf("trim %q: %w", name, err)
		}
		removed++
	}
	iter.Close()
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return 0, fmt.Errorf("trim %q: %w", name, err)
	}
	return removed, nil
}

// Stats counts the items in each partition by scanning storage.
func (s *Store) Stats(name string) (Stats, error) {
	pending, err := s.countPartition(pendingPrefix(name))
	if err != nil {
		return Stats{}, err
	}
	processing, err := s.countPartition(processingPrefix(name))
	if err != nil {
		return Stats{}, err
	}
	done, err := s.countPartition(donePrefix(name))
	if err != nil {
		return Stats{}, err
	}
	return Stats{Name: name, Pending: pending, Processing: processing, Done: done}, nil
}

// countPartition counts valid item records under a partition prefix.
// Undecodable values are not items and are ignored.
func (s *Store) countPartition(prefix []byte) (int, error) {
	iter, err := s.db.PrefixIter(prefix)
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	n := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		if _, valid := decodeItem(iter.Value()); valid {
			n++
		}
	}
	return n, nil
}
