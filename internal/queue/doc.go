// Package queue implements durable named FIFO queues with a three-partition
// item lifecycle.
//
// Each queued item lives in exactly one of three partitions at any observable
// instant, and moves between them with single atomic batches:
//
//  1. pending: enqueued, not yet claimed
//  2. processing: claimed by the consumer, work in flight
//  3. done: completed, retained for audit until trimmed
//
// # Keyspace
//
// All keys are prefixed with q/{name}/:
//
//	pending/{id}    - item record awaiting a consumer
//	processing/{id} - item record claimed by the consumer
//	done/{id}       - completed item record (audit buffer)
//
// Item ids sort lexicographically in enqueue order (millisecond timestamp
// prefix, random tail), so the smallest pending key is the oldest item. Ids
// minted within the same millisecond order by their random tail rather than
// arrival order; the relay accepts that looseness.
//
// # Crash recovery
//
// The partition an item occupies is a storage-visible fact. After a crash,
// anything still in processing was interrupted mid-flight; Recover moves it
// back to pending so the restarted consumer picks it up again (at-least-once
// delivery across restarts).
//
// The atomic move is a local mutual-exclusion primitive only. It does not
// coordinate consumers across processes or hosts; that would need leases and
// a reaper.
package queue
