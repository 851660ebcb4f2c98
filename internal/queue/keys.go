package queue

// Key prefixes for the three queue partitions.
const (
	partPending    = "pending/"
	partProcessing = "processing/"
	partDone       = "done/"
)

// queuePrefix returns the base prefix for a named queue.
// Format: q/{name}/
func queuePrefix(name string) string {
	return "q/" + name + "/"
}

func pendingPrefix(name string) []byte    { return []byte(queuePrefix(name) + partPending) }
func processingPrefix(name string) []byte { return []byte(queuePrefix(name) + partProcessing) }
func donePrefix(name string) []byte       { return []byte(queuePrefix(name) + partDone) }

// pendingKey returns the pending-partition key for an item.
// Format: q/{name}/pending/{id}
func pendingKey(name, itemID string) []byte {
	return []byte(queuePrefix(name) + partPending + itemID)
}

// processingKey returns the processing-partition key for an item.
// Format: q/{name}/processing/{id}
func processingKey(name, itemID string) []byte {
	return []byte(queuePrefix(name) + partProcessing + itemID)
}

// doneKey returns the done-partition key for an item.
// Format: q/{name}/done/{id}
func doneKey(name, itemID string) []byte {
	return []byte(queuePrefix(name) + partDone + itemID)
}

// itemIDFromKey extracts the item id from a partition key.
func itemIDFromKey(key, prefix []byte) string {
	if len(key) <= len(prefix) {
		return ""
	}
	return string(key[len(prefix):])
}
