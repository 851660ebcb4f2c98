package bus

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed inbound packets; they are rejected
	// before queueing.
	ErrValidation = errors.New("validation failed")
	// ErrTransient marks remote failures eligible for retry.
	ErrTransient = errors.New("transient remote error")
	// ErrQueueIO marks durable-store read/move failures. The affected item
	// stays in its current partition for inspection.
	ErrQueueIO = errors.New("queue i/o error")
	// ErrSessionPersist marks a failed session save. It propagates to the
	// mutating caller because losing the mapping is user-visible.
	ErrSessionPersist = errors.New("session persist failed")
)

func validationError(reason string) error {
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}

// Transient wraps err so it matches ErrTransient via errors.Is.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
