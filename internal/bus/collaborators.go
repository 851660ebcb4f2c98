package bus

import "context"

// Input is a source of inbound messages (a chat gateway binding).
type Input interface {
	Start(ctx context.Context) error
	Stop() error
	// Messages is the hand-off channel to the kernel. The Input closes it
	// when it stops producing.
	Messages() <-chan Message
}

// Output delivers replies back to a chat surface. Send failures surface as
// errors; the kernel logs them and does not retry.
type Output interface {
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, resp Response) error
}

// Agent produces a reply for an inbound message. Implementations own their
// remote-call retries; a Process error must be safe for the kernel to log
// and drop.
type Agent interface {
	Start(ctx context.Context) error
	Stop() error
	Process(ctx context.Context, msg Message) (string, error)
}
