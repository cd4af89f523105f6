// Package bus is the message-bus boundary between the engine and the rest
// of the system: the request queue it drains, the reply/broadcast
// channels it publishes on, and the DB queue it feeds. Bus is an
// interface so the engine can be driven by an in-memory fake in tests
// without a live Redis instance.
package bus

import (
	"context"
	"time"
)

// Bus is everything the engine needs from the message bus. One Bus value
// is shared by the engine's single execution loop; it is not meant to be
// called concurrently from multiple goroutines.
type Bus interface {
	// PopRequest blocks up to timeout for the next request envelope on the
	// request queue. A nil slice with a nil error means the wait expired
	// with nothing delivered.
	PopRequest(ctx context.Context, timeout time.Duration) ([]byte, error)

	// PublishReply publishes payload on the per-request reply channel
	// named clientID.
	PublishReply(ctx context.Context, clientID string, payload []byte) error

	// PublishStream publishes payload on a broadcast channel (e.g.
	// "trade@SOL_USDC" or "depth@SOL_USDC").
	PublishStream(ctx context.Context, channel string, payload []byte) error

	// PushDBRecord enqueues payload on the DB writer's FIFO queue.
	PushDBRecord(ctx context.Context, payload []byte) error
}
