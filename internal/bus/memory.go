package bus

import (
	"context"
	"sync"
	"time"
)

// MemoryBus is an in-process Bus used by tests and by the engine test
// harness. Requests pushed via PushRequest are drained FIFO by PopRequest;
// every publish is recorded for assertions.
type MemoryBus struct {
	mu       sync.Mutex
	requests [][]byte

	Replies []PublishedReply
	Streams []PublishedStream
	DBRecs  [][]byte
}

type PublishedReply struct {
	ClientID string
	Payload  []byte
}

type PublishedStream struct {
	Channel string
	Payload []byte
}

// NewMemoryBus returns an empty MemoryBus ready for use.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// PushRequest enqueues a request envelope for a subsequent PopRequest to
// return. Test-only entry point; not part of the Bus interface.
func (m *MemoryBus) PushRequest(payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, payload)
}

func (m *MemoryBus) PopRequest(ctx context.Context, timeout time.Duration) ([]byte, error) {
	m.mu.Lock()
	if len(m.requests) > 0 {
		next := m.requests[0]
		m.requests = m.requests[1:]
		m.mu.Unlock()
		return next, nil
	}
	m.mu.Unlock()
	return nil, nil
}

func (m *MemoryBus) PublishReply(ctx context.Context, clientID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Replies = append(m.Replies, PublishedReply{ClientID: clientID, Payload: payload})
	return nil
}

func (m *MemoryBus) PublishStream(ctx context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Streams = append(m.Streams, PublishedStream{Channel: channel, Payload: payload})
	return nil
}

func (m *MemoryBus) PushDBRecord(ctx context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DBRecs = append(m.DBRecs, payload)
	return nil
}
