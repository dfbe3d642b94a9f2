package devicebus

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryBus is a synchronous in-process Bus used by tests and by single-node
// simulator setups. Publish dispatches to subscribers before returning, which
// keeps test assertions deterministic.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[MessageType][]Handler
	closed   bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		handlers: make(map[MessageType][]Handler),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, machineID string, t MessageType, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrUnavailable
	}
	handlers := append([]Handler(nil), b.handlers[t]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, machineID, payload)
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, t MessageType, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrUnavailable
	}
	b.handlers[t] = append(b.handlers[t], h)
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[MessageType][]Handler)
	return nil
}
