package pkg

import (
	"context"
	"sync"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
)

// Bus is an in-process implementation of events.Publisher and
// events.Subscriber. It backs cross-tab propagation when all tabs share a
// process, and stands in for NATS in tests. Delivery is synchronous and
// best effort, matching the broadcast-channel semantics it replaces:
// correctness never depends on it.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]events.HandlerFunc
	logger   apt.Logger
}

func NewBus(logger apt.Logger) *Bus {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Bus{
		handlers: make(map[string][]events.HandlerFunc),
		logger:   logger,
	}
}

func (b *Bus) Publish(ctx context.Context, topic string, msg []byte) error {
	b.mu.RLock()
	handlers := make([]events.HandlerFunc, len(b.handlers[topic]))
	copy(handlers, b.handlers[topic])
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, msg); err != nil {
			b.logger.Debug("bus handler failed", "topic", topic, "error", err)
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string][]events.HandlerFunc)
	return nil
}
