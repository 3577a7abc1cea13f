package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler consumes a single event. Handlers must not block: they run
// synchronously on the publishing goroutine.
type Handler func(Event)

// Bus fans events out to registered handlers. A panicking or failing
// handler is isolated and logged; it can never abort the publisher.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	log      *zap.Logger
}

// NewBus creates an event bus. A nil logger disables panic reporting.
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers the event to every subscriber in registration order.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, e)
	}
}

func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("event handler panicked",
				zap.String("event_type", string(e.Type)),
				zap.Any("panic", r))
		}
	}()
	h(e)
}
