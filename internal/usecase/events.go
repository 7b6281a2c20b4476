package usecase

import (
	"fmt"
	"sync"

	"MarketPulse/pkg/logger"
)

// EventListener receives one event payload. Listeners run synchronously
// on the emitter's goroutine, so per-event-type ordering follows
// emission order.
type EventListener func(payload interface{})

// EventBus is a minimal in-process pub/sub. A panicking listener is
// isolated; the remaining listeners still run.
type EventBus struct {
	mu        sync.Mutex
	listeners map[string][]EventListener
	log       *logger.Logger
}

// NewEventBus creates an empty bus.
func NewEventBus(log *logger.Logger) *EventBus {
	return &EventBus{
		listeners: make(map[string][]EventListener),
		log:       log,
	}
}

// On registers a listener for an event type. Listeners fire in
// registration order.
func (b *EventBus) On(event string, fn EventListener) {
	if fn == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[event] = append(b.listeners[event], fn)
}

// Off removes every listener for an event type.
func (b *EventBus) Off(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, event)
}

// Emit delivers the payload to every listener of the event type.
func (b *EventBus) Emit(event string, payload interface{}) {
	b.mu.Lock()
	fns := make([]EventListener, len(b.listeners[event]))
	copy(fns, b.listeners[event])
	b.mu.Unlock()

	for _, fn := range fns {
		b.dispatch(event, fn, payload)
	}
}

func (b *EventBus) dispatch(event string, fn EventListener, payload interface{}) {
	defer func() {
		if r := recover(); r != nil && b.log != nil {
			b.log.Error("event listener panicked",
				logger.String("event", event),
				logger.Error(fmt.Errorf("%v", r)))
		}
	}()
	fn(payload)
}
