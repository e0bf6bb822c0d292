package moodtrace

import (
	"sync"

	"go.uber.org/zap"
)

type EventType string

const (
	EventCreated      EventType = "created"
	EventUpdated      EventType = "updated"
	EventDeleted      EventType = "deleted"
	EventSyncComplete EventType = "sync-complete"
)

type Event struct {
	Type      EventType `json:"type"`
	Entry     *Entry    `json:"entry,omitempty"`
	EntryID   string    `json:"entryId,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

type Listener func(Event)

// EventBus delivers change notifications synchronously to every subscriber in
// registration order. A panicking listener is isolated so the rest still
// receive the event. State resets per process lifetime.
type EventBus struct {
	mu        sync.Mutex
	nextID    int
	listeners []busListener
	logger    *zap.Logger
}

type busListener struct {
	id int
	fn Listener
}

func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{logger: logger}
}

// Subscribe registers fn and returns a handle that removes it. Unsubscribing
// twice is harmless.
func (b *EventBus) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, busListener{id: id, fn: fn})
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, l := range b.listeners {
			if l.id == id {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// Publish invokes every active listener synchronously, in registration order.
func (b *EventBus) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = NowMillis()
	}
	b.mu.Lock()
	snapshot := make([]busListener, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()

	for _, l := range snapshot {
		b.invoke(l, event)
	}
}

func (b *EventBus) invoke(l busListener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event listener panicked",
				zap.Int("listener", l.id),
				zap.String("event", string(event.Type)),
				zap.Any("panic", r))
		}
	}()
	l.fn(event)
}
