package provider

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sweetpotato0/toolchat/mcp"
	"github.com/sweetpotato0/toolchat/pkg/logging"
)

// EventKind identifies a supervisor notification.
type EventKind string

const (
	EventReady      EventKind = "ready"
	EventFailed     EventKind = "failed"
	EventToolsReady EventKind = "tools-ready"
	EventToolResult EventKind = "tool-result"
	EventToolFailed EventKind = "tool-failed"
	EventTerminated EventKind = "terminated"
)

// Event is published whenever a session changes state, refreshes its tools or
// completes an invocation routed through the supervisor.
type Event struct {
	Kind       EventKind
	Provider   string
	Generation uint64
	Server     mcp.ServerInfo
	Tool       string
	Tools      []string
	Result     string
	Err        error
	Time       time.Time
}

const defaultEventBuffer = 64

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// that falls behind loses events.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	next   int
	buffer int
	closed bool
	logger *slog.Logger
}

// NewBus creates a bus whose subscriptions buffer up to buffer events.
func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Bus{subs: make(map[int]chan Event), buffer: buffer, logger: logger}
}

// Subscribe returns a channel of events and a function that cancels the
// subscription. The channel is closed on cancel or when the bus closes.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers e to every subscriber that has room for it.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Debug("dropping provider event", "subscriber", id, "kind", e.Kind, "provider", e.Provider)
		}
	}
}

// Close closes every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
