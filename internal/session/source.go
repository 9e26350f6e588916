package session

import (
	"sync"
	"time"
)

// EventKind names a user interaction.
type EventKind string

const (
	EventMouseDown  EventKind = "mousedown"
	EventMouseMove  EventKind = "mousemove"
	EventKeyPress   EventKind = "keypress"
	EventScroll     EventKind = "scroll"
	EventTouchStart EventKind = "touchstart"
	EventClick      EventKind = "click"
)

// DefaultActivityEvents returns the interactions that count as activity.
func DefaultActivityEvents() []EventKind {
	return []EventKind{
		EventMouseDown,
		EventMouseMove,
		EventKeyPress,
		EventScroll,
		EventTouchStart,
		EventClick,
	}
}

// Event is one observed user interaction.
type Event struct {
	Kind EventKind `json:"kind"`
	At   time.Time `json:"at"`
}

// ActivitySource delivers user interaction events to subscribers.
type ActivitySource interface {
	// Subscribe registers fn and returns a function that removes it.
	Subscribe(fn func(Event)) (cancel func())
}

// Broadcaster is an in-process ActivitySource. Transports publish the
// interactions they receive from the client into it.
type Broadcaster struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Event)
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]func(Event))}
}

// Subscribe implements ActivitySource.
func (b *Broadcaster) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.subs[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish delivers ev to every subscriber. Subscribers run outside the
// broadcaster's lock, so they may unsubscribe from inside the callback.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Subscribers returns the number of registered subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
