package status

import "sync"

// Handler receives connection state events.
type Handler func(StateEvent)

// Broadcaster fans out connection state transitions to subscribers.
// Delivery is synchronous and in subscription order. A new subscriber is
// handed the current state once at subscribe time so it can initialize.
type Broadcaster struct {
	mu      sync.Mutex
	current ConnectionState
	nextID  int
	order   []int
	subs    map[int]Handler
}

// NewBroadcaster starts in StateDisconnected.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		current: StateDisconnected,
		subs:    make(map[int]Handler),
	}
}

// Current returns the last published state.
func (b *Broadcaster) Current() ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscribe registers a handler and returns its unsubscribe func.
// The handler is immediately invoked with the current state (Old == New).
func (b *Broadcaster) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	b.order = append(b.order, id)
	current := b.current
	b.mu.Unlock()

	h(StateEvent{Old: current, New: current})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; !ok {
			return
		}
		delete(b.subs, id)
		for i, sid := range b.order {
			if sid == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Publish records the new state and notifies subscribers in order.
// Publishing the current state again is a no-op.
func (b *Broadcaster) Publish(next ConnectionState, cause error) {
	b.mu.Lock()
	if next == b.current {
		b.mu.Unlock()
		return
	}
	ev := StateEvent{Old: b.current, New: next, Err: cause}
	b.current = next
	handlers := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
