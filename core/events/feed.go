package events

import (
	"sync"

	"datalayr/core/types"
	"datalayr/observability/metrics"
)

// Envelope is a committed-to-sink event stamped with the block height it was
// emitted at and its position within that block.
type Envelope struct {
	Height  uint64
	Seq     uint64
	Type    string
	Payload *types.Event
}

// EventType implements Event.
func (e Envelope) EventType() string { return e.Type }

// Fanout delivers every event to each emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// Hub broadcasts envelopes to live subscribers. A subscriber whose buffer is
// full misses the event rather than blocking the ledger.
type Hub struct {
	mu     sync.Mutex
	next   uint64
	subs   map[uint64]chan Envelope
	buffer int
}

// NewHub returns a hub giving each subscriber a buffer of the given size.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[uint64]chan Envelope), buffer: buffer}
}

// Emit implements the Emitter interface. Events that are not envelopes are
// ignored.
func (h *Hub) Emit(evt Event) {
	env, ok := evt.(Envelope)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- env:
		default:
			metrics.DataLayr().ObserveDropped("hub")
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel.
func (h *Hub) Subscribe() (<-chan Envelope, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan Envelope, h.buffer)
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
