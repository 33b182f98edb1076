// Package events provides the process-local event bus, the durable event-log
// publisher, and live delivery to WebSocket/SSE clients.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// defaultQueueSize bounds each subscriber queue. Slow consumers drop events
// rather than block publishers; the event log is the replay source.
const defaultQueueSize = 256

// BusEvent is one in-memory event. Seq is zero for transient events that
// were never persisted.
type BusEvent struct {
	Type   string          `json:"type"`
	TaskID string          `json:"task_id,omitempty"`
	Seq    int64           `json:"seq,omitempty"`
	Data   json.RawMessage `json:"data"`
	TS     time.Time       `json:"ts"`
}

// Bus is a process-wide publisher/subscriber. Delivery is best-effort:
// Emit never blocks on a full subscriber queue.
type Bus struct {
	mu   sync.Mutex
	subs map[chan BusEvent]struct{}
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan BusEvent]struct{})}
}

// Subscribe returns a bounded queue that receives every subsequent event.
func (b *Bus) Subscribe() chan BusEvent {
	ch := make(chan BusEvent, defaultQueueSize)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber queue.
func (b *Bus) Unsubscribe(ch chan BusEvent) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Emit delivers evt to every subscriber with a non-blocking send.
func (b *Bus) Emit(evt BusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Queue full — drop. Clients reconcile via the event log.
		}
	}
}

// SubscriberCount returns the number of live subscriber queues.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
