package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/caddiehq/wristlink/syncbus"
)

// PendingDelivery tracks one durable envelope awaiting its ack.
type PendingDelivery struct {
	Envelope      syncbus.Envelope
	QueuedAt      time.Time
	Attempts      int
	LastAttemptAt time.Time
}

// Outbox holds durable envelopes until the counterpart acknowledges them.
// FIFO by queue time; bounded so a long offline stretch cannot grow without
// limit.
type Outbox struct {
	mu    sync.RWMutex
	limit int
	order []string
	items map[string]PendingDelivery
}

// NewOutbox creates an outbox holding at most limit entries.
func NewOutbox(limit int) *Outbox {
	return &Outbox{
		limit: limit,
		items: make(map[string]PendingDelivery),
	}
}

// Enqueue admits an envelope for eventual delivery. A full outbox rejects;
// re-enqueueing an id already present refreshes nothing and is not an error.
func (o *Outbox) Enqueue(env syncbus.Envelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.items[env.ID]; exists {
		return nil
	}
	if len(o.items) >= o.limit {
		return fmt.Errorf("outbox full (%d entries)", o.limit)
	}
	o.items[env.ID] = PendingDelivery{Envelope: env, QueuedAt: time.Now()}
	o.order = append(o.order, env.ID)
	return nil
}

// MarkAttempt records a transmission attempt for id.
func (o *Outbox) MarkAttempt(id string, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[id]
	if !ok {
		return
	}
	item.Attempts++
	item.LastAttemptAt = at
	o.items[id] = item
}

// Remove drops id after its ack. Unknown ids are a no-op.
func (o *Outbox) Remove(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.items[id]; !ok {
		return false
	}
	delete(o.items, id)
	for i, queued := range o.order {
		if queued == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns pending deliveries in queue order.
func (o *Outbox) List() []PendingDelivery {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]PendingDelivery, 0, len(o.items))
	for _, id := range o.order {
		if item, ok := o.items[id]; ok {
			out = append(out, item)
		}
	}
	return out
}

// Len returns the number of pending deliveries.
func (o *Outbox) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.items)
}
