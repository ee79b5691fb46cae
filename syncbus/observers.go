package syncbus

import (
	"sync"
	"weak"

	"github.com/google/uuid"
)

// =============================================================================
// OBSERVER REGISTRY
// =============================================================================

// SubscriptionHandle identifies one subscription for explicit removal.
type SubscriptionHandle struct {
	id string
}

// observerEntry is a non-owning reference to a registered observer.
type observerEntry struct {
	id  string
	ref weak.Pointer[Observer]
}

// ObserverRegistry is a weakly-referenced multicast list of observers.
//
// Registration stores only a weak reference: when the owner releases its
// observer, the next dispatch skips the entry and prunes it, so an observer
// disappearing mid-flight never leaks memory or faults a dispatch. Delivery
// happens on the delegate queue in insertion order.
type ObserverRegistry struct {
	delegate *DelegateQueue

	mu      sync.Mutex
	entries []observerEntry
}

// NewObserverRegistry creates a registry delivering on delegate.
func NewObserverRegistry(delegate *DelegateQueue) *ObserverRegistry {
	return &ObserverRegistry{delegate: delegate}
}

// Subscribe registers an observer and returns its handle.
//
// Subscribing the same observer object again replaces the existing entry in
// place rather than duplicating it; the returned handle supersedes any
// earlier one.
func (r *ObserverRegistry) Subscribe(obs *Observer) SubscriptionHandle {
	ref := weak.Make(obs)
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, entry := range r.entries {
		if entry.ref == ref {
			r.entries[i].id = id
			return SubscriptionHandle{id: id}
		}
	}
	r.entries = append(r.entries, observerEntry{id: id, ref: ref})
	return SubscriptionHandle{id: id}
}

// Unsubscribe removes the subscription explicitly. Unknown handles are a
// no-op.
func (r *ObserverRegistry) Unsubscribe(handle SubscriptionHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, entry := range r.entries {
		if entry.id == handle.id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered entries, including any not yet pruned.
func (r *ObserverRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Dispatch fans an event out to live observers on the delegate queue.
func (r *ObserverRegistry) Dispatch(event Event) {
	r.each(func(obs *Observer) {
		if obs.OnEvent != nil {
			obs.OnEvent(event)
		}
	})
}

// NotifyState fans an accepted full-state snapshot out to live observers.
func (r *ObserverRegistry) NotifyState(payload []byte) {
	r.each(func(obs *Observer) {
		if obs.OnStateUpdated != nil {
			obs.OnStateUpdated(payload)
		}
	})
}

// NotifyReachability fans a reachability flip out to live observers.
func (r *ObserverRegistry) NotifyReachability(reachable bool) {
	r.each(func(obs *Observer) {
		if obs.OnReachabilityChanged != nil {
			obs.OnReachabilityChanged(reachable)
		}
	})
}

// NotifyActivation fans a session lifecycle transition out to live observers.
func (r *ObserverRegistry) NotifyActivation(state ActivationState, err error) {
	r.each(func(obs *Observer) {
		if obs.OnActivationStateChanged != nil {
			obs.OnActivationStateChanged(state, err)
		}
	})
}

// each posts one fan-out pass to the delegate queue: iterate live observers
// in insertion order, then lazily prune entries whose referent is gone.
func (r *ObserverRegistry) each(fn func(*Observer)) {
	r.delegate.Post(func() {
		r.mu.Lock()
		snapshot := make([]observerEntry, len(r.entries))
		copy(snapshot, r.entries)
		r.mu.Unlock()

		expired := make(map[string]struct{})
		for _, entry := range snapshot {
			obs := entry.ref.Value()
			if obs == nil {
				expired[entry.id] = struct{}{}
				continue
			}
			fn(obs)
		}

		if len(expired) == 0 {
			return
		}

		r.mu.Lock()
		live := r.entries[:0]
		for _, entry := range r.entries {
			if _, gone := expired[entry.id]; !gone {
				live = append(live, entry)
			}
		}
		r.entries = live
		r.mu.Unlock()
	})
}
