package syncbus

import (
	"sync"
	"time"
)

// DefaultRequestTimeout is armed for requests registered without an explicit
// deadline.
const DefaultRequestTimeout = 10 * time.Second

// =============================================================================
// PENDING REQUEST
// =============================================================================

// pendingRequest tracks one in-flight interactive request.
//
// Owned exclusively by the PendingTable from creation until completion.
// Exactly one of {onReply invoked, onError invoked, removed for durable
// fallback} happens per instance; never more than one, never zero unless the
// process terminates first.
type pendingRequest struct {
	id        string
	envelope  Envelope
	onReply   func(payload []byte)
	onError   func(err error)
	createdAt time.Time
	timer     *time.Timer
}

// =============================================================================
// PENDING TABLE
// =============================================================================

// PendingTable maps request id to its in-flight entry and owns the per-entry
// timeout countdown.
//
// The table mutex is the single serialization point that makes the race
// between reply arrival and timeout firing safe: whichever completion reaches
// the lock first removes the entry, and the loser finds nothing to complete.
// Callbacks run on the delegate queue, never under the lock.
type PendingTable struct {
	delegate       *DelegateQueue
	defaultTimeout time.Duration

	mu      sync.Mutex
	entries map[string]*pendingRequest
}

// NewPendingTable creates a pending table delivering callbacks on delegate.
func NewPendingTable(delegate *DelegateQueue, defaultTimeout time.Duration) *PendingTable {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultRequestTimeout
	}
	return &PendingTable{
		delegate:       delegate,
		defaultTimeout: defaultTimeout,
		entries:        make(map[string]*pendingRequest),
	}
}

// Register stores an entry for the envelope and arms its timeout timer.
// Must be called before the envelope is handed to the transport so a fast
// reply always finds its bookkeeping.
func (t *PendingTable) Register(env Envelope, onReply func([]byte), onError func(error), timeout time.Duration) string {
	if timeout <= 0 {
		timeout = t.defaultTimeout
	}

	entry := &pendingRequest{
		id:        env.ID,
		envelope:  env,
		onReply:   onReply,
		onError:   onError,
		createdAt: time.Now(),
	}

	t.mu.Lock()
	t.entries[env.ID] = entry
	entry.timer = time.AfterFunc(timeout, func() {
		t.Complete(env.ID, nil, NewTimeoutError(env.ID, env.Type, timeout))
	})
	t.mu.Unlock()

	return env.ID
}

// Complete finishes the entry for id with a reply payload (err == nil) or an
// error, cancels its timer, and invokes exactly one callback on the delegate
// queue.
//
// Completing an unknown or already-completed id is a silent no-op and reports
// false. Idempotency is mandatory: a late reply and a timeout may race to
// complete the same id.
func (t *PendingTable) Complete(id string, payload []byte, err error) bool {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.entries, id)
	t.mu.Unlock()

	// A timer firing after its entry is removed is a guaranteed no-op, but
	// stopping it here avoids the wasted wakeup.
	entry.timer.Stop()

	t.delegate.Post(func() {
		if err != nil {
			if entry.onError != nil {
				entry.onError(err)
			}
			return
		}
		if entry.onReply != nil {
			entry.onReply(payload)
		}
	})
	return true
}

// Remove discards the entry for id without firing either callback.
//
// Used for the durable fallback path, where no reply is possible: the caller
// only learns that the send was accepted for eventual delivery.
func (t *PendingTable) Remove(id string) bool {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.entries, id)
	t.mu.Unlock()

	entry.timer.Stop()
	return true
}

// CancelAll completes every outstanding entry with a SessionInvalidated
// error. Invoked on transport deactivation.
func (t *PendingTable) CancelAll() int {
	t.mu.Lock()
	cancelled := make([]*pendingRequest, 0, len(t.entries))
	for _, entry := range t.entries {
		cancelled = append(cancelled, entry)
	}
	t.entries = make(map[string]*pendingRequest)
	t.mu.Unlock()

	for _, entry := range cancelled {
		entry.timer.Stop()
		err := NewSessionInvalidatedError(entry.id)
		onError := entry.onError
		t.delegate.Post(func() {
			if onError != nil {
				onError(err)
			}
		})
	}
	return len(cancelled)
}

// Len returns the number of outstanding entries.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Has reports whether an entry exists for id.
func (t *PendingTable) Has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}
