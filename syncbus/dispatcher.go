package syncbus

import (
	"bytes"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// DISPATCHER
// =============================================================================

// Dispatcher is the single orchestration point for outbound and inbound
// traffic between the paired devices.
//
// Outbound, it decides interactive-vs-durable routing from the reachability
// flag at send time, drives the pending table, and deduplicates full-state
// broadcasts against the last acknowledged snapshot. Inbound, it correlates
// replies by id, routes envelopes by type tag, and fans events out through
// the observer registry.
//
// Thread-safe. Pending-table and snapshot bookkeeping is serialized by the
// dispatcher's own locks; caller callbacks and observer fan-out run on a
// separate delegate queue so transport bookkeeping never blocks on observer
// code and vice versa.
type Dispatcher struct {
	transport      Transport
	delegate       *DelegateQueue
	table          *PendingTable
	registry       *ObserverRegistry
	requestTimeout time.Duration
	logger         zerolog.Logger

	mu           sync.Mutex
	lastSnapshot []byte // last state payload acknowledged by the transport
	remoteState  []byte // last state payload received from the counterpart
	handlers     map[string]HandlerFunc
	middleware   []Middleware
}

// NewDispatcher creates a dispatcher over the given transport.
//
// requestTimeout bounds every interactive request; zero selects
// DefaultRequestTimeout. The caller wires the dispatcher into the transport
// as its TransportDelegate.
func NewDispatcher(transport Transport, requestTimeout time.Duration, logger zerolog.Logger) *Dispatcher {
	delegate := NewDelegateQueue(64)
	return &Dispatcher{
		transport:      transport,
		delegate:       delegate,
		table:          NewPendingTable(delegate, requestTimeout),
		registry:       NewObserverRegistry(delegate),
		requestTimeout: requestTimeout,
		logger:         logger.With().Str("component", "dispatcher").Logger(),
		handlers:       make(map[string]HandlerFunc),
	}
}

// Close cancels all outstanding requests and drains the delegate queue.
func (d *Dispatcher) Close() {
	d.table.CancelAll()
	d.delegate.Close()
}

// Registry exposes the observer registry for subscription management.
func (d *Dispatcher) Registry() *ObserverRegistry {
	return d.registry
}

// Subscribe registers an observer for dispatcher events.
func (d *Dispatcher) Subscribe(obs *Observer) SubscriptionHandle {
	return d.registry.Subscribe(obs)
}

// Unsubscribe removes a subscription explicitly.
func (d *Dispatcher) Unsubscribe(handle SubscriptionHandle) {
	d.registry.Unsubscribe(handle)
}

// PendingCount returns the number of in-flight interactive requests.
func (d *Dispatcher) PendingCount() int {
	return d.table.Len()
}

// =============================================================================
// REGISTRATION
// =============================================================================

// RegisterHandler registers the handler for a type tag.
// Only one handler per tag is allowed.
func (d *Dispatcher) RegisterHandler(msgType string, handler HandlerFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[msgType]; exists {
		return NewAlreadyRegisteredError(msgType)
	}
	d.handlers[msgType] = handler
	d.logger.Debug().Str("type", msgType).Msg("registered handler")
	return nil
}

// AddMiddleware appends middleware, executed in registration order.
func (d *Dispatcher) AddMiddleware(mw Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middleware = append(d.middleware, mw)
}

func (d *Dispatcher) middlewareSnapshot() []Middleware {
	d.mu.Lock()
	defer d.mu.Unlock()
	mws := make([]Middleware, len(d.middleware))
	copy(mws, d.middleware)
	return mws
}

// =============================================================================
// OUTBOUND
// =============================================================================

// Send encodes value into an envelope and performs exactly one delivery
// attempt, routed by reachability at send time.
//
// Completion is always asynchronous: onReply or onError fires exactly once on
// the delegate queue for the interactive path. On the durable fallback path
// neither fires; the payload was accepted for eventual delivery and the
// caller learns nothing further (unless the fallback itself is rejected,
// which is surfaced through onError). Retry semantics belong to the caller.
func (d *Dispatcher) Send(msgType string, value any, priority Priority, onReply func([]byte), onError func(error)) {
	if state := d.transport.ActivationState(); !state.Usable() {
		d.failAsync(onError, NewNotActivatedError(state))
		return
	}

	env, err := NewEnvelope(msgType, value, priority)
	if err != nil {
		d.failAsync(onError, err)
		return
	}

	mws := d.middlewareSnapshot()
	for _, mw := range mws {
		mw.BeforeSend(env)
	}

	// Bookkeeping exists before the envelope reaches the wire, so a reply
	// cannot arrive ahead of its table entry.
	id := d.table.Register(env, onReply, onError, d.requestTimeout)

	if !d.transport.Reachable() {
		d.table.Remove(id)
		sendErr := d.transport.SendDurable(env)
		for _, mw := range mws {
			mw.AfterSend(env, PathDurable, sendErr)
		}
		if sendErr != nil {
			d.logger.Warn().Str("id", id).Str("type", msgType).Err(sendErr).Msg("durable fallback rejected")
			d.failAsync(onError, NewDurableRejectedError(id, sendErr))
			return
		}
		d.logger.Debug().Str("id", id).Str("type", msgType).Msg("queued on durable path")
		return
	}

	sendErr := d.transport.SendInteractive(env, func(payload []byte, replyErr error) {
		if replyErr != nil {
			d.table.Complete(id, nil, NewTransportError(id, replyErr))
			return
		}
		d.table.Complete(id, payload, nil)
	})
	for _, mw := range mws {
		mw.AfterSend(env, PathInteractive, sendErr)
	}
	if sendErr != nil {
		d.table.Complete(id, nil, NewTransportError(id, sendErr))
	}
}

// failAsync delivers err on the delegate queue without creating a table
// entry. Errors are never thrown across the context boundary.
func (d *Dispatcher) failAsync(onError func(error), err error) {
	d.logger.Debug().Err(err).Msg("send failed before transmission")
	d.delegate.Post(func() {
		if onError != nil {
			onError(err)
		}
	})
}

// PublishState publishes a full-state snapshot on the last-value-wins
// channel.
//
// A payload bit-identical to the last acknowledged snapshot is a logged
// no-op, not an error. The cached snapshot is only replaced after the
// transport accepted the send, never speculatively.
func (d *Dispatcher) PublishState(payload []byte) error {
	d.mu.Lock()
	duplicate := d.lastSnapshot != nil && bytes.Equal(d.lastSnapshot, payload)
	d.mu.Unlock()

	mws := d.middlewareSnapshot()
	if duplicate {
		d.logger.Debug().Msg("state broadcast unchanged, skipping")
		for _, mw := range mws {
			mw.OnStateBroadcast(true, nil)
		}
		return nil
	}

	if err := d.transport.ReplaceLatestState(payload); err != nil {
		for _, mw := range mws {
			mw.OnStateBroadcast(false, err)
		}
		return NewTransportError("state", err)
	}

	d.mu.Lock()
	d.lastSnapshot = append([]byte(nil), payload...)
	d.mu.Unlock()

	for _, mw := range mws {
		mw.OnStateBroadcast(false, nil)
	}
	return nil
}

// =============================================================================
// INBOUND (TransportDelegate)
// =============================================================================

// OnReplyReceived correlates an inbound reply to its outstanding request.
// Unknown or already-completed ids are a silent no-op; a late reply after a
// timeout must not fire a second callback.
func (d *Dispatcher) OnReplyReceived(id string, payload []byte) {
	if !d.table.Complete(id, payload, nil) {
		d.logger.Debug().Str("id", id).Msg("reply for unknown or completed request, dropping")
	}
}

// OnEnvelopeReceived routes an inbound envelope by its type tag.
//
// Unroutable envelopes and decode failures are logged and dropped; the
// sender receives no negative acknowledgement, and one bad envelope never
// poisons the dispatcher for the next.
func (d *Dispatcher) OnEnvelopeReceived(env Envelope, reply func(payload []byte)) {
	d.mu.Lock()
	handler, ok := d.handlers[env.Type]
	d.mu.Unlock()

	if !ok {
		d.logger.Warn().Str("id", env.ID).Str("type", env.Type).Msg("no handler for envelope type, dropping")
		return
	}

	if err := handler(env, reply); err != nil {
		d.logger.Warn().Str("id", env.ID).Str("type", env.Type).Err(err).Msg("envelope unroutable, dropping")
		return
	}

	d.registry.Dispatch(Event{Type: env.Type, Envelope: env, At: time.Now()})
}

// OnStateReceived replaces the cached counterpart snapshot unconditionally.
// Last writer wins: there is no ordering metadata beyond arrival order, so a
// reconnect can regress the cache to a stale value.
func (d *Dispatcher) OnStateReceived(payload []byte) {
	d.mu.Lock()
	d.remoteState = append([]byte(nil), payload...)
	d.mu.Unlock()

	d.registry.NotifyState(payload)
}

// RemoteState returns the last snapshot received from the counterpart.
func (d *Dispatcher) RemoteState() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.remoteState == nil {
		return nil
	}
	return append([]byte(nil), d.remoteState...)
}

// OnReachabilityChanged mirrors the transport signal to observers.
func (d *Dispatcher) OnReachabilityChanged(reachable bool) {
	d.logger.Info().Bool("reachable", reachable).Msg("reachability changed")
	d.registry.NotifyReachability(reachable)
}

// OnActivationStateChanged mirrors the lifecycle transition to observers.
// Deactivation cancels every outstanding request with SessionInvalidated.
func (d *Dispatcher) OnActivationStateChanged(state ActivationState, err error) {
	d.logger.Info().Str("state", string(state)).Err(err).Msg("activation state changed")

	if state == ActivationStateDeactivated {
		if n := d.table.CancelAll(); n > 0 {
			d.logger.Warn().Int("cancelled", n).Msg("session deactivated with requests in flight")
		}
	}

	d.registry.NotifyActivation(state, err)
}

// OnDurableDeliveryFinished records the eventual outcome of a durable send.
func (d *Dispatcher) OnDurableDeliveryFinished(id string, err error) {
	if err != nil {
		d.logger.Warn().Str("id", id).Err(err).Msg("durable delivery failed")
		return
	}
	d.logger.Debug().Str("id", id).Msg("durable delivery finished")
}

// Ensure Dispatcher implements the transport delegate contract.
var _ TransportDelegate = (*Dispatcher)(nil)
