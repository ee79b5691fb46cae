// Package syncbus provides the reliable message-delivery core that keeps a
// primary device and its companion wearable synchronized.
//
// This module defines the CANONICAL protocols for the link layer.
// Domain code depends on these protocols, not on transport implementations.
//
// Protocol Categories:
//   - Transport Protocols: Transport, TransportDelegate
//   - Dispatch Protocols: Handler, Middleware
//   - Observer Protocols: Observer, Event
package syncbus

import (
	"time"
)

// =============================================================================
// CANONICAL ENUMS
// =============================================================================

// ActivationState represents the lifecycle state of the link session.
type ActivationState string

const (
	// ActivationStateNotActivated indicates the session was never started.
	ActivationStateNotActivated ActivationState = "not_activated"
	// ActivationStateActivating indicates session setup is in progress.
	ActivationStateActivating ActivationState = "activating"
	// ActivationStateActivated indicates the session is usable.
	ActivationStateActivated ActivationState = "activated"
	// ActivationStateInactive indicates the counterpart app is suspended.
	ActivationStateInactive ActivationState = "inactive"
	// ActivationStateDeactivated indicates the session was torn down.
	ActivationStateDeactivated ActivationState = "deactivated"
)

// Usable reports whether the session accepts outbound traffic.
func (s ActivationState) Usable() bool {
	return s == ActivationStateActivated
}

// Priority represents the delivery priority of an envelope.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// String returns the wire name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// =============================================================================
// TRANSPORT PROTOCOLS
// =============================================================================

// ReplyFunc receives the counterpart's reply payload for an interactive send,
// or the transport-level error that ended the attempt.
type ReplyFunc func(payload []byte, err error)

// Transport is the facade over the platform link session.
//
// The dispatcher is the only caller; nothing else mutates session state.
// Reachable may flip asynchronously at any time, so it must be re-checked at
// send time, never cached across calls.
type Transport interface {
	// ActivationState returns the current session lifecycle state.
	ActivationState() ActivationState

	// Reachable reports whether the interactive path is currently usable.
	Reachable() bool

	// SendInteractive transmits an envelope over the low-latency path.
	// The onResult callback fires exactly once with either the counterpart's
	// reply payload or a transport-level error.
	SendInteractive(env Envelope, onResult ReplyFunc) error

	// SendDurable queues an envelope for eventual delivery. A nil return
	// means "accepted for eventual delivery", not "delivered".
	SendDurable(env Envelope) error

	// ReplaceLatestState publishes a full-state snapshot on the
	// last-value-wins channel. Intermediate values may be coalesced.
	ReplaceLatestState(payload []byte) error
}

// TransportDelegate receives inbound traffic and session signals from a
// Transport implementation. The Dispatcher implements this interface.
type TransportDelegate interface {
	// OnActivationStateChanged reports a session lifecycle transition.
	OnActivationStateChanged(state ActivationState, err error)

	// OnReachabilityChanged reports an asynchronous reachability flip.
	OnReachabilityChanged(reachable bool)

	// OnEnvelopeReceived delivers an inbound request or fire-and-forget
	// envelope. reply may be nil when the sender expects no answer.
	OnEnvelopeReceived(env Envelope, reply func(payload []byte))

	// OnReplyReceived delivers the reply to an outstanding request.
	OnReplyReceived(id string, payload []byte)

	// OnStateReceived delivers a full-state snapshot from the counterpart.
	OnStateReceived(payload []byte)

	// OnDurableDeliveryFinished reports the outcome of a queued durable send.
	OnDurableDeliveryFinished(id string, err error)
}

// =============================================================================
// DISPATCH PROTOCOLS
// =============================================================================

// HandlerFunc processes an inbound envelope routed by type tag.
// The reply function is nil for fire-and-forget envelopes.
//
// A DecodingError return means the payload did not match the schema implied
// by the type tag; the dispatcher logs and drops the envelope, and the event
// is never fanned out to observers.
type HandlerFunc func(env Envelope, reply func(payload []byte)) error

// Send path names reported to middleware.
const (
	PathInteractive = "interactive"
	PathDurable     = "durable"
)

// Middleware intercepts dispatcher traffic for cross-cutting concerns.
// Used for logging and metrics; it must not mutate the envelope.
type Middleware interface {
	// BeforeSend is called after encoding, before the routing decision.
	BeforeSend(env Envelope)

	// AfterSend is called once the single delivery attempt was handed to the
	// transport. path is PathInteractive or PathDurable; err is the
	// immediate transport-level outcome, not the eventual reply.
	AfterSend(env Envelope, path string, err error)

	// OnStateBroadcast is called for every PublishState call. deduped is
	// true when the payload matched the last acknowledged snapshot and no
	// transport call was made.
	OnStateBroadcast(deduped bool, err error)
}

// =============================================================================
// OBSERVER PROTOCOLS
// =============================================================================

// Event is a domain notification fanned out to registered observers.
type Event struct {
	// Type is the envelope type tag that produced the event.
	Type string
	// Envelope is the inbound envelope, by value.
	Envelope Envelope
	// At is the local arrival instant.
	At time.Time
}

// Observer receives events on the delegate execution context. Callers keep
// ownership of the pointer they subscribe; the registry holds only a weak
// reference and prunes the entry once the observer is gone.
//
// Nil callback fields are skipped.
type Observer struct {
	// OnEvent receives every routed inbound envelope.
	OnEvent func(Event)
	// OnStateUpdated receives every accepted full-state snapshot.
	OnStateUpdated func(payload []byte)
	// OnReachabilityChanged mirrors the transport reachability signal.
	OnReachabilityChanged func(reachable bool)
	// OnActivationStateChanged mirrors session lifecycle transitions.
	OnActivationStateChanged func(state ActivationState, err error)
}
