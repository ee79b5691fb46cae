package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/caddiehq/wristlink/companion/observability"
	"github.com/caddiehq/wristlink/syncbus"
)

// frameStream is the shared shape of the two gRPC stream ends.
type frameStream interface {
	Send(*Frame) error
	Recv() (*Frame, error)
}

// ErrLinkDetached is returned for interactive and state sends while no
// counterpart stream is attached.
var ErrLinkDetached = errors.New("transport: link detached")

// Link implements syncbus.Transport over one attached frame stream.
//
// Exactly one stream is attached at a time; the listen and dial endpoints
// manage attachment. Reachability mirrors attachment. Durable envelopes park
// in the outbox while detached and flush on the next attach.
type Link struct {
	logger zerolog.Logger
	outbox *Outbox

	mu       sync.Mutex
	delegate syncbus.TransportDelegate
	state    syncbus.ActivationState
	stream   frameStream
	replies  map[string]pendingReply

	// sendMu serializes stream writes; gRPC streams allow one writer.
	sendMu sync.Mutex
}

// NewLink creates a detached link that has never been activated.
func NewLink(outboxLimit int, logger zerolog.Logger) *Link {
	return &Link{
		logger:  logger.With().Str("component", "transport").Logger(),
		outbox:  NewOutbox(outboxLimit),
		state:   syncbus.ActivationStateNotActivated,
		replies: make(map[string]pendingReply),
	}
}

// pendingReply holds the callback for an interactive send awaiting its reply
// frame, plus what the round-trip metric needs.
type pendingReply struct {
	onResult syncbus.ReplyFunc
	msgType  string
	sentAt   time.Time
}

// SetDelegate wires the inbound event sink. Must be set before Activate.
func (l *Link) SetDelegate(d syncbus.TransportDelegate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delegate = d
}

// Outbox exposes the durable queue for inspection.
func (l *Link) Outbox() *Outbox {
	return l.outbox
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Activate begins session establishment. The link reports Activating until a
// counterpart stream attaches.
func (l *Link) Activate() {
	l.setState(syncbus.ActivationStateActivating, nil)
}

// Deactivate tears the session down. Outstanding requests are the
// dispatcher's to cancel; the outbox keeps its entries for a later session.
func (l *Link) Deactivate() {
	l.mu.Lock()
	l.stream = nil
	l.mu.Unlock()
	l.setState(syncbus.ActivationStateDeactivated, nil)
}

func (l *Link) setState(state syncbus.ActivationState, err error) {
	l.mu.Lock()
	if l.state == state {
		l.mu.Unlock()
		return
	}
	l.state = state
	delegate := l.delegate
	l.mu.Unlock()

	l.logger.Info().Str("state", string(state)).Err(err).Msg("activation state")
	if delegate != nil {
		delegate.OnActivationStateChanged(state, err)
	}
}

// attach installs the counterpart stream, promotes the session to Activated,
// and flushes the outbox.
func (l *Link) attach(stream frameStream) {
	l.mu.Lock()
	if l.state == syncbus.ActivationStateDeactivated {
		l.mu.Unlock()
		return
	}
	l.stream = stream
	delegate := l.delegate
	l.mu.Unlock()

	l.setState(syncbus.ActivationStateActivated, nil)
	l.logger.Info().Msg("counterpart attached")
	if delegate != nil {
		delegate.OnReachabilityChanged(true)
	}
	l.flushOutbox()
}

// detach drops the stream and fails every reply still waiting on it. The
// dispatcher's timers would catch these anyway; failing now is faster.
func (l *Link) detach(cause error) {
	l.mu.Lock()
	if l.stream == nil {
		l.mu.Unlock()
		return
	}
	l.stream = nil
	waiting := l.replies
	l.replies = make(map[string]pendingReply)
	delegate := l.delegate
	l.mu.Unlock()

	l.logger.Warn().Err(cause).Msg("counterpart detached")
	if delegate != nil {
		delegate.OnReachabilityChanged(false)
	}
	for _, pending := range waiting {
		pending.onResult(nil, fmt.Errorf("link detached: %w", cause))
	}
}

// =============================================================================
// syncbus.Transport
// =============================================================================

// ActivationState reports the session lifecycle state.
func (l *Link) ActivationState() syncbus.ActivationState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Reachable reports whether a counterpart stream is attached.
func (l *Link) Reachable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stream != nil
}

// SendInteractive transmits env and holds onResult until the correlated
// reply frame arrives or the stream detaches.
func (l *Link) SendInteractive(env syncbus.Envelope, onResult syncbus.ReplyFunc) error {
	l.mu.Lock()
	stream := l.stream
	if stream == nil {
		l.mu.Unlock()
		return ErrLinkDetached
	}
	l.replies[env.ID] = pendingReply{onResult: onResult, msgType: env.Type, sentAt: time.Now()}
	l.mu.Unlock()

	frame := &Frame{Kind: FrameMessage, ID: env.ID, Envelope: env.MarshalWire()}
	if err := l.send(stream, frame); err != nil {
		l.mu.Lock()
		delete(l.replies, env.ID)
		l.mu.Unlock()
		return fmt.Errorf("send interactive: %w", err)
	}
	return nil
}

// SendDurable accepts env for eventual delivery. Acceptance means queued;
// transmission happens now if attached, otherwise on the next attach.
func (l *Link) SendDurable(env syncbus.Envelope) error {
	if err := l.outbox.Enqueue(env); err != nil {
		return err
	}

	l.mu.Lock()
	stream := l.stream
	l.mu.Unlock()
	if stream != nil {
		l.transmitDurable(stream, env)
	}
	return nil
}

// ReplaceLatestState sends a state snapshot on the last-value-wins channel.
func (l *Link) ReplaceLatestState(payload []byte) error {
	l.mu.Lock()
	stream := l.stream
	l.mu.Unlock()
	if stream == nil {
		return ErrLinkDetached
	}
	if err := l.send(stream, &Frame{Kind: FrameState, Payload: payload}); err != nil {
		return fmt.Errorf("send state: %w", err)
	}
	return nil
}

var _ syncbus.Transport = (*Link)(nil)

// =============================================================================
// STREAM PLUMBING
// =============================================================================

func (l *Link) send(stream frameStream, frame *Frame) error {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	return stream.Send(frame)
}

func (l *Link) transmitDurable(stream frameStream, env syncbus.Envelope) {
	l.outbox.MarkAttempt(env.ID, time.Now())
	frame := &Frame{Kind: FrameMessage, ID: env.ID, Envelope: env.MarshalWire(), Durable: true}
	if err := l.send(stream, frame); err != nil {
		// Still queued; the next attach retries.
		l.logger.Warn().Str("id", env.ID).Err(err).Msg("durable transmit failed")
	}
}

func (l *Link) flushOutbox() {
	l.mu.Lock()
	stream := l.stream
	l.mu.Unlock()
	if stream == nil {
		return
	}
	for _, pending := range l.outbox.List() {
		l.transmitDurable(stream, pending.Envelope)
	}
}

// runStream pumps inbound frames until the stream fails, then detaches and
// returns the terminating error. Endpoints call this on their stream's
// goroutine after attach.
func (l *Link) runStream(stream frameStream) error {
	for {
		frame, err := stream.Recv()
		if err != nil {
			l.detach(err)
			return err
		}
		l.handleFrame(stream, frame)
	}
}

func (l *Link) handleFrame(stream frameStream, frame *Frame) {
	l.mu.Lock()
	delegate := l.delegate
	l.mu.Unlock()
	if delegate == nil {
		l.logger.Warn().Str("kind", frame.Kind).Msg("frame before delegate wired, dropping")
		return
	}

	switch frame.Kind {
	case FrameMessage:
		env, err := syncbus.UnmarshalWire(frame.Envelope)
		if err != nil {
			observability.RecordInbound(frame.Kind, "decode_error")
			l.logger.Warn().Str("id", frame.ID).Err(err).Msg("undecodable envelope frame, dropping")
			return
		}
		if frame.Durable {
			// Ack receipt, not processing; the sender only needs delivery.
			if err := l.send(stream, &Frame{Kind: FrameDurableAck, ID: env.ID}); err != nil {
				l.logger.Warn().Str("id", env.ID).Err(err).Msg("durable ack send failed")
			}
		}
		observability.RecordInbound(env.Type, "handled")
		delegate.OnEnvelopeReceived(env, func(payload []byte) {
			if err := l.send(stream, &Frame{Kind: FrameReply, ID: env.ID, Payload: payload}); err != nil {
				l.logger.Warn().Str("id", env.ID).Err(err).Msg("reply send failed")
			}
		})

	case FrameReply:
		l.mu.Lock()
		pending, ok := l.replies[frame.ID]
		if ok {
			delete(l.replies, frame.ID)
		}
		l.mu.Unlock()
		if ok {
			observability.RecordRequestDuration(pending.msgType, int(time.Since(pending.sentAt).Milliseconds()))
			pending.onResult(frame.Payload, nil)
			return
		}
		delegate.OnReplyReceived(frame.ID, frame.Payload)

	case FrameState:
		delegate.OnStateReceived(frame.Payload)

	case FrameDurableAck:
		l.outbox.Remove(frame.ID)
		var ackErr error
		if frame.Error != "" {
			ackErr = errors.New(frame.Error)
		}
		delegate.OnDurableDeliveryFinished(frame.ID, ackErr)

	default:
		l.logger.Warn().Str("kind", frame.Kind).Msg("unknown frame kind, dropping")
	}
}
