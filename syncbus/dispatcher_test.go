package syncbus

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// FAKE TRANSPORT
// =============================================================================

// fakeTransport implements Transport for dispatcher tests. Replies are held
// until the test fires them, so reply/timeout interleavings are controllable.
type fakeTransport struct {
	mu             sync.Mutex
	state          ActivationState
	reachable      bool
	interactive    []Envelope
	durable        []Envelope
	broadcasts     [][]byte
	pendingReplies map[string]ReplyFunc
	interactiveErr error
	durableErr     error
	broadcastErr   error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		state:          ActivationStateActivated,
		reachable:      true,
		pendingReplies: make(map[string]ReplyFunc),
	}
}

func (f *fakeTransport) ActivationState() ActivationState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Reachable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reachable
}

func (f *fakeTransport) SendInteractive(env Envelope, onResult ReplyFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.interactiveErr != nil {
		return f.interactiveErr
	}
	f.interactive = append(f.interactive, env)
	f.pendingReplies[env.ID] = onResult
	return nil
}

func (f *fakeTransport) SendDurable(env Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.durableErr != nil {
		return f.durableErr
	}
	f.durable = append(f.durable, env)
	return nil
}

func (f *fakeTransport) ReplaceLatestState(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broadcastErr != nil {
		return f.broadcastErr
	}
	f.broadcasts = append(f.broadcasts, append([]byte(nil), payload...))
	return nil
}

func (f *fakeTransport) reply(id string, payload []byte, err error) bool {
	f.mu.Lock()
	onResult, ok := f.pendingReplies[id]
	delete(f.pendingReplies, id)
	f.mu.Unlock()
	if !ok {
		return false
	}
	onResult(payload, err)
	return true
}

func (f *fakeTransport) lastInteractive() (Envelope, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.interactive) == 0 {
		return Envelope{}, false
	}
	return f.interactive[len(f.interactive)-1], true
}

func (f *fakeTransport) counts() (interactive, durable, broadcasts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.interactive), len(f.durable), len(f.broadcasts)
}

func (f *fakeTransport) setReachable(v bool) {
	f.mu.Lock()
	f.reachable = v
	f.mu.Unlock()
}

func (f *fakeTransport) setState(s ActivationState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	d := NewDispatcher(ft, 80*time.Millisecond, zerolog.Nop())
	t.Cleanup(d.Close)
	return d, ft
}

// =============================================================================
// OUTBOUND TESTS
// =============================================================================

func TestSendNotActivated(t *testing.T) {
	// Sends before activation fail fast with NotActivated; no table entry.
	d, ft := newTestDispatcher(t)
	ft.setState(ActivationStateActivating)

	errCh := make(chan error, 1)
	d.Send(TypeScoreUpdate, map[string]int{"hole": 1}, PriorityHigh,
		func([]byte) { t.Error("onReply must not fire") },
		func(err error) { errCh <- err })

	select {
	case err := <-errCh:
		var notActivated *NotActivatedError
		require.True(t, errors.As(err, &notActivated))
		assert.Equal(t, ActivationStateActivating, notActivated.State)
	case <-time.After(time.Second):
		t.Fatal("onError never fired")
	}

	interactive, durable, _ := ft.counts()
	assert.Equal(t, 0, interactive)
	assert.Equal(t, 0, durable)
	assert.Equal(t, 0, d.PendingCount())
}

func TestSendEncodingError(t *testing.T) {
	// Unserializable payloads surface EncodingError instead of crashing.
	d, ft := newTestDispatcher(t)

	errCh := make(chan error, 1)
	d.Send(TypeScoreUpdate, make(chan int), PriorityNormal, nil,
		func(err error) { errCh <- err })

	select {
	case err := <-errCh:
		var encErr *EncodingError
		assert.True(t, errors.As(err, &encErr))
	case <-time.After(time.Second):
		t.Fatal("onError never fired")
	}

	interactive, durable, _ := ft.counts()
	assert.Equal(t, 0, interactive+durable)
}

func TestSendInteractiveWithReply(t *testing.T) {
	// A reply within the deadline fires onReply once; no timer is left.
	d, ft := newTestDispatcher(t)

	replyCh := make(chan []byte, 1)
	d.Send(TypeScoreUpdate, map[string]int{"hole": 3, "strokes": 4}, PriorityHigh,
		func(payload []byte) { replyCh <- payload },
		func(err error) { t.Errorf("onError must not fire: %v", err) })

	env, ok := ft.lastInteractive()
	require.True(t, ok)
	assert.Equal(t, TypeScoreUpdate, env.Type)
	require.True(t, ft.reply(env.ID, []byte(`{"ok":true}`), nil))

	select {
	case payload := <-replyCh:
		assert.JSONEq(t, `{"ok":true}`, string(payload))
	case <-time.After(time.Second):
		t.Fatal("onReply never fired")
	}
	assert.Equal(t, 0, d.PendingCount())

	// Past the request deadline nothing else fires.
	time.Sleep(120 * time.Millisecond)
}

func TestSendInteractiveTransportError(t *testing.T) {
	// A synchronous transport failure completes the request immediately.
	d, ft := newTestDispatcher(t)
	ft.interactiveErr = errors.New("session gone")

	errCh := make(chan error, 1)
	d.Send(TypeScoreUpdate, map[string]int{"hole": 1}, PriorityNormal, nil,
		func(err error) { errCh <- err })

	select {
	case err := <-errCh:
		var transportErr *TransportError
		require.True(t, errors.As(err, &transportErr))
	case <-time.After(time.Second):
		t.Fatal("onError never fired")
	}
	assert.Equal(t, 0, d.PendingCount())
}

func TestSendTimeout(t *testing.T) {
	// No reply within the deadline fires onError(Timeout) exactly once, and
	// a late reply for the same id is a no-op.
	d, ft := newTestDispatcher(t)

	var callbacks int32
	errCh := make(chan error, 1)
	d.Send(TypeRequestCurrentRound, struct{}{}, PriorityNormal,
		func([]byte) { atomic.AddInt32(&callbacks, 1) },
		func(err error) {
			atomic.AddInt32(&callbacks, 1)
			errCh <- err
		})

	select {
	case err := <-errCh:
		var timeoutErr *TimeoutError
		require.True(t, errors.As(err, &timeoutErr))
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}
	assert.Equal(t, 0, d.PendingCount())

	env, ok := ft.lastInteractive()
	require.True(t, ok)
	ft.reply(env.ID, []byte("late"), nil)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&callbacks))
}

func TestSendUnreachableDurableFallback(t *testing.T) {
	// Unreachable routes to the durable path: interactive is never touched,
	// the entry is gone synchronously, and neither callback fires.
	d, ft := newTestDispatcher(t)
	ft.setReachable(false)

	d.Send(TypeShotLocation, map[string]float64{"lat": 43.6, "lon": -79.3}, PriorityLow,
		func([]byte) { t.Error("onReply must not fire on durable fallback") },
		func(err error) { t.Errorf("onError must not fire on accepted fallback: %v", err) })

	interactive, durable, _ := ft.counts()
	assert.Equal(t, 0, interactive)
	assert.Equal(t, 1, durable)
	assert.Equal(t, 0, d.PendingCount())

	time.Sleep(120 * time.Millisecond) // past the deadline: still silent
}

func TestSendDurableRejected(t *testing.T) {
	// A rejected durable send is the one fallback failure that is surfaced.
	d, ft := newTestDispatcher(t)
	ft.setReachable(false)
	ft.durableErr = errors.New("queue full")

	errCh := make(chan error, 1)
	d.Send(TypeShotLocation, map[string]float64{"lat": 1}, PriorityLow, nil,
		func(err error) { errCh <- err })

	select {
	case err := <-errCh:
		var rejected *DurableRejectedError
		assert.True(t, errors.As(err, &rejected))
	case <-time.After(time.Second):
		t.Fatal("onError never fired")
	}
	assert.Equal(t, 0, d.PendingCount())
}

// =============================================================================
// STATE BROADCAST TESTS
// =============================================================================

func TestPublishStateDeduplicates(t *testing.T) {
	// A bit-identical snapshot publishes exactly once.
	d, ft := newTestDispatcher(t)

	payload := []byte(`{"round":"r1","hole":7}`)
	require.NoError(t, d.PublishState(payload))
	require.NoError(t, d.PublishState(payload))

	_, _, broadcasts := ft.counts()
	assert.Equal(t, 1, broadcasts)

	// A different payload goes through.
	require.NoError(t, d.PublishState([]byte(`{"round":"r1","hole":8}`)))
	_, _, broadcasts = ft.counts()
	assert.Equal(t, 2, broadcasts)
}

func TestPublishStateNotReplacedOnFailure(t *testing.T) {
	// The snapshot cache is only replaced after the transport accepted the
	// send, so a failed publish does not suppress the retry.
	d, ft := newTestDispatcher(t)

	payload := []byte(`{"round":"r2"}`)
	ft.broadcastErr = errors.New("link down")
	require.Error(t, d.PublishState(payload))

	ft.mu.Lock()
	ft.broadcastErr = nil
	ft.mu.Unlock()

	require.NoError(t, d.PublishState(payload))
	_, _, broadcasts := ft.counts()
	assert.Equal(t, 1, broadcasts)
}

// =============================================================================
// INBOUND TESTS
// =============================================================================

func TestInboundRoutedAndFannedOut(t *testing.T) {
	// A decodable inbound envelope reaches its handler and the observers.
	d, _ := newTestDispatcher(t)

	handled := make(chan Envelope, 1)
	require.NoError(t, d.RegisterHandler(TypeScoreUpdate, func(env Envelope, reply func([]byte)) error {
		var v map[string]int
		if err := env.DecodePayload(&v); err != nil {
			return err
		}
		handled <- env
		return nil
	}))

	eventCh := make(chan Event, 1)
	obs := &Observer{OnEvent: func(ev Event) { eventCh <- ev }}
	d.Subscribe(obs)

	env, err := NewEnvelope(TypeScoreUpdate, map[string]int{"hole": 2, "strokes": 5}, PriorityHigh)
	require.NoError(t, err)
	d.OnEnvelopeReceived(env, nil)

	select {
	case got := <-handled:
		assert.Equal(t, env.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
	select {
	case ev := <-eventCh:
		assert.Equal(t, TypeScoreUpdate, ev.Type)
		assert.Equal(t, env.ID, ev.Envelope.ID)
	case <-time.After(time.Second):
		t.Fatal("observer never notified")
	}
}

func TestInboundDecodeFailureDropped(t *testing.T) {
	// A malformed payload is dropped without fan-out, and the dispatcher
	// keeps working for the next envelope.
	d, _ := newTestDispatcher(t)

	require.NoError(t, d.RegisterHandler(TypeScoreUpdate, func(env Envelope, reply func([]byte)) error {
		var v map[string]int
		return env.DecodePayload(&v)
	}))

	var events int32
	obs := &Observer{OnEvent: func(Event) { atomic.AddInt32(&events, 1) }}
	d.Subscribe(obs)

	bad := NewRawEnvelope(TypeScoreUpdate, []byte("not json"), PriorityNormal)
	d.OnEnvelopeReceived(bad, nil)

	good, err := NewEnvelope(TypeScoreUpdate, map[string]int{"hole": 1}, PriorityNormal)
	require.NoError(t, err)
	d.OnEnvelopeReceived(good, nil)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&events) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestInboundUnknownTypeDropped(t *testing.T) {
	// Envelopes with no registered handler are dropped quietly.
	d, _ := newTestDispatcher(t)

	var events int32
	obs := &Observer{OnEvent: func(Event) { atomic.AddInt32(&events, 1) }}
	d.Subscribe(obs)

	env := NewRawEnvelope("unknownTag", []byte("{}"), PriorityNormal)
	d.OnEnvelopeReceived(env, nil)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&events))
}

func TestStateReceivedLastWriterWins(t *testing.T) {
	// Inbound snapshots replace the cache unconditionally.
	d, _ := newTestDispatcher(t)

	stateCh := make(chan []byte, 2)
	obs := &Observer{OnStateUpdated: func(p []byte) { stateCh <- p }}
	d.Subscribe(obs)

	d.OnStateReceived([]byte(`{"hole":8}`))
	d.OnStateReceived([]byte(`{"hole":7}`)) // stale arrival still wins

	for i := 0; i < 2; i++ {
		select {
		case <-stateCh:
		case <-time.After(time.Second):
			t.Fatal("state observer never notified")
		}
	}
	assert.Equal(t, []byte(`{"hole":7}`), d.RemoteState())
}

func TestDeactivationCancelsOutstanding(t *testing.T) {
	// Transport deactivation completes every in-flight request with
	// SessionInvalidated, exactly once each.
	d, _ := newTestDispatcher(t)

	var invalidated int32
	for i := 0; i < 3; i++ {
		d.Send(TypeRequestCourseInfo, map[string]string{"course": "c1"}, PriorityNormal,
			func([]byte) { t.Error("onReply must not fire") },
			func(err error) {
				var sessionErr *SessionInvalidatedError
				if errors.As(err, &sessionErr) {
					atomic.AddInt32(&invalidated, 1)
				}
			})
	}
	require.Equal(t, 3, d.PendingCount())

	d.OnActivationStateChanged(ActivationStateDeactivated, nil)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&invalidated) == 3
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, d.PendingCount())
}

func TestReplyReceivedUnknownIDNoOp(t *testing.T) {
	// Correlating a reply to a dead id must not panic or call back.
	d, _ := newTestDispatcher(t)
	d.OnReplyReceived("ghost-id", []byte("{}"))
}

func TestDuplicateHandlerRejected(t *testing.T) {
	// Only one handler per type tag.
	d, _ := newTestDispatcher(t)

	noop := func(Envelope, func([]byte)) error { return nil }
	require.NoError(t, d.RegisterHandler(TypeCourseData, noop))

	err := d.RegisterHandler(TypeCourseData, noop)
	var dup *AlreadyRegisteredError
	assert.True(t, errors.As(err, &dup))
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

type countingMiddleware struct {
	before, after, broadcasts, deduped int32
	lastPath                           string
	mu                                 sync.Mutex
}

func (m *countingMiddleware) BeforeSend(Envelope) { atomic.AddInt32(&m.before, 1) }

func (m *countingMiddleware) AfterSend(env Envelope, path string, err error) {
	atomic.AddInt32(&m.after, 1)
	m.mu.Lock()
	m.lastPath = path
	m.mu.Unlock()
}

func (m *countingMiddleware) OnStateBroadcast(deduped bool, err error) {
	atomic.AddInt32(&m.broadcasts, 1)
	if deduped {
		atomic.AddInt32(&m.deduped, 1)
	}
}

func (m *countingMiddleware) path() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPath
}

func TestMiddlewareSeesPathAndDedup(t *testing.T) {
	// Middleware observes the routing decision and dedup outcomes.
	d, ft := newTestDispatcher(t)
	mw := &countingMiddleware{}
	d.AddMiddleware(mw)

	d.Send(TypeScoreUpdate, map[string]int{"hole": 1}, PriorityNormal, nil, nil)
	assert.Equal(t, PathInteractive, mw.path())

	ft.setReachable(false)
	d.Send(TypeShotLocation, map[string]int{"x": 1}, PriorityLow, nil, nil)
	assert.Equal(t, PathDurable, mw.path())
	assert.Equal(t, int32(2), atomic.LoadInt32(&mw.before))
	assert.Equal(t, int32(2), atomic.LoadInt32(&mw.after))

	payload := []byte(`{"s":1}`)
	require.NoError(t, d.PublishState(payload))
	require.NoError(t, d.PublishState(payload))
	assert.Equal(t, int32(2), atomic.LoadInt32(&mw.broadcasts))
	assert.Equal(t, int32(1), atomic.LoadInt32(&mw.deduped))
}
