package scoring

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caddiehq/wristlink/companion/geo"
	"github.com/caddiehq/wristlink/syncbus"
)

// linkStub captures outbound traffic and lets tests fire replies by hand.
type linkStub struct {
	mu          sync.Mutex
	reachable   bool
	interactive []syncbus.Envelope
	durable     []syncbus.Envelope
	states      [][]byte
	replies     map[string]syncbus.ReplyFunc
}

func newLinkStub() *linkStub {
	return &linkStub{reachable: true, replies: make(map[string]syncbus.ReplyFunc)}
}

func (s *linkStub) ActivationState() syncbus.ActivationState { return syncbus.ActivationStateActivated }

func (s *linkStub) Reachable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reachable
}

func (s *linkStub) SendInteractive(env syncbus.Envelope, onResult syncbus.ReplyFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactive = append(s.interactive, env)
	s.replies[env.ID] = onResult
	return nil
}

func (s *linkStub) SendDurable(env syncbus.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durable = append(s.durable, env)
	return nil
}

func (s *linkStub) ReplaceLatestState(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, append([]byte(nil), payload...))
	return nil
}

func (s *linkStub) replyLast(t *testing.T, value any) {
	t.Helper()
	s.mu.Lock()
	require.NotEmpty(t, s.interactive)
	env := s.interactive[len(s.interactive)-1]
	onResult := s.replies[env.ID]
	s.mu.Unlock()

	payload, err := json.Marshal(value)
	require.NoError(t, err)
	onResult(payload, nil)
}

func newTestClient(t *testing.T) (*Client, *linkStub, *syncbus.Dispatcher) {
	t.Helper()
	stub := newLinkStub()
	d := syncbus.NewDispatcher(stub, time.Second, zerolog.Nop())
	t.Cleanup(d.Close)
	return NewClient(d, zerolog.Nop()), stub, d
}

func TestSendScoreUpdateAck(t *testing.T) {
	client, stub, _ := newTestClient(t)

	acked := make(chan struct{}, 1)
	client.SendScoreUpdate(ScoreUpdate{RoundID: "r1", PlayerID: "p1", Hole: 3, Strokes: 5},
		func() { acked <- struct{}{} },
		func(err error) { t.Errorf("onError must not fire: %v", err) })

	stub.replyLast(t, map[string]bool{"accepted": true})

	select {
	case <-acked:
	case <-time.After(time.Second):
		t.Fatal("ack never fired")
	}

	// The envelope carried the domain record.
	stub.mu.Lock()
	env := stub.interactive[0]
	stub.mu.Unlock()
	assert.Equal(t, syncbus.TypeScoreUpdate, env.Type)
	assert.Equal(t, syncbus.PriorityHigh, env.Priority)

	var sent ScoreUpdate
	require.NoError(t, env.DecodePayload(&sent))
	assert.Equal(t, 3, sent.Hole)
	assert.Equal(t, 5, sent.Strokes)
}

func TestRequestCourseInfoDecodesReply(t *testing.T) {
	client, stub, _ := newTestClient(t)

	courseCh := make(chan CourseData, 1)
	client.RequestCourseInfo("course-9", func(c CourseData) { courseCh <- c }, func(err error) {
		t.Errorf("onError must not fire: %v", err)
	})

	stub.replyLast(t, CourseData{
		CourseID: "course-9",
		Name:     "Riverside",
		Holes:    []Hole{{Number: 1, Par: 4, YardsM: 350}},
	})

	select {
	case course := <-courseCh:
		assert.Equal(t, "Riverside", course.Name)
		require.Len(t, course.Holes, 1)
		assert.Equal(t, 4, course.Holes[0].Par)
	case <-time.After(time.Second):
		t.Fatal("course reply never decoded")
	}
}

func TestRequestCurrentRoundBadReply(t *testing.T) {
	// A reply that does not decode surfaces a DecodingError.
	client, stub, _ := newTestClient(t)

	errCh := make(chan error, 1)
	client.RequestCurrentRound(func(RoundSnapshot) {
		t.Error("onRound must not fire for a bad reply")
	}, func(err error) { errCh <- err })

	stub.mu.Lock()
	env := stub.interactive[0]
	onResult := stub.replies[env.ID]
	stub.mu.Unlock()
	onResult([]byte("not json"), nil)

	select {
	case err := <-errCh:
		var decErr *syncbus.DecodingError
		assert.True(t, errors.As(err, &decErr))
	case <-time.After(time.Second):
		t.Fatal("onError never fired")
	}
}

func TestRecordShotUnreachableGoesDurable(t *testing.T) {
	client, stub, _ := newTestClient(t)
	stub.mu.Lock()
	stub.reachable = false
	stub.mu.Unlock()

	client.RecordShot(ShotSample{
		RoundID:  "r1",
		PlayerID: "p1",
		Hole:     4,
		Location: geo.Point{Lat: 43.64, Lon: -79.39},
	}, func(err error) { t.Errorf("onError must not fire: %v", err) })

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Empty(t, stub.interactive)
	require.Len(t, stub.durable, 1)
	assert.Equal(t, syncbus.TypeShotLocation, stub.durable[0].Type)
	assert.Equal(t, syncbus.PriorityLow, stub.durable[0].Priority)
}

func TestPublishRoundDeduplicates(t *testing.T) {
	client, stub, _ := newTestClient(t)

	snap := RoundSnapshot{RoundID: "r1", CurrentHole: 7, Scores: map[string]int{"p1": 31}}
	require.NoError(t, client.PublishRound(snap))
	require.NoError(t, client.PublishRound(snap))

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Len(t, stub.states, 1)
}

func TestInboundHandlersDecode(t *testing.T) {
	client, _, d := newTestClient(t)

	scoreCh := make(chan ScoreUpdate, 1)
	roundCh := make(chan RoundSnapshot, 1)
	require.NoError(t, client.RegisterHandlers(Handlers{
		OnScoreUpdate: func(u ScoreUpdate) { scoreCh <- u },
		OnRoundUpdate: func(s RoundSnapshot) { roundCh <- s },
	}))

	env, err := syncbus.NewEnvelope(syncbus.TypeScoreUpdate,
		ScoreUpdate{RoundID: "r1", Hole: 9, Strokes: 4}, syncbus.PriorityHigh)
	require.NoError(t, err)

	replied := make(chan []byte, 1)
	d.OnEnvelopeReceived(env, func(payload []byte) { replied <- payload })

	select {
	case update := <-scoreCh:
		assert.Equal(t, 9, update.Hole)
	case <-time.After(time.Second):
		t.Fatal("score handler never ran")
	}
	select {
	case payload := <-replied:
		assert.JSONEq(t, `{"accepted":true}`, string(payload))
	case <-time.After(time.Second):
		t.Fatal("score update never acknowledged")
	}

	roundEnv, err := syncbus.NewEnvelope(syncbus.TypeActiveRoundUpdate,
		RoundSnapshot{RoundID: "r1", CurrentHole: 9}, syncbus.PriorityNormal)
	require.NoError(t, err)
	d.OnEnvelopeReceived(roundEnv, nil)

	select {
	case snap := <-roundCh:
		assert.Equal(t, 9, snap.CurrentHole)
	case <-time.After(time.Second):
		t.Fatal("round handler never ran")
	}
}

func TestInboundMalformedDropped(t *testing.T) {
	client, _, d := newTestClient(t)

	called := make(chan struct{}, 1)
	require.NoError(t, client.RegisterHandlers(Handlers{
		OnCourseData: func(CourseData) { called <- struct{}{} },
	}))

	bad := syncbus.NewRawEnvelope(syncbus.TypeCourseData, []byte("garbage"), syncbus.PriorityNormal)
	d.OnEnvelopeReceived(bad, nil)

	select {
	case <-called:
		t.Fatal("handler must not fire for a malformed payload")
	case <-time.After(50 * time.Millisecond):
	}
}
