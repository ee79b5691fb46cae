package scoring

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/caddiehq/wristlink/syncbus"
)

// Handlers receives decoded inbound domain messages. Nil fields drop that
// message type as unroutable.
type Handlers struct {
	OnScoreUpdate func(ScoreUpdate)
	OnCourseData  func(CourseData)
	OnRoundUpdate func(RoundSnapshot)
}

// Client is the typed scoring API over the dispatcher. It owns no protocol
// decisions; routing, retries and correlation stay in the link layer.
type Client struct {
	dispatcher *syncbus.Dispatcher
	logger     zerolog.Logger
}

// NewClient creates a scoring client over the dispatcher.
func NewClient(d *syncbus.Dispatcher, logger zerolog.Logger) *Client {
	return &Client{
		dispatcher: d,
		logger:     logger.With().Str("component", "scoring").Logger(),
	}
}

// RegisterHandlers installs the inbound handlers for the scoring tags.
// A payload that does not decode is rejected back to the dispatcher, which
// drops the envelope.
func (c *Client) RegisterHandlers(h Handlers) error {
	if err := c.dispatcher.RegisterHandler(syncbus.TypeScoreUpdate, func(env syncbus.Envelope, reply func([]byte)) error {
		var update ScoreUpdate
		if err := env.DecodePayload(&update); err != nil {
			return err
		}
		if h.OnScoreUpdate == nil {
			return nil
		}
		h.OnScoreUpdate(update)
		if reply != nil {
			reply([]byte(`{"accepted":true}`))
		}
		return nil
	}); err != nil {
		return err
	}

	if err := c.dispatcher.RegisterHandler(syncbus.TypeCourseData, func(env syncbus.Envelope, reply func([]byte)) error {
		var course CourseData
		if err := env.DecodePayload(&course); err != nil {
			return err
		}
		if h.OnCourseData != nil {
			h.OnCourseData(course)
		}
		return nil
	}); err != nil {
		return err
	}

	return c.dispatcher.RegisterHandler(syncbus.TypeActiveRoundUpdate, func(env syncbus.Envelope, reply func([]byte)) error {
		var snap RoundSnapshot
		if err := env.DecodePayload(&snap); err != nil {
			return err
		}
		if h.OnRoundUpdate != nil {
			h.OnRoundUpdate(snap)
		}
		return nil
	})
}

// SendScoreUpdate sends one hole score at high priority. onAck fires when the
// counterpart acknowledged; on the durable fallback neither callback fires.
func (c *Client) SendScoreUpdate(update ScoreUpdate, onAck func(), onError func(error)) {
	c.dispatcher.Send(syncbus.TypeScoreUpdate, update, syncbus.PriorityHigh,
		func([]byte) {
			if onAck != nil {
				onAck()
			}
		}, onError)
}

// RequestCourseInfo asks the primary for course data.
func (c *Client) RequestCourseInfo(courseID string, onCourse func(CourseData), onError func(error)) {
	c.dispatcher.Send(syncbus.TypeRequestCourseInfo, CourseInfoRequest{CourseID: courseID}, syncbus.PriorityNormal,
		func(payload []byte) {
			var course CourseData
			if err := json.Unmarshal(payload, &course); err != nil {
				c.fail(onError, syncbus.NewDecodingError("", syncbus.TypeCourseData, err))
				return
			}
			if onCourse != nil {
				onCourse(course)
			}
		}, onError)
}

// RequestCurrentRound asks the primary for the round in progress.
func (c *Client) RequestCurrentRound(onRound func(RoundSnapshot), onError func(error)) {
	c.dispatcher.Send(syncbus.TypeRequestCurrentRound, RoundRequest{}, syncbus.PriorityNormal,
		func(payload []byte) {
			var snap RoundSnapshot
			if err := json.Unmarshal(payload, &snap); err != nil {
				c.fail(onError, syncbus.NewDecodingError("", syncbus.TypeActiveRoundUpdate, err))
				return
			}
			if onRound != nil {
				onRound(snap)
			}
		}, onError)
}

// RecordShot sends a shot sample at low priority. Shots tolerate delay, so
// an unreachable counterpart is fine; the durable path carries them over.
func (c *Client) RecordShot(sample ShotSample, onError func(error)) {
	c.dispatcher.Send(syncbus.TypeShotLocation, sample, syncbus.PriorityLow, nil, onError)
}

// PublishRound broadcasts the round snapshot on the state channel. Unchanged
// snapshots are deduplicated by the dispatcher.
func (c *Client) PublishRound(snap RoundSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return syncbus.NewEncodingError(syncbus.TypeActiveRoundUpdate, err)
	}
	return c.dispatcher.PublishState(payload)
}

func (c *Client) fail(onError func(error), err error) {
	c.logger.Debug().Err(err).Msg("reply decode failed")
	if onError != nil {
		onError(err)
	}
}
