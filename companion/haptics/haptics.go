// Package haptics maps link events to wrist feedback patterns.
//
// Feedback is cosmetic. Playback failures are logged and otherwise ignored;
// nothing in the delivery pipeline depends on this package.
package haptics

import (
	"github.com/rs/zerolog"

	"github.com/caddiehq/wristlink/syncbus"
)

// Pattern identifies a vibration pattern.
type Pattern string

const (
	PatternSuccess Pattern = "success"
	PatternWarning Pattern = "warning"
	PatternFailure Pattern = "failure"
)

// Player plays a vibration pattern on the device. Implementations wrap the
// platform haptics engine.
type Player interface {
	Play(pattern Pattern) error
}

// Feedback subscribes to dispatcher events and plays patterns on the link
// transitions a player would want to feel.
type Feedback struct {
	player   Player
	logger   zerolog.Logger
	observer *syncbus.Observer
	handle   syncbus.SubscriptionHandle
}

// NewFeedback wires haptic feedback into the dispatcher. The returned
// Feedback owns the observer reference; dropping it ends the subscription.
func NewFeedback(d *syncbus.Dispatcher, player Player, logger zerolog.Logger) *Feedback {
	f := &Feedback{
		player: player,
		logger: logger.With().Str("component", "haptics").Logger(),
	}
	f.observer = &syncbus.Observer{
		OnEvent: func(ev syncbus.Event) {
			if ev.Type == syncbus.TypeScoreUpdate {
				f.play(PatternSuccess)
			}
		},
		OnReachabilityChanged: func(reachable bool) {
			if reachable {
				f.play(PatternSuccess)
				return
			}
			f.play(PatternWarning)
		},
		OnActivationStateChanged: func(state syncbus.ActivationState, err error) {
			if state == syncbus.ActivationStateDeactivated {
				f.play(PatternFailure)
			}
		},
	}
	f.handle = d.Subscribe(f.observer)
	return f
}

// Stop ends the subscription explicitly.
func (f *Feedback) Stop(d *syncbus.Dispatcher) {
	d.Unsubscribe(f.handle)
}

func (f *Feedback) play(pattern Pattern) {
	if f.player == nil {
		return
	}
	if err := f.player.Play(pattern); err != nil {
		f.logger.Debug().Str("pattern", string(pattern)).Err(err).Msg("haptic playback failed")
	}
}
