// Package syncbus middleware implementations.
//
// Middleware intercepts dispatcher traffic for cross-cutting concerns.
//
// Available Middleware:
//   - LoggingMiddleware: structured logging of outbound traffic
//
// Metrics middleware lives in companion/observability so the core stays free
// of instrumentation dependencies.
package syncbus

import (
	"github.com/rs/zerolog"
)

// LoggingMiddleware logs outbound traffic and state broadcasts.
type LoggingMiddleware struct {
	logger zerolog.Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger zerolog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger.With().Str("component", "syncbus").Logger()}
}

// BeforeSend logs the encoded envelope before routing.
func (m *LoggingMiddleware) BeforeSend(env Envelope) {
	m.logger.Debug().
		Str("id", env.ID).
		Str("type", env.Type).
		Str("priority", env.Priority.String()).
		Int("bytes", len(env.Payload)).
		Msg("sending")
}

// AfterSend logs the routing decision and the immediate transport outcome.
func (m *LoggingMiddleware) AfterSend(env Envelope, path string, err error) {
	if err != nil {
		m.logger.Warn().Str("id", env.ID).Str("path", path).Err(err).Msg("send failed")
		return
	}
	m.logger.Debug().Str("id", env.ID).Str("path", path).Msg("sent")
}

// OnStateBroadcast logs publish and dedup outcomes.
func (m *LoggingMiddleware) OnStateBroadcast(deduped bool, err error) {
	switch {
	case err != nil:
		m.logger.Warn().Err(err).Msg("state broadcast failed")
	case deduped:
		m.logger.Debug().Msg("state broadcast deduplicated")
	default:
		m.logger.Debug().Msg("state broadcast sent")
	}
}

var _ Middleware = (*LoggingMiddleware)(nil)
