// Package transport carries link traffic between the paired devices over a
// gRPC bidirectional stream. Frames are JSON-encoded through a registered
// codec; envelopes ride inside frames in their binary wire form.
package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// Frame kinds on the stream.
const (
	FrameMessage    = "message"     // carries an envelope, optionally durable
	FrameReply      = "reply"       // correlated reply to an interactive message
	FrameState      = "state"       // full-state snapshot, last value wins
	FrameDurableAck = "durable_ack" // acknowledges receipt of a durable message
)

// Frame is one unit on the bidirectional stream.
type Frame struct {
	Kind     string `json:"kind"`
	ID       string `json:"id,omitempty"`
	Envelope []byte `json:"envelope,omitempty"` // wire-encoded envelope
	Payload  []byte `json:"payload,omitempty"`
	Durable  bool   `json:"durable,omitempty"`
	Error    string `json:"error,omitempty"`
}

// CodecName is the content subtype both stream ends negotiate.
const CodecName = "json"

// jsonCodec lets grpc carry Frame values without generated stubs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
