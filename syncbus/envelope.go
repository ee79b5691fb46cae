package syncbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// =============================================================================
// ENVELOPE
// =============================================================================

// Envelope is the unit of transmission between the paired devices.
//
// Immutable once constructed. Identity is the ID field; ids are unique per
// sender for the lifetime of the process. The payload is opaque to the core;
// only the type tag is used for routing.
type Envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Payload   []byte    `json:"payload"`
	Priority  Priority  `json:"priority"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEnvelope encodes a typed value into a fresh envelope.
//
// Serialization is fallible: a value that cannot be represented yields an
// EncodingError instead of a partial payload. No field is silently dropped.
func NewEnvelope(msgType string, value any, priority Priority) (Envelope, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return Envelope{}, NewEncodingError(msgType, err)
	}
	return Envelope{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Priority:  priority,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewRawEnvelope wraps an already-encoded payload into a fresh envelope.
func NewRawEnvelope(msgType string, payload []byte, priority Priority) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Priority:  priority,
		Timestamp: time.Now().UTC(),
	}
}

// DecodePayload unmarshals the envelope payload into v.
//
// A payload that does not match the schema implied by the type tag yields a
// DecodingError; the caller must treat the envelope as unroutable and drop it.
func (e Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return NewDecodingError(e.ID, e.Type, err)
	}
	return nil
}

// =============================================================================
// WIRE CODEC
// =============================================================================

// Wire field numbers. The envelope travels as a compact protobuf-framed
// record so either side can skip unknown fields.
const (
	wireFieldID        protowire.Number = 1
	wireFieldType      protowire.Number = 2
	wireFieldPayload   protowire.Number = 3
	wireFieldPriority  protowire.Number = 4
	wireFieldTimestamp protowire.Number = 5
)

// MarshalWire serializes the envelope into its binary wire form.
func (e Envelope) MarshalWire() []byte {
	b := make([]byte, 0, 64+len(e.Payload))
	b = protowire.AppendTag(b, wireFieldID, protowire.BytesType)
	b = protowire.AppendString(b, e.ID)
	b = protowire.AppendTag(b, wireFieldType, protowire.BytesType)
	b = protowire.AppendString(b, e.Type)
	b = protowire.AppendTag(b, wireFieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Payload)
	b = protowire.AppendTag(b, wireFieldPriority, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Priority))
	b = protowire.AppendTag(b, wireFieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Timestamp.UnixMilli()))
	return b
}

// UnmarshalWire parses an envelope from its binary wire form.
//
// Unknown fields are skipped so older builds can read newer frames. A frame
// without an id or type tag is structurally invalid.
func UnmarshalWire(data []byte) (Envelope, error) {
	var e Envelope
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Envelope{}, NewDecodingError(e.ID, e.Type, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == wireFieldID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return Envelope{}, NewDecodingError(e.ID, e.Type, protowire.ParseError(n))
			}
			e.ID = v
			data = data[n:]
		case num == wireFieldType && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return Envelope{}, NewDecodingError(e.ID, e.Type, protowire.ParseError(n))
			}
			e.Type = v
			data = data[n:]
		case num == wireFieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return Envelope{}, NewDecodingError(e.ID, e.Type, protowire.ParseError(n))
			}
			e.Payload = append([]byte(nil), v...)
			data = data[n:]
		case num == wireFieldPriority && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Envelope{}, NewDecodingError(e.ID, e.Type, protowire.ParseError(n))
			}
			e.Priority = Priority(v)
			data = data[n:]
		case num == wireFieldTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Envelope{}, NewDecodingError(e.ID, e.Type, protowire.ParseError(n))
			}
			e.Timestamp = time.UnixMilli(int64(v)).UTC()
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Envelope{}, NewDecodingError(e.ID, e.Type, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if e.ID == "" || e.Type == "" {
		return Envelope{}, NewDecodingError(e.ID, e.Type, fmt.Errorf("missing id or type tag"))
	}
	return e, nil
}
