// Package wire defines the JSON frames exchanged with the realtime server.
//
// Inbound frames carry domain events:
//
//	{"type": "sale_created", "topic": "sales", "data": {...}, "timestamp": 1718000000000}
//
// Outbound frames are control messages:
//
//	{"action": "subscribe", "channel": "inventory"}
package wire

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Validation errors for inbound frames.
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrMissingType    = errors.New("frame type is required")
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
)

// MaxFrameSize is the maximum accepted inbound frame size in bytes (1MB).
const MaxFrameSize = 1 << 20

// Liveness frame types. They carry no domain payload.
const (
	TypeHeartbeat = "heartbeat"
	TypePong      = "pong"
)

// Frame is a decoded inbound frame.
type Frame struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"` // epoch milliseconds, producer assigned

	// ReceivedAt is set by Decode and stands in for a missing timestamp.
	ReceivedAt time.Time `json:"-"`
}

type rawFrame struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// Decode parses a raw inbound frame.
func Decode(raw []byte) (Frame, error) {
	if len(raw) > MaxFrameSize {
		return Frame{}, ErrFrameTooLarge
	}

	var rf rawFrame
	if err := json.Unmarshal(raw, &rf); err != nil {
		return Frame{}, errors.Join(ErrMalformedFrame, err)
	}

	f := Frame{
		Type:       strings.TrimSpace(rf.Type),
		Topic:      strings.TrimSpace(rf.Topic),
		Data:       rf.Data,
		Timestamp:  parseTimestamp(rf.Timestamp),
		ReceivedAt: time.Now(),
	}
	if f.Type == "" {
		return Frame{}, ErrMissingType
	}
	return f, nil
}

// PeekType extracts only the type of a raw frame.
func PeekType(raw []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", errors.Join(ErrMalformedFrame, err)
	}
	return strings.TrimSpace(head.Type), nil
}

// IsHeartbeat reports whether typ is a liveness frame type.
func IsHeartbeat(typ string) bool {
	return typ == TypeHeartbeat || typ == TypePong
}

// Time returns the producer timestamp, falling back to the receive time.
func (f Frame) Time() time.Time {
	if f.Timestamp > 0 {
		return time.UnixMilli(f.Timestamp)
	}
	return f.ReceivedAt
}

// parseTimestamp accepts epoch milliseconds as an integer or float, or an
// RFC 3339 string. Anything else yields 0.
func parseTimestamp(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return int64(f)
		}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}
