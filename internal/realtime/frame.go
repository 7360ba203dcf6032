// Package realtime authenticates long-lived notification channels and
// enforces per-destination subscribe/publish policy for the lifetime of
// each connection, mirroring the record authorization rules.
package realtime

import (
	"encoding/json"
	"time"
)

// FrameType discriminates wire frames. Connect, disconnect and heartbeat
// are lifecycle frames and bypass destination policy.
type FrameType string

const (
	FrameConnect     FrameType = "connect"
	FrameConnected   FrameType = "connected"
	FrameDisconnect  FrameType = "disconnect"
	FrameHeartbeat   FrameType = "heartbeat"
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FrameSend        FrameType = "send"
	FrameMessage     FrameType = "message"
	FrameError       FrameType = "error"
)

// Frame is one unit on a realtime channel.
type Frame struct {
	Type        FrameType       `json:"type"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	Sender      string          `json:"sender,omitempty"`
	Error       string          `json:"error,omitempty"`
	Timestamp   time.Time       `json:"timestamp,omitempty"`
}

// Lifecycle reports whether the frame type is connection bookkeeping.
func (t FrameType) Lifecycle() bool {
	switch t {
	case FrameConnect, FrameConnected, FrameDisconnect, FrameHeartbeat:
		return true
	}
	return false
}
