package streaming

import (
	"encoding/json"

	"github.com/ar-recorder/recorder/pkg/core"
)

// Message type constants for the live display stream.
const (
	TypeHello        = "hello"
	TypeSessionState = "session_state"
	TypeResult       = "result"
	TypeProjection   = "projection"
	TypeClear        = "clear"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// HelloPayload identifies the recorder when a connection is established.
type HelloPayload struct {
	RecorderID string `json:"recorder_id"`
	Version    string `json:"version"`
}

// SessionStatePayload reports a recorder state change.
type SessionStatePayload struct {
	SessionID string `json:"session_id,omitempty"`
	State     string `json:"state"`
	Message   string `json:"message,omitempty"`
}

// ResultPayload carries the W0 result once per session so late subscribers
// can project it themselves.
type ResultPayload struct {
	SessionID string            `json:"session_id"`
	Result    core.RemoteResult `json:"result"`
}

// ProjectionPayload is core.Projection on the wire.
type ProjectionPayload = core.Projection
