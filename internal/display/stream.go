package display

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ar-recorder/recorder/pkg/core"
	"github.com/ar-recorder/recorder/pkg/streaming"
)

// Version is reported in the hello message.
const Version = "1.0.0"

// StreamConfig holds WebSocket stream configuration.
type StreamConfig struct {
	URL        string
	Secret     string
	RecorderID string
}

// Stream pushes display updates over a WebSocket to a remote viewer.
// Everything except the hello handshake is fire-and-forget.
type Stream struct {
	conn *connection
	cfg  StreamConfig
}

// NewStream creates an unconnected stream.
func NewStream(cfg StreamConfig, logger *slog.Logger) *Stream {
	return &Stream{
		conn: newConnection(logger),
		cfg:  cfg,
	}
}

// Init connects and waits for the server to acknowledge the hello.
func (s *Stream) Init() error {
	if err := s.conn.dial(s.cfg.URL, s.cfg.Secret); err != nil {
		return err
	}
	data, err := marshalEnvelope(streaming.TypeHello, streaming.HelloPayload{
		RecorderID: s.cfg.RecorderID,
		Version:    Version,
	})
	if err != nil {
		return err
	}

	s.conn.mu.Lock()
	s.conn.cachedHello = data
	s.conn.mu.Unlock()

	if err := s.conn.sendAndWait(data, streaming.TypeHello, ackTimeout); err != nil {
		_ = s.conn.close()
		return err
	}
	return nil
}

// Close disconnects from the server.
func (s *Stream) Close() error {
	return s.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

func (s *Stream) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	s.conn.send(data)
	return nil
}

func (s *Stream) SessionState(sessionID, state, message string) error {
	return s.sendEnvelope(streaming.TypeSessionState, streaming.SessionStatePayload{
		SessionID: sessionID,
		State:     state,
		Message:   message,
	})
}

// Result sends the W0 result and caches it for replay after a reconnect.
func (s *Stream) Result(sessionID string, r core.RemoteResult) error {
	data, err := marshalEnvelope(streaming.TypeResult, streaming.ResultPayload{SessionID: sessionID, Result: r})
	if err != nil {
		return err
	}
	s.conn.mu.Lock()
	s.conn.cachedResult = data
	s.conn.mu.Unlock()
	s.conn.send(data)
	return nil
}

func (s *Stream) Projection(p core.Projection) error {
	return s.sendEnvelope(streaming.TypeProjection, p)
}

// Clear tells the viewer to drop any displayed geometry.
func (s *Stream) Clear(sessionID string) error {
	s.conn.mu.Lock()
	s.conn.cachedResult = nil
	s.conn.mu.Unlock()
	return s.sendEnvelope(streaming.TypeClear, streaming.SessionStatePayload{SessionID: sessionID, State: "CLEARED"})
}
