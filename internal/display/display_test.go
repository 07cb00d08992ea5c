package display

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ar-recorder/recorder/pkg/core"
	"github.com/ar-recorder/recorder/pkg/streaming"
)

// Compile-time interface checks.
var (
	_ Sink = Noop{}
	_ Sink = (*LogSink)(nil)
	_ Sink = (*Stream)(nil)
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testServer upgrades to WebSocket, records received envelopes and acks hello.
func testServer(t *testing.T, ackHello bool) (*httptest.Server, *messageLog) {
	t.Helper()
	ml := &messageLog{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ml.setSecret(r.URL.Query().Get("secret"))
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}

			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ml.add(env)

			if env.Type == streaming.TypeHello && ackHello {
				data, _ := json.Marshal(streaming.AckMessage{Type: "ack", For: env.Type})
				if err := c.WriteMessage(ws.TextMessage, data); err != nil {
					return
				}
			}
		}
	}))

	return srv, ml
}

type messageLog struct {
	mu       sync.Mutex
	messages []streaming.Envelope
	secret   string
}

func (m *messageLog) add(env streaming.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, env)
}

func (m *messageLog) setSecret(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secret = s
}

func (m *messageLog) all() []streaming.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]streaming.Envelope, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStream_HelloAndUpdates(t *testing.T) {
	srv, ml := testServer(t, true)
	defer srv.Close()

	s := NewStream(StreamConfig{URL: wsURL(srv), Secret: "s3cret", RecorderID: "rec-1"}, discard())
	require.NoError(t, s.Init())

	require.NoError(t, s.SessionState("1", "ACTIVE", ""))
	require.NoError(t, s.Result("1", core.PointResult(core.Vec3{1, 2, 3})))
	require.NoError(t, s.Projection(core.Projection{SessionID: "1", Kind: core.ResultPoint, Points: []core.Vec3{{1, 2, 3}}}))
	require.NoError(t, s.Clear("1"))

	require.Eventually(t, func() bool { return len(ml.all()) >= 5 }, time.Second, 10*time.Millisecond)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	msgs := ml.all()
	types := make([]string, 0, len(msgs))
	for _, m := range msgs {
		types = append(types, m.Type)
	}
	assert.Equal(t, []string{
		streaming.TypeHello,
		streaming.TypeSessionState,
		streaming.TypeResult,
		streaming.TypeProjection,
		streaming.TypeClear,
	}, types)

	var hello streaming.HelloPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &hello))
	assert.Equal(t, "rec-1", hello.RecorderID)

	var proj core.Projection
	require.NoError(t, json.Unmarshal(msgs[3].Payload, &proj))
	assert.Equal(t, core.ResultPoint, proj.Kind)
	assert.Equal(t, []core.Vec3{{1, 2, 3}}, proj.Points)

	ml.mu.Lock()
	assert.Equal(t, "s3cret", ml.secret)
	ml.mu.Unlock()
}

func TestStream_InitFailsWithoutServer(t *testing.T) {
	s := NewStream(StreamConfig{URL: "ws://127.0.0.1:1/ws"}, discard())
	assert.Error(t, s.Init())
}

func TestNew_Modes(t *testing.T) {
	s, err := New(Config{}, discard())
	require.NoError(t, err)
	assert.IsType(t, Noop{}, s)

	s, err = New(Config{Mode: "log"}, discard())
	require.NoError(t, err)
	assert.IsType(t, &LogSink{}, s)

	_, err = New(Config{Mode: "websocket"}, discard())
	assert.Error(t, err)

	_, err = New(Config{Mode: "hologram"}, discard())
	assert.Error(t, err)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	require.NoError(t, s.SessionState("9", "UPLOADING", ""))
	require.NoError(t, s.Projection(core.Projection{SessionID: "9", Kind: core.ResultSegment}))

	out := buf.String()
	assert.Contains(t, out, "state=UPLOADING")
	assert.Contains(t, out, "kind=segment")
}
