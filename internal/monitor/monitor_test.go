package monitor

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func readStatus(t *testing.T, path string) Status {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.Unmarshal(data, &st))
	return st
}

func TestWriteOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	s := NewService(Dependencies{
		Snapshot: func() Status {
			return Status{RecorderState: "ACTIVE", SessionID: "7", FramesCaptured: 12,
				DispatcherQueues: map[string]int{"frame.encode": 1}}
		},
		LogsDir: dir,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	require.NoError(t, s.WriteOnce())
	st := readStatus(t, filepath.Join(dir, FileName))
	assert.Equal(t, "ACTIVE", st.RecorderState)
	assert.Equal(t, "7", st.SessionID)
	assert.Equal(t, int64(12), st.FramesCaptured)
	assert.Equal(t, 1, st.DispatcherQueues["frame.encode"])
	assert.False(t, st.Time.IsZero())
}

func TestStartStop(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int64
	s := NewService(Dependencies{
		Snapshot: func() Status {
			return Status{RecorderState: "IDLE", Ticks: calls.Add(1)}
		},
		LogsDir:  dir,
		Interval: 10 * time.Millisecond,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	s.Start()
	s.Start()
	assert.True(t, s.IsRunning())
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())

	st := readStatus(t, s.Path())
	assert.Equal(t, "IDLE", st.RecorderState)
	assert.Equal(t, calls.Load(), st.Ticks)
}
