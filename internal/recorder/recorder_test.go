package recorder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ar-recorder/recorder/internal/config"
	"github.com/ar-recorder/recorder/internal/dispatcher"
	"github.com/ar-recorder/recorder/internal/display"
	"github.com/ar-recorder/recorder/internal/influx"
	"github.com/ar-recorder/recorder/internal/projector"
	"github.com/ar-recorder/recorder/internal/queue"
	"github.com/ar-recorder/recorder/internal/sampler"
	"github.com/ar-recorder/recorder/internal/stability"
	"github.com/ar-recorder/recorder/internal/storage/memory"
	"github.com/ar-recorder/recorder/internal/tracking"
	"github.com/ar-recorder/recorder/pkg/core"
)

const ms = int64(time.Millisecond)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// workerGate holds dispatcher workers at the start of each event while a
// hold is in place.
type workerGate struct {
	nopLogger
	mu      sync.Mutex
	release chan struct{}
	entered chan struct{}
}

func newWorkerGate() *workerGate {
	return &workerGate{entered: make(chan struct{}, 64)}
}

func (g *workerGate) Debug(msg string, _ ...any) {
	if msg != "handling event" {
		return
	}
	g.mu.Lock()
	release := g.release
	g.mu.Unlock()
	if release == nil {
		return
	}
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-release
}

// hold blocks workers until the returned func is called.
func (g *workerGate) hold() func() {
	ch := make(chan struct{})
	g.mu.Lock()
	g.release = ch
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		g.release = nil
		g.mu.Unlock()
		close(ch)
	}
}

type fakeUploader struct {
	sessionID string
	dir       string
	done      func(core.SessionOutcome)
}

func (u *fakeUploader) Start(_ context.Context, sessionID, sessionDir string, done func(core.SessionOutcome)) {
	u.sessionID = sessionID
	u.dir = sessionDir
	u.done = done
}

type fakeTelemetry struct {
	records []core.SessionRecord
	counts  []influx.FrameCounts
}

func (f *fakeTelemetry) RecordSession(_ string, rec core.SessionRecord, counts influx.FrameCounts) error {
	f.records = append(f.records, rec)
	f.counts = append(f.counts, counts)
	return nil
}

type harness struct {
	rec       *Recorder
	smp       *sampler.Sampler
	gate      *workerGate
	replay    *tracking.Replay
	stab      *stability.Monitor
	proj      *projector.Projector
	uploader  *fakeUploader
	catalog   *memory.Backend
	telemetry *fakeTelemetry
	mailbox   *queue.Queue[func()]
	states    []State
	outputDir string
}

func testIntrinsics() core.Intrinsics {
	return core.Intrinsics{Fx: 32, Fy: 32, Cx: 16, Cy: 12, Width: 32, Height: 24}
}

// ticks builds n tracking ticks spaced step apart, starting at step.
func ticks(n int, step int64) []tracking.TraceTick {
	out := make([]tracking.TraceTick, n)
	for i := range out {
		out[i] = tracking.TraceTick{
			TimestampNs: int64(i+1) * step,
			Pose:        core.IdentityPose(),
			Intrinsics:  testIntrinsics(),
		}
	}
	return out
}

func newHarness(t *testing.T, tt []tracking.TraceTick) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gate := newWorkerGate()
	d, err := dispatcher.New(gate)
	require.NoError(t, err)
	t.Cleanup(d.Close)

	h := &harness{
		gate:      gate,
		replay:    tracking.NewReplay(tt),
		stab:      stability.New(100 * time.Millisecond),
		uploader:  &fakeUploader{},
		catalog:   memory.New(config.MemoryConfig{}),
		telemetry: &fakeTelemetry{},
		mailbox:   queue.New[func()](),
		outputDir: t.TempDir(),
	}
	h.proj = projector.New(display.Noop{}, logger)
	h.smp = sampler.New(sampler.Config{Interval: 50 * time.Millisecond}, d, logger)
	clock := time.UnixMilli(1_700_000_000_000)
	h.rec = New(context.Background(), Config{OutputDir: h.outputDir, RecorderID: "test"}, Dependencies{
		Tracking:      h.replay,
		Stability:     h.stab,
		Sampler:       h.smp,
		Uploader:      h.uploader,
		Projector:     h.proj,
		Catalog:       h.catalog,
		Telemetry:     h.telemetry,
		Mailbox:       h.mailbox,
		Logger:        logger,
		OnStateChange: func(_ string, s State) { h.states = append(h.states, s) },
		Now: func() time.Time {
			clock = clock.Add(time.Millisecond)
			return clock
		},
	})
	return h
}

// step feeds one tick through stability, mailbox and recorder the way the
// tick loop does.
func (h *harness) step() bool {
	f, ok := h.replay.Next()
	if !ok {
		return false
	}
	h.mailbox.Drain(func(fn func()) { fn() })
	h.stab.Update(f.TrackingState() == core.TrackingTracking, f.Timestamp())
	h.rec.OnTick(f)
	h.proj.Tick(f.Timestamp())
	return true
}

func (h *harness) stepN(n int) {
	for i := 0; i < n; i++ {
		h.step()
	}
}

func (h *harness) deliver() {
	h.mailbox.Drain(func(fn func()) { fn() })
}

// stop stops the recording and applies the background seal.
func (h *harness) stop(t *testing.T) {
	t.Helper()
	require.NoError(t, h.rec.Stop())
	h.rec.Wait()
	h.deliver()
}

func TestStart_RequiresStability(t *testing.T) {
	h := newHarness(t, ticks(10, 20*ms))
	assert.ErrorIs(t, h.rec.Start(), ErrNotStable)
	assert.Equal(t, Idle, h.rec.State())

	h.stepN(7)
	require.NoError(t, h.rec.Start())
	assert.Equal(t, Armed, h.rec.State())
	assert.ErrorIs(t, h.rec.Start(), ErrAlreadyRecording)
}

func TestStop_NotRecording(t *testing.T) {
	h := newHarness(t, ticks(10, 20*ms))
	assert.ErrorIs(t, h.rec.Stop(), ErrNotRecording)

	h.stepN(7)
	require.NoError(t, h.rec.Start())
	assert.ErrorIs(t, h.rec.Stop(), ErrNotRecording)
}

func TestRecorder_SuccessfulSession(t *testing.T) {
	h := newHarness(t, ticks(40, 20*ms))
	h.stepN(7)
	require.NoError(t, h.rec.Start())

	h.step()
	require.Equal(t, Active, h.rec.State())
	require.NotNil(t, h.rec.Anchor())
	id := h.rec.SessionID()
	require.NotEmpty(t, id)

	// The anchor sits half a metre in front of an identity camera.
	first := h.rec.Anchor().Pose()
	assert.InDelta(t, -0.5, first.Position[2], 1e-9)

	h.stepN(10)
	assert.ErrorIs(t, h.rec.Start(), ErrAlreadyRecording)
	require.NoError(t, h.rec.Stop())
	assert.Equal(t, Sealed, h.rec.State())
	h.rec.Wait()
	h.deliver()
	assert.Equal(t, Uploading, h.rec.State())
	assert.Greater(t, h.rec.Summary().FrameCount, 0)
	assert.Equal(t, id, h.uploader.sessionID)
	assert.DirExists(t, h.uploader.dir)
	assert.ErrorIs(t, h.rec.Start(), ErrBusy)

	h.uploader.done(core.SessionOutcome{
		SessionID: id,
		Success:   true,
		Result:    core.PointResult(core.Vec3{0, 0, -0.5}),
	})
	assert.Equal(t, Uploading, h.rec.State(), "outcome applies on the next tick")

	h.step()
	assert.Equal(t, Done, h.rec.State())
	assert.True(t, h.rec.Succeeded())
	assert.True(t, h.proj.Active())
	assert.Equal(t, 1, h.replay.LiveAnchors())

	proj, ok := h.proj.Current()
	require.True(t, ok)
	assert.InDelta(t, -0.5, proj.Points[0][2], 1e-9)

	sessions, err := h.catalog.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, core.CatalogDone, sessions[0].State)
	assert.Contains(t, sessions[0].ResultWKT, "POINT Z")

	require.Len(t, h.telemetry.records, 1)
	assert.True(t, h.telemetry.records[0].Success)
	assert.Equal(t, h.rec.Summary().FrameCount, h.telemetry.records[0].FrameCount)

	assert.Equal(t, []State{Armed, Active, Sealed, Uploading, Done}, h.states)
}

func TestRecorder_UploadFailureReleasesAnchor(t *testing.T) {
	h := newHarness(t, ticks(40, 20*ms))
	h.stepN(7)
	require.NoError(t, h.rec.Start())
	h.stepN(5)
	h.stop(t)

	h.uploader.done(core.SessionOutcome{SessionID: h.uploader.sessionID, Error: "transport failed"})
	h.deliver()

	assert.Equal(t, Done, h.rec.State())
	assert.False(t, h.rec.Succeeded())
	assert.EqualError(t, h.rec.LastError(), "transport failed")
	assert.Nil(t, h.rec.Anchor())
	assert.Equal(t, 0, h.replay.LiveAnchors())
	assert.False(t, h.proj.Active())

	sessions, err := h.catalog.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, core.CatalogFailed, sessions[0].State)
}

func TestRecorder_StartFromDoneResets(t *testing.T) {
	h := newHarness(t, ticks(60, 20*ms))
	h.stepN(7)
	require.NoError(t, h.rec.Start())
	h.stepN(5)
	h.stop(t)
	h.uploader.done(core.SessionOutcome{SessionID: h.uploader.sessionID, Success: true,
		Result: core.SegmentResult(core.Vec3{0, 0, 0}, core.Vec3{0, 1, 0})})
	h.deliver()
	require.True(t, h.proj.Active())
	firstID := h.rec.SessionID()

	require.NoError(t, h.rec.Start())
	assert.Equal(t, Armed, h.rec.State())
	assert.False(t, h.proj.Active())
	assert.Equal(t, 0, h.replay.LiveAnchors())

	h.step()
	assert.Equal(t, Active, h.rec.State())
	assert.NotEqual(t, firstID, h.rec.SessionID())
}

func TestRecorder_StaleOutcomeIgnored(t *testing.T) {
	h := newHarness(t, ticks(40, 20*ms))
	h.stepN(7)
	require.NoError(t, h.rec.Start())
	h.stepN(3)
	h.stop(t)

	h.uploader.done(core.SessionOutcome{SessionID: "other", Success: true})
	h.deliver()
	assert.Equal(t, Uploading, h.rec.State())
}

func TestRecorder_StopDoesNotWaitForFrames(t *testing.T) {
	h := newHarness(t, ticks(40, 20*ms))
	h.stepN(7)
	require.NoError(t, h.rec.Start())
	release := h.gate.hold()
	h.stepN(5)
	<-h.gate.entered

	require.NoError(t, h.rec.Stop())
	assert.Equal(t, Sealed, h.rec.State())
	assert.ErrorIs(t, h.rec.Start(), ErrBusy)
	assert.ErrorIs(t, h.rec.Reset(), ErrBusy)

	h.stepN(2)
	assert.Equal(t, Sealed, h.rec.State())
	assert.Empty(t, h.uploader.sessionID)

	release()
	h.rec.Wait()
	h.deliver()
	assert.Equal(t, Uploading, h.rec.State())
	assert.Equal(t, h.rec.SessionID(), h.uploader.sessionID)
	assert.Greater(t, h.rec.Summary().FrameCount, 0)
	assert.Equal(t, []State{Armed, Active, Sealed, Uploading}, h.states)
}

func TestRecorder_MetadataFailureAborts(t *testing.T) {
	h := newHarness(t, ticks(40, 20*ms))
	h.stepN(7)
	require.NoError(t, h.rec.Start())
	h.step()
	require.Equal(t, Active, h.rec.State())
	id := h.rec.SessionID()
	dir := h.rec.Session().Dir

	// With the metadata sink closed, the next frame's append fails.
	require.NoError(t, h.rec.Session().Abort())
	h.stepN(3)
	require.Eventually(t, func() bool { return h.smp.Err() != nil }, 2*time.Second, 5*time.Millisecond)

	h.step()
	assert.Equal(t, Idle, h.rec.State())
	assert.ErrorIs(t, h.rec.LastError(), core.ErrMetadataWriteFailed)
	assert.Empty(t, h.rec.SessionID())
	assert.Nil(t, h.rec.Anchor())
	assert.Equal(t, 0, h.replay.LiveAnchors())
	assert.DirExists(t, dir)
	assert.Empty(t, h.uploader.sessionID)

	sessions, err := h.catalog.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Equal(t, core.CatalogFailed, sessions[0].State)

	assert.NotPanics(t, func() { h.stepN(3) })
	assert.Equal(t, Idle, h.rec.State())

	require.NoError(t, h.rec.Start())
	h.step()
	assert.Equal(t, Active, h.rec.State())
	assert.NotEqual(t, id, h.rec.SessionID())
}

func TestRecorder_MetadataFailureWhileStoppingAborts(t *testing.T) {
	h := newHarness(t, ticks(40, 20*ms))
	h.stepN(7)
	require.NoError(t, h.rec.Start())
	release := h.gate.hold()
	h.step()
	<-h.gate.entered
	dir := h.rec.Session().Dir

	// The held frame reaches a closed sink once released.
	require.NoError(t, h.rec.Session().Abort())
	require.NoError(t, h.rec.Stop())
	assert.Equal(t, Sealed, h.rec.State())

	release()
	h.rec.Wait()
	h.deliver()
	assert.Equal(t, Idle, h.rec.State())
	assert.ErrorIs(t, h.rec.LastError(), core.ErrMetadataWriteFailed)
	assert.Equal(t, 0, h.replay.LiveAnchors())
	assert.DirExists(t, dir)
	assert.Empty(t, h.uploader.sessionID)
	assert.Equal(t, []State{Armed, Active, Sealed, Idle}, h.states)
}

func TestRecorder_AnchorRefused(t *testing.T) {
	h := newHarness(t, ticks(20, 20*ms))
	h.replay.RefuseAnchors(true)
	h.stepN(7)
	require.NoError(t, h.rec.Start())

	h.step()
	assert.Equal(t, Idle, h.rec.State())
	assert.ErrorIs(t, h.rec.LastError(), core.ErrAnchorCreationFailed)
	assert.Empty(t, h.rec.SessionID())

	entries, err := os.ReadDir(h.outputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecorder_ArmedWaitsForTracking(t *testing.T) {
	tt := ticks(12, 20*ms)
	tt[7].Tracking = "PAUSED"
	h := newHarness(t, tt)
	h.stepN(7)
	require.NoError(t, h.rec.Start())

	h.step()
	assert.Equal(t, Armed, h.rec.State())
	h.step()
	assert.Equal(t, Active, h.rec.State())
}

func TestRecorder_ResetAndShutdown(t *testing.T) {
	h := newHarness(t, ticks(20, 20*ms))
	require.NoError(t, h.rec.Reset())

	h.stepN(7)
	require.NoError(t, h.rec.Start())
	require.NoError(t, h.rec.Reset())
	assert.Equal(t, Idle, h.rec.State())

	require.NoError(t, h.rec.Start())
	h.step()
	require.Equal(t, Active, h.rec.State())
	assert.ErrorIs(t, h.rec.Reset(), ErrAlreadyRecording)

	h.rec.Shutdown()
	assert.Equal(t, Idle, h.rec.State())
	assert.Equal(t, 0, h.replay.LiveAnchors())
	assert.Error(t, h.rec.LastError())
	assert.False(t, errors.Is(h.rec.LastError(), core.ErrAnchorCreationFailed))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "UPLOADING", Uploading.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
