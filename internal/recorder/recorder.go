// Package recorder owns the lifecycle of a recording session: arming,
// anchor placement, capture, sealing, upload and result hand-off.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ar-recorder/recorder/internal/display"
	"github.com/ar-recorder/recorder/internal/geo"
	"github.com/ar-recorder/recorder/internal/influx"
	"github.com/ar-recorder/recorder/internal/projector"
	"github.com/ar-recorder/recorder/internal/queue"
	"github.com/ar-recorder/recorder/internal/sampler"
	"github.com/ar-recorder/recorder/internal/session"
	"github.com/ar-recorder/recorder/internal/stability"
	"github.com/ar-recorder/recorder/internal/storage"
	"github.com/ar-recorder/recorder/internal/tracking"
	"github.com/ar-recorder/recorder/pkg/core"
)

// State is the recorder lifecycle state.
type State int

const (
	Idle State = iota
	Armed
	Active
	Sealed
	Uploading
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Armed:
		return "ARMED"
	case Active:
		return "ACTIVE"
	case Sealed:
		return "SEALED"
	case Uploading:
		return "UPLOADING"
	case Done:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrBusy             = errors.New("previous session is still uploading")
	ErrNotStable        = errors.New("tracking is not stable yet")
	ErrNotRecording     = errors.New("not recording")
)

// DefaultAnchorDistance is the standoff in metres in front of the camera.
const DefaultAnchorDistance = 0.5

// Uploader runs a sealed session's upload in the background.
type Uploader interface {
	Start(ctx context.Context, sessionID, sessionDir string, done func(core.SessionOutcome))
}

// Telemetry receives one point per completed session.
type Telemetry interface {
	RecordSession(recorderID string, rec core.SessionRecord, counts influx.FrameCounts) error
}

// Config controls session placement.
type Config struct {
	OutputDir      string
	AnchorDistance float64
	RecorderID     string
}

// Dependencies are the collaborators the recorder drives. Catalog and
// Telemetry are optional.
type Dependencies struct {
	Tracking  tracking.Session
	Stability *stability.Monitor
	Sampler   *sampler.Sampler
	Uploader  Uploader
	Projector *projector.Projector
	Display   display.Sink
	Catalog   storage.Backend
	Telemetry Telemetry
	// Mailbox receives seal results and upload completions; the tick loop
	// drains it.
	Mailbox *queue.Queue[func()]
	Logger  *slog.Logger
	// OnStateChange is called after every transition.
	OnStateChange func(sessionID string, s State)
	Now           func() time.Time
}

// Recorder is the session state machine. Every method except Wait must be
// called from the tick loop goroutine.
type Recorder struct {
	cfg  Config
	deps Dependencies
	ctx  context.Context

	state     State
	succeeded bool
	lastErr   error

	sess    *session.Session
	anchor  tracking.Anchor
	first   core.Pose
	summary core.SessionSummary
	counts  sampler.Counters
	record  core.SessionRecord

	sealing sync.WaitGroup
}

// New returns an idle recorder. ctx bounds background uploads; stopping a
// recording does not cancel them.
func New(ctx context.Context, cfg Config, deps Dependencies) *Recorder {
	if cfg.AnchorDistance <= 0 {
		cfg.AnchorDistance = DefaultAnchorDistance
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Display == nil {
		deps.Display = display.Noop{}
	}
	return &Recorder{cfg: cfg, deps: deps, ctx: ctx}
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	return r.state
}

// Succeeded reports whether the last session reached DONE successfully.
func (r *Recorder) Succeeded() bool {
	return r.state == Done && r.succeeded
}

// LastError is the error that ended the last session, if any.
func (r *Recorder) LastError() error {
	return r.lastErr
}

// SessionID returns the current session id or "".
func (r *Recorder) SessionID() string {
	if r.sess == nil {
		return ""
	}
	return r.sess.ID
}

// Session returns the current session, or nil.
func (r *Recorder) Session() *session.Session {
	return r.sess
}

// Anchor returns the anchor held for the current session, or nil.
func (r *Recorder) Anchor() tracking.Anchor {
	return r.anchor
}

// Summary is the summary recorded when the current session was sealed.
func (r *Recorder) Summary() core.SessionSummary {
	return r.summary
}

// Start arms the recorder. The session begins on the next tracking tick.
func (r *Recorder) Start() error {
	switch r.state {
	case Armed, Active:
		r.deps.Logger.Warn("Start ignored, recording already in progress", "state", r.state.String())
		return ErrAlreadyRecording
	case Sealed, Uploading:
		return ErrBusy
	}
	if r.deps.Stability != nil && !r.deps.Stability.IsStable() {
		return ErrNotStable
	}
	if r.state == Done {
		r.reset()
	}
	r.lastErr = nil
	r.setState(Armed, "")
	return nil
}

// OnTick advances an armed or active session with frame f.
func (r *Recorder) OnTick(f tracking.Frame) {
	switch r.state {
	case Armed:
		if f.TrackingState() != core.TrackingTracking {
			return
		}
		if err := r.activate(f); err != nil {
			r.fail(err)
			return
		}
		r.deps.Sampler.Tick(f)
	case Active:
		if err := r.deps.Sampler.Err(); err != nil {
			r.abort(err)
			return
		}
		r.deps.Sampler.Tick(f)
	}
}

func (r *Recorder) activate(f tracking.Frame) error {
	pose, err := geo.PoseAhead(f.CameraPose(), r.cfg.AnchorDistance)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrAnchorCreationFailed, err)
	}
	anchor, err := r.deps.Tracking.CreateAnchor(pose)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrAnchorCreationFailed, err)
	}
	first := anchor.Pose()

	sess, err := session.Create(r.cfg.OutputDir, r.deps.Now(), first)
	if err != nil {
		anchor.Detach()
		return fmt.Errorf("creating session: %w", err)
	}

	r.sess = sess
	r.anchor = anchor
	r.first = first
	r.summary = core.SessionSummary{}
	r.counts = sampler.Counters{}
	r.record = core.SessionRecord{}
	r.record.ApplyStarted(sess.Info())

	r.deps.Sampler.Begin(sess, anchor)
	if r.deps.Catalog != nil {
		if err := r.deps.Catalog.SessionStarted(sess.Info()); err != nil {
			r.deps.Logger.Warn("Catalog rejected session start", "session_id", sess.ID, "error", err)
		}
	}
	r.deps.Logger.Info("Session started", "session_id", sess.ID, "dir", sess.Dir,
		"anchor", first.Position)
	r.setState(Active, "")
	return nil
}

// Stop ends capture and returns at once. Frames still in flight drain and
// the session seals on a background goroutine; the result comes back through
// the mailbox and moves the recorder on to UPLOADING, or aborts it when a
// frame's metadata could not be written.
func (r *Recorder) Stop() error {
	if r.state != Active {
		return ErrNotRecording
	}
	if err := r.deps.Sampler.Err(); err != nil {
		r.abort(err)
		return err
	}

	fl := r.deps.Sampler.End()
	sess := r.sess
	sealedAt := r.deps.Now()
	r.setState(Sealed, "")
	r.deps.Logger.Info("Session stopping", "session_id", sess.ID)

	r.sealing.Add(1)
	go func() {
		defer r.sealing.Done()
		fl.Wait()
		counts := fl.Counters()
		err := fl.Err()
		var summary core.SessionSummary
		if err == nil {
			summary, err = sess.Seal(sealedAt)
		}
		if err != nil {
			r.deps.Mailbox.Push(func() { r.sealFailed(sess.ID, counts, err) })
			return
		}
		r.deps.Mailbox.Push(func() { r.sealed(sess.ID, summary, counts) })
	}()
	return nil
}

// sealed records the sealed session and starts its upload. It runs on the
// tick loop via the mailbox.
func (r *Recorder) sealed(id string, summary core.SessionSummary, counts sampler.Counters) {
	if r.state != Sealed || r.SessionID() != id {
		r.deps.Logger.Debug("Ignoring stale seal", "session_id", id, "state", r.state.String())
		return
	}
	r.summary = summary
	r.counts = counts
	info := r.sess.Info()
	r.record.ApplySealed(info, summary)

	if r.deps.Catalog != nil {
		if err := r.deps.Catalog.SessionSealed(info, summary); err != nil {
			r.deps.Logger.Warn("Catalog rejected session seal", "session_id", id, "error", err)
		}
	}
	r.deps.Logger.Info("Session sealed", "session_id", id, "frames", summary.FrameCount,
		"dropped", summary.FramesDropped, "captured", counts.Captured, "skipped", counts.Skipped)

	r.deps.Uploader.Start(r.ctx, id, info.Dir, func(out core.SessionOutcome) {
		r.deps.Mailbox.Push(func() { r.complete(out) })
	})
	r.setState(Uploading, "")
}

// sealFailed aborts a stopping session whose frames or metadata could not be
// finalised.
func (r *Recorder) sealFailed(id string, counts sampler.Counters, cause error) {
	if r.state != Sealed || r.SessionID() != id {
		r.deps.Logger.Debug("Ignoring stale seal failure", "session_id", id, "error", cause)
		return
	}
	r.counts = counts
	r.abort(cause)
}

// Wait blocks until every background seal started by Stop has reported to
// the mailbox.
func (r *Recorder) Wait() {
	r.sealing.Wait()
}

// complete applies an upload outcome. It runs on the tick loop via the
// mailbox.
func (r *Recorder) complete(out core.SessionOutcome) {
	if r.state != Uploading || r.sess == nil || out.SessionID != r.sess.ID {
		r.deps.Logger.Debug("Ignoring stale upload outcome", "session_id", out.SessionID, "state", r.state.String())
		return
	}

	wkt, err := geo.ResultWKT(out.Result)
	if err != nil {
		r.deps.Logger.Warn("Result geometry not representable as WKT", "session_id", out.SessionID, "error", err)
	}
	r.record.ApplyCompleted(out, wkt)
	if r.deps.Catalog != nil {
		if err := r.deps.Catalog.SessionCompleted(out); err != nil {
			r.deps.Logger.Warn("Catalog rejected session outcome", "session_id", out.SessionID, "error", err)
		}
	}
	if r.deps.Telemetry != nil {
		counts := influx.FrameCounts{Captured: r.counts.Captured, Skipped: r.counts.Skipped, Dropped: r.counts.Dropped}
		if err := r.deps.Telemetry.RecordSession(r.cfg.RecorderID, r.record, counts); err != nil {
			r.deps.Logger.Warn("Telemetry write failed", "session_id", out.SessionID, "error", err)
		}
	}

	if !out.Success {
		r.succeeded = false
		r.lastErr = errors.New(out.Error)
		r.releaseAnchor()
		r.deps.Projector.Release()
		r.setState(Done, out.Error)
		return
	}

	r.succeeded = true
	if err := r.deps.Projector.Set(out.SessionID, out.Result, r.anchor, r.first); err != nil {
		r.deps.Logger.Error("Cannot project session result", "session_id", out.SessionID, "error", err)
	}
	r.setState(Done, out.Result.Message)
}

// Reset returns a finished or armed recorder to IDLE, clearing the
// displayed result and releasing the anchor.
func (r *Recorder) Reset() error {
	switch r.state {
	case Active:
		return ErrAlreadyRecording
	case Sealed, Uploading:
		return ErrBusy
	case Idle:
		return nil
	}
	r.reset()
	r.setState(Idle, "")
	return nil
}

// Shutdown releases what the recorder holds. An active session is aborted.
func (r *Recorder) Shutdown() {
	if r.state == Active {
		r.abort(errors.New("recorder shut down"))
		return
	}
	r.deps.Projector.Release()
	r.releaseAnchor()
}

func (r *Recorder) reset() {
	r.deps.Projector.Release()
	r.releaseAnchor()
	r.sess = nil
	r.succeeded = false
}

// abort ends an active or stopping session after a fatal error. It does not
// wait for frames still in flight: once the sink is closed their writes fail
// harmlessly. The session directory is left on disk.
func (r *Recorder) abort(cause error) {
	id := r.SessionID()
	r.deps.Logger.Error("Session aborted", "session_id", id, "error", cause)

	r.deps.Sampler.End()
	if r.sess != nil {
		if err := r.sess.Abort(); err != nil {
			r.deps.Logger.Warn("Closing aborted session", "session_id", id, "error", err)
		}
		if r.deps.Catalog != nil {
			out := core.SessionOutcome{SessionID: id, Error: cause.Error(), CompletedAt: r.deps.Now()}
			if err := r.deps.Catalog.SessionCompleted(out); err != nil {
				r.deps.Logger.Warn("Catalog rejected session outcome", "session_id", id, "error", err)
			}
		}
	}
	r.releaseAnchor()
	r.sess = nil
	r.fail(cause)
}

// fail returns to IDLE with a user-visible error.
func (r *Recorder) fail(err error) {
	r.lastErr = err
	r.succeeded = false
	if errors.Is(err, core.ErrAnchorCreationFailed) {
		r.deps.Logger.Warn("Could not place anchor", "error", err)
	}
	r.setState(Idle, err.Error())
}

func (r *Recorder) releaseAnchor() {
	if r.anchor != nil {
		r.anchor.Detach()
		r.anchor = nil
	}
}

func (r *Recorder) setState(s State, message string) {
	prev := r.state
	r.state = s
	id := r.SessionID()
	r.deps.Logger.Debug("Recorder state changed", "from", prev.String(), "to", s.String(), "session_id", id)
	if err := r.deps.Display.SessionState(id, s.String(), message); err != nil {
		r.deps.Logger.Warn("Display rejected state", "session_id", id, "error", err)
	}
	if r.deps.OnStateChange != nil {
		r.deps.OnStateChange(id, s)
	}
}
