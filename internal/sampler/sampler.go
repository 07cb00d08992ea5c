// Package sampler turns tracking ticks into persisted frames. It gates on a
// minimum interval of tracking time, copies the camera image inside the tick
// and hands encoding, file I/O and metadata to dispatcher workers.
package sampler

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ar-recorder/recorder/internal/dispatcher"
	"github.com/ar-recorder/recorder/internal/session"
	"github.com/ar-recorder/recorder/internal/tracking"
	"github.com/ar-recorder/recorder/pkg/core"
)

// EventFrame is the dispatcher kind for frame encode jobs.
const EventFrame = "frame.encode"

// Config controls sampling and encoding.
type Config struct {
	Interval      time.Duration
	MaxImageWidth int
	JPEGQuality   int
	Workers       int
	QueueSize     int
}

// Counters is a snapshot of sampler activity.
type Counters struct {
	Captured int64 `json:"captured"`
	Skipped  int64 `json:"skipped"`
	Dropped  int64 `json:"dropped"`
	Written  int64 `json:"written"`
}

type job struct {
	fl             *Flight
	index          int64
	timestampNs    int64
	pose           core.Pose
	anchorPose     core.Pose
	anchorTracking bool
	intrinsics     core.Intrinsics
	rotation       int
	img            *image.YCbCr
}

// Flight is one session's sampling run. The tick loop owns the gate fields;
// workers only touch the counters and the failure slot. A flight outlives
// End until its last queued frame has been handled.
type Flight struct {
	sess   *session.Session
	anchor tracking.Anchor

	lastTs  int64
	sampled bool

	pending sync.WaitGroup
	failure atomic.Pointer[error]

	captured atomic.Int64
	skipped  atomic.Int64
	dropped  atomic.Int64
	written  atomic.Int64
}

// Wait blocks until every frame handed to the workers has been handled.
func (fl *Flight) Wait() {
	fl.pending.Wait()
}

// Err returns the first metadata write failure reported by a worker, wrapping
// core.ErrMetadataWriteFailed.
func (fl *Flight) Err() error {
	if p := fl.failure.Load(); p != nil {
		return *p
	}
	return nil
}

// Counters returns a snapshot of the flight's counters.
func (fl *Flight) Counters() Counters {
	return Counters{
		Captured: fl.captured.Load(),
		Skipped:  fl.skipped.Load(),
		Dropped:  fl.dropped.Load(),
		Written:  fl.written.Load(),
	}
}

// Sampler captures frames for the active session. Begin, End and Tick are
// called from the tick loop only.
type Sampler struct {
	cfg    Config
	logger *slog.Logger
	disp   *dispatcher.Dispatcher

	cur  *Flight
	last *Flight
}

// New registers the frame handler on disp and returns an idle sampler.
func New(cfg Config, disp *dispatcher.Dispatcher, logger *slog.Logger) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = 200 * time.Millisecond
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 90
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8
	}

	s := &Sampler{cfg: cfg, logger: logger, disp: disp}
	disp.Register(EventFrame, s.handleFrame,
		dispatcher.Buffered(cfg.QueueSize), dispatcher.Workers(cfg.Workers), dispatcher.Logged())
	return s
}

// Begin starts sampling into sess. anchor supplies the per-frame anchor pose.
func (s *Sampler) Begin(sess *session.Session, anchor tracking.Anchor) *Flight {
	fl := &Flight{sess: sess, anchor: anchor}
	s.cur = fl
	s.last = fl
	return fl
}

// End detaches the current flight and returns it without waiting for its
// frames. It returns nil when no session is attached.
func (s *Sampler) End() *Flight {
	fl := s.cur
	s.cur = nil
	return fl
}

// Active reports whether a session is attached.
func (s *Sampler) Active() bool {
	return s.cur != nil
}

// Err returns the failure of the most recent flight.
func (s *Sampler) Err() error {
	if s.last == nil {
		return nil
	}
	return s.last.Err()
}

// Counters returns the counters of the most recent flight.
func (s *Sampler) Counters() Counters {
	if s.last == nil {
		return Counters{}
	}
	return s.last.Counters()
}

// FrameIndex maps a tracking timestamp onto the sampling grid.
func (s *Sampler) FrameIndex(timestampNs int64) int64 {
	return timestampNs / s.cfg.Interval.Nanoseconds()
}

// Tick samples f once at least one interval of tracking time has passed
// since the previous sample. It reports whether a frame was handed to the
// workers. Capture errors are logged and counted, never returned: the tick
// loop must keep running.
func (s *Sampler) Tick(f tracking.Frame) bool {
	fl := s.cur
	if fl == nil {
		return false
	}

	ts := f.Timestamp()
	if fl.sampled && ts-fl.lastTs < s.cfg.Interval.Nanoseconds() {
		fl.skipped.Add(1)
		return false
	}
	idx := s.FrameIndex(ts)
	if f.TrackingState() != core.TrackingTracking {
		fl.skipped.Add(1)
		return false
	}

	img, err := f.AcquireImage()
	if err != nil {
		if errors.Is(err, core.ErrImageNotYetAvailable) || errors.Is(err, core.ErrDeadlineExceeded) {
			fl.skipped.Add(1)
			return false
		}
		s.logger.Warn("Image acquisition failed", "frame", idx, "error", err)
		fl.dropped.Add(1)
		return false
	}
	buf, err := copyYUV(img)
	if cerr := img.Close(); cerr != nil {
		s.logger.Debug("Closing camera image", "error", cerr)
	}
	if err != nil {
		s.logger.Warn("Copying camera image failed", "frame", idx, "error", err)
		fl.dropped.Add(1)
		return false
	}

	if err := fl.sess.Reserve(idx, ts); err != nil {
		s.logger.Warn("Frame rejected", "frame", idx, "error", err)
		fl.dropped.Add(1)
		return false
	}
	fl.lastTs = ts
	fl.sampled = true

	j := &job{
		fl:          fl,
		index:       idx,
		timestampNs: ts,
		pose:        f.CameraPose(),
		anchorPose:  fl.sess.Anchor,
		intrinsics:  f.Intrinsics(),
		rotation:    f.DisplayRotation(),
		img:         buf,
	}
	if fl.anchor != nil && fl.anchor.TrackingState() == core.TrackingTracking {
		j.anchorPose = fl.anchor.Pose()
		j.anchorTracking = true
	}

	fl.pending.Add(1)
	if _, err := s.disp.Dispatch(dispatcher.Event{Kind: EventFrame, Payload: j, Timestamp: time.Now()}); err != nil {
		fl.pending.Done()
		fl.sess.Drop(idx)
		fl.dropped.Add(1)
		s.logger.Debug("Frame dropped", "frame", idx, "error", err)
		return false
	}
	fl.captured.Add(1)
	return true
}

func (s *Sampler) handleFrame(e dispatcher.Event) (any, error) {
	j, ok := e.Payload.(*job)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T", e.Payload)
	}
	fl := j.fl
	defer fl.pending.Done()

	out := downscale(j.img, s.cfg.MaxImageWidth)
	b := out.Bounds()
	name := session.FrameFileName(j.index)

	if err := writeJPEG(fl.sess.FramePath(j.index), out, s.cfg.JPEGQuality); err != nil {
		fl.sess.Drop(j.index)
		fl.dropped.Add(1)
		s.logger.Warn("Frame write failed", "frame", j.index, "error", err)
		return nil, err
	}

	rec := core.FrameRecord{
		FrameIndex:             j.index,
		TimestampNs:            j.timestampNs,
		Pose:                   j.pose,
		AnchorPose:             j.anchorPose,
		AnchorTracking:         j.anchorTracking,
		Intrinsics:             j.intrinsics.Rescale(b.Dx(), b.Dy()),
		ImageWidth:             b.Dx(),
		ImageHeight:            b.Dy(),
		DisplayRotationDegrees: j.rotation,
		ImageFile:              name,
	}
	if err := fl.sess.Append(rec); err != nil {
		fl.sess.Drop(j.index)
		fl.dropped.Add(1)
		fl.failure.CompareAndSwap(nil, &err)
		s.logger.Error("Metadata write failed", "frame", j.index, "error", err)
		return nil, err
	}

	fl.written.Add(1)
	return name, nil
}
