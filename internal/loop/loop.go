// Package loop drives the recorder from a stream of tracking frames. One
// goroutine calls Tick; everything else reaches the loop through its mailbox.
package loop

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ar-recorder/recorder/internal/monitor"
	"github.com/ar-recorder/recorder/internal/projector"
	"github.com/ar-recorder/recorder/internal/queue"
	"github.com/ar-recorder/recorder/internal/recorder"
	"github.com/ar-recorder/recorder/internal/sampler"
	"github.com/ar-recorder/recorder/internal/stability"
	"github.com/ar-recorder/recorder/internal/tracking"
	"github.com/ar-recorder/recorder/pkg/core"
)

// Source yields tracking frames in order. tracking.Replay implements it.
type Source interface {
	Next() (tracking.Frame, bool)
}

// QueueReporter exposes work queue depths for the status snapshot.
type QueueReporter interface {
	QueueLengths() map[string]int
}

// Dependencies holds all dependencies for the loop
type Dependencies struct {
	Stability *stability.Monitor
	Recorder  *recorder.Recorder
	Projector *projector.Projector
	Sampler   *sampler.Sampler
	Mailbox   *queue.Queue[func()]
	Queues    QueueReporter
}

// Loop applies one tracking frame at a time to the stability monitor, the
// recorder and the projector, in that order.
type Loop struct {
	deps   Dependencies
	ticks  int64
	status atomic.Pointer[monitor.Status]
}

// New creates a loop.
func New(deps Dependencies) *Loop {
	l := &Loop{deps: deps}
	l.publish()
	return l
}

// Tick processes one frame. Upload completions queued since the previous
// tick are applied first.
func (l *Loop) Tick(f tracking.Frame) {
	l.deps.Mailbox.Drain(func(fn func()) { fn() })

	l.deps.Stability.Update(f.TrackingState() == core.TrackingTracking, f.Timestamp())
	l.deps.Recorder.OnTick(f)
	l.deps.Projector.Tick(f.Timestamp())

	l.ticks++
	l.publish()
}

// Ticks is the number of frames processed.
func (l *Loop) Ticks() int64 {
	return l.ticks
}

// Run ticks every frame from src until it is exhausted or ctx is done.
// after, if set, is called after each tick on the loop goroutine.
func (l *Loop) Run(ctx context.Context, src Source, after func(tracking.Frame)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, ok := src.Next()
		if !ok {
			return nil
		}
		l.Tick(f)
		if after != nil {
			after(f)
		}
	}
}

// Settle applies mailbox work until the recorder has no seal or upload in
// flight.
// It is used once the frame source is exhausted.
func (l *Loop) Settle(ctx context.Context) error {
	for {
		l.deps.Mailbox.Drain(func(fn func()) { fn() })
		l.publish()
		switch l.deps.Recorder.State() {
		case recorder.Sealed, recorder.Uploading:
		default:
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.deps.Mailbox.Ready():
		}
	}
}

// Status returns the snapshot published by the last tick. It is safe to
// call from any goroutine.
func (l *Loop) Status() monitor.Status {
	return *l.status.Load()
}

func (l *Loop) publish() {
	c := l.deps.Sampler.Counters()
	s := &monitor.Status{
		Time:            time.Now(),
		RecorderState:   l.deps.Recorder.State().String(),
		SessionID:       l.deps.Recorder.SessionID(),
		StabilityState:  l.deps.Stability.State().String(),
		StableElapsedMs: l.deps.Stability.Elapsed().Milliseconds(),
		FramesCaptured:  c.Captured,
		FramesSkipped:   c.Skipped,
		FramesDropped:   c.Dropped,
		FramesWritten:   c.Written,
		ProjectionHeld:  l.deps.Projector.Held(),
		Ticks:           l.ticks,
	}
	if l.deps.Queues != nil {
		s.DispatcherQueues = l.deps.Queues.QueueLengths()
	}
	l.status.Store(s)
}

// AutoRecord starts a recording as soon as tracking is stable and stops it
// once Duration of tracking time has been captured. It records at most once.
type AutoRecord struct {
	Recorder *recorder.Recorder
	Duration time.Duration

	started bool
	startNs int64
}

// Observe is meant to be passed to Run as the after hook.
func (a *AutoRecord) Observe(f tracking.Frame) {
	switch a.Recorder.State() {
	case recorder.Idle:
		if a.started {
			return
		}
		if err := a.Recorder.Start(); err == nil {
			a.started = true
		}
	case recorder.Active:
		if a.startNs == 0 {
			a.startNs = f.Timestamp()
			return
		}
		if time.Duration(f.Timestamp()-a.startNs) >= a.Duration {
			_ = a.Recorder.Stop()
		}
	}
}

// Stopped reports whether the recording has been handed off or ended.
func (a *AutoRecord) Stopped() bool {
	return a.started && a.Recorder.State() != recorder.Armed && a.Recorder.State() != recorder.Active
}
