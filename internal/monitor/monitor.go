// Package monitor periodically writes a status snapshot of the recorder to
// status.json in the logs directory.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the status file written into the logs directory.
const FileName = "status.json"

// Status is one snapshot of recorder health.
type Status struct {
	Time             time.Time      `json:"time"`
	RecorderState    string         `json:"recorder_state"`
	SessionID        string         `json:"session_id,omitempty"`
	StabilityState   string         `json:"stability_state"`
	StableElapsedMs  int64          `json:"stable_elapsed_ms"`
	FramesCaptured   int64          `json:"frames_captured"`
	FramesSkipped    int64          `json:"frames_skipped"`
	FramesDropped    int64          `json:"frames_dropped"`
	FramesWritten    int64          `json:"frames_written"`
	DispatcherQueues map[string]int `json:"dispatcher_queues,omitempty"`
	ProjectionHeld   bool           `json:"projection_held"`
	Ticks            int64          `json:"ticks"`
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	// Snapshot returns the latest status. It is called from the monitor
	// goroutine and must be safe for concurrent use.
	Snapshot func() Status
	LogsDir  string
	Interval time.Duration
	Logger   *slog.Logger
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = 10 * time.Second
	}
	return &Service{deps: deps}
}

// Path returns the status file path.
func (s *Service) Path() string {
	return filepath.Join(s.deps.LogsDir, FileName)
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// WriteOnce writes the current snapshot to the status file.
func (s *Service) WriteOnce() error {
	st := s.deps.Snapshot()
	if st.Time.IsZero() {
		st.Time = time.Now().UTC()
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	if err := os.MkdirAll(s.deps.LogsDir, 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	tmp := s.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return os.Rename(tmp, s.Path())
}

// Start starts the status monitor goroutine
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		s.deps.Logger.Debug("Starting status monitor", "path", s.Path(), "interval", s.deps.Interval)
		for {
			select {
			case <-s.stopChan:
				if err := s.WriteOnce(); err != nil {
					s.deps.Logger.Error("Error writing status file", "error", err)
				}
				return
			case <-ticker.C:
				if err := s.WriteOnce(); err != nil {
					s.deps.Logger.Error("Error writing status file", "error", err)
				}
			}
		}
	}()
}

// Stop stops the status monitor after a final snapshot.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
