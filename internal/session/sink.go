package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/ar-recorder/recorder/pkg/core"
)

// Sink appends FrameRecords as JSON lines. It is the only session state
// written from frame workers, so every write holds mu.
type Sink struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	w      *bufio.Writer
	count  int
	closed bool
}

// OpenSink creates the metadata file at path. It fails if the file exists.
func OpenSink(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMetadataWriteFailed, err)
	}
	return &Sink{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// Path is the metadata file path.
func (s *Sink) Path() string {
	return s.path
}

// Append writes one record and flushes it so a crash loses at most the
// record being written.
func (s *Sink) Append(rec core.FrameRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrMetadataWriteFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %w", core.ErrMetadataWriteFailed, ErrSealed)
	}
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("%w: %w", core.ErrMetadataWriteFailed, err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("%w: %w", core.ErrMetadataWriteFailed, err)
	}
	s.count++
	return nil
}

// Count is the number of records written.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close flushes and closes the file. Further calls are no-ops.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return fmt.Errorf("%w: %w", core.ErrMetadataWriteFailed, err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("%w: %w", core.ErrMetadataWriteFailed, err)
	}
	return nil
}
