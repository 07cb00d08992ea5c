// Package session owns the on-disk layout of a recording session: the
// session directory, its frame images and the JSONL metadata sink.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ar-recorder/recorder/pkg/core"
)

// ErrOutOfOrder is returned when a frame does not advance both the index and
// the timestamp of the previous frame.
var ErrOutOfOrder = errors.New("frame out of order")

// ErrSealed is returned when writing to a sealed session.
var ErrSealed = errors.New("session sealed")

// DirName is the session directory name for id.
func DirName(id string) string {
	return "session_" + id
}

// MetadataFileName is the JSONL file name for id.
func MetadataFileName(id string) string {
	return "session_" + id + ".jsonl"
}

// FrameFileName is the image file name for a frame index.
func FrameFileName(index int64) string {
	return fmt.Sprintf("frame_%06d.jpg", index)
}

// NewID derives a session id from the creation time (unix milliseconds).
func NewID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10)
}

// Session is one recording: an anchor reference, a directory and the frames
// written into it.
//
// Reserve is called from the tick loop; Append and Drop from frame workers.
type Session struct {
	ID        string
	Dir       string
	StartedAt time.Time
	Anchor    core.Pose

	sink *Sink

	mu        sync.Mutex
	lastIndex int64
	lastTs    int64
	reserved  int
	records   map[int64]core.FrameRecord
	dropped   map[int64]struct{}
	sealedAt  time.Time
}

// maxIDAttempts bounds the suffixes tried when ids collide within one
// millisecond.
const maxIDAttempts = 100

// Create makes a fresh <root>/session_<id> and opens its metadata sink. An
// existing directory is never reused: a colliding id gets a "-N" suffix.
func Create(root string, now time.Time, anchor core.Pose) (*Session, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	base := NewID(now)
	id, dir := base, ""
	for n := 0; ; n++ {
		if n > 0 {
			id = base + "-" + strconv.Itoa(n)
		}
		dir = filepath.Join(root, DirName(id))
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) || n+1 >= maxIDAttempts {
			return nil, fmt.Errorf("creating session directory: %w", err)
		}
	}

	sink, err := OpenSink(filepath.Join(dir, MetadataFileName(id)))
	if err != nil {
		return nil, err
	}

	return &Session{
		ID:        id,
		Dir:       dir,
		StartedAt: now,
		Anchor:    anchor,
		sink:      sink,
		lastIndex: -1,
		lastTs:    -1,
		records:   make(map[int64]core.FrameRecord),
		dropped:   make(map[int64]struct{}),
	}, nil
}

// FramePath is the absolute image path for a frame index.
func (s *Session) FramePath(index int64) string {
	return filepath.Join(s.Dir, FrameFileName(index))
}

// MetadataPath is the path of the JSONL sink.
func (s *Session) MetadataPath() string {
	return s.sink.Path()
}

// Reserve claims a frame slot at capture time. Indices and timestamps must
// both strictly increase.
func (s *Session) Reserve(index, timestampNs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sealedAt.IsZero() {
		return ErrSealed
	}
	if index <= s.lastIndex || timestampNs <= s.lastTs {
		return fmt.Errorf("%w: index %d ts %d after index %d ts %d",
			ErrOutOfOrder, index, timestampNs, s.lastIndex, s.lastTs)
	}
	s.lastIndex = index
	s.lastTs = timestampNs
	s.reserved++
	return nil
}

// Append writes a finished record to the sink. Write failures wrap
// core.ErrMetadataWriteFailed.
func (s *Session) Append(rec core.FrameRecord) error {
	if err := s.sink.Append(rec); err != nil {
		return err
	}
	s.mu.Lock()
	s.records[rec.FrameIndex] = rec
	s.mu.Unlock()
	return nil
}

// Drop records that a reserved frame will not be written.
func (s *Session) Drop(index int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped[index] = struct{}{}
}

// Records returns the written frames ordered by index.
func (s *Session) Records() []core.FrameRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.FrameRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FrameIndex < out[j].FrameIndex })
	return out
}

// Seal closes the sink. The session accepts no further frames.
func (s *Session) Seal(now time.Time) (core.SessionSummary, error) {
	s.mu.Lock()
	if s.sealedAt.IsZero() {
		s.sealedAt = now
	}
	s.mu.Unlock()

	err := s.sink.Close()
	return s.Summary(), err
}

// Abort closes the sink without marking the directory for upload. Files are
// left in place.
func (s *Session) Abort() error {
	return s.sink.Close()
}

// Summary reports frame counts and the timestamp span of written frames.
func (s *Session) Summary() core.SessionSummary {
	recs := s.Records()
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := core.SessionSummary{
		SessionID:     s.ID,
		FrameCount:    len(recs),
		FramesDropped: len(s.dropped),
	}
	if len(recs) > 0 {
		sum.FirstTimestamp = recs[0].TimestampNs
		sum.LastTimestamp = recs[len(recs)-1].TimestampNs
	}
	return sum
}

// Info is the catalog view of the session.
func (s *Session) Info() core.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.SessionInfo{
		ID:        s.ID,
		Dir:       s.Dir,
		StartedAt: s.StartedAt,
		SealedAt:  s.sealedAt,
		Anchor:    s.Anchor,
	}
}
