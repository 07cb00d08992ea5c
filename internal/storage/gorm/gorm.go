// Package gormstorage implements the storage.Backend interface using GORM,
// with an internal write queue drained by a background writer goroutine.
package gormstorage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ar-recorder/recorder/internal/geo"
	"github.com/ar-recorder/recorder/internal/queue"
	"github.com/ar-recorder/recorder/pkg/core"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger
}

type write struct {
	name string
	fn   func(tx *gorm.DB) error
}

// Backend implements storage.Backend using GORM with queued writes.
type Backend struct {
	deps   Dependencies
	writes *queue.Queue[write]

	flushMu   sync.Mutex
	lastWrite atomic.Int64
	stopChan  chan struct{}
	done      chan struct{}
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	return &Backend{
		deps:   deps,
		writes: queue.New[write](),
	}
}

// Init migrates the schema and starts the writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gorm backend requires a database")
	}
	if err := b.deps.DB.AutoMigrate(&Session{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writer()
	return nil
}

// Close flushes pending writes and stops the writer goroutine.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	close(b.stopChan)
	<-b.done
	b.stopChan = nil
	return nil
}

func (b *Backend) writer() {
	defer close(b.done)
	for {
		select {
		case <-b.stopChan:
			b.Flush()
			return
		case <-b.writes.Ready():
			b.Flush()
		}
	}
}

// Flush applies every queued write synchronously.
func (b *Backend) Flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	start := time.Now()
	n := b.writes.Drain(func(w write) {
		if err := w.fn(b.deps.DB); err != nil {
			b.deps.Logger.Error("Catalog write failed", "op", w.name, "error", err)
		}
	})
	if n > 0 {
		b.lastWrite.Store(int64(time.Since(start)))
	}
}

// LastWriteDuration reports how long the last non-empty flush took.
func (b *Backend) LastWriteDuration() time.Duration {
	return time.Duration(b.lastWrite.Load())
}

// Pending returns the number of queued writes.
func (b *Backend) Pending() int {
	return b.writes.Len()
}

// SessionStarted queues the insert of a new session row.
func (b *Backend) SessionStarted(info core.SessionInfo) error {
	row := Session{
		UUID:      uuid.NewString(),
		SessionID: info.ID,
		Dir:       info.Dir,
		State:     core.CatalogRecording,
		StartedAt: info.StartedAt,
		Anchor:    datatypes.NewJSONType(info.Anchor),
		Result:    datatypes.NewJSONType(core.RemoteResult{}),
	}
	b.writes.Push(write{name: "start", fn: func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	}})
	return nil
}

// SessionSealed queues the frame totals update.
func (b *Backend) SessionSealed(info core.SessionInfo, summary core.SessionSummary) error {
	updates := map[string]any{
		"state":          core.CatalogSealed,
		"sealed_at":      timePtr(info.SealedAt),
		"frame_count":    summary.FrameCount,
		"frames_dropped": summary.FramesDropped,
	}
	b.writes.Push(write{name: "seal", fn: func(tx *gorm.DB) error {
		return tx.Model(&Session{}).Where("session_id = ?", info.ID).Updates(updates).Error
	}})
	return nil
}

// SessionCompleted queues the upload outcome update.
func (b *Backend) SessionCompleted(outcome core.SessionOutcome) error {
	state := core.CatalogFailed
	if outcome.Success {
		state = core.CatalogDone
	}
	wkt, wktErr := geo.ResultWKT(outcome.Result)
	updates := map[string]any{
		"state":              state,
		"completed_at":       timePtr(outcome.CompletedAt),
		"success":            outcome.Success,
		"result_kind":        outcome.Result.Kind.String(),
		"result":             datatypes.NewJSONType(outcome.Result),
		"result_wkt":         wkt,
		"error":              outcome.Error,
		"upload_duration_ms": outcome.UploadDuration.Milliseconds(),
	}
	b.writes.Push(write{name: "complete", fn: func(tx *gorm.DB) error {
		return tx.Model(&Session{}).Where("session_id = ?", outcome.SessionID).Updates(updates).Error
	}})
	if wktErr != nil {
		return fmt.Errorf("session %s: %w", outcome.SessionID, wktErr)
	}
	return nil
}

// Sessions flushes pending writes and reads every row ordered by start time.
func (b *Backend) Sessions() ([]core.SessionRecord, error) {
	b.Flush()

	var rows []Session
	if err := b.deps.DB.Order("started_at, session_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := make([]core.SessionRecord, len(rows))
	for i, r := range rows {
		out[i] = r.toRecord()
	}
	return out, nil
}
