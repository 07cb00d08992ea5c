// Package memory keeps the session catalog in memory and exports it as JSON
// when closed.
package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ar-recorder/recorder/internal/config"
	"github.com/ar-recorder/recorder/internal/geo"
	"github.com/ar-recorder/recorder/pkg/core"
)

// Backend stores session records in memory and exports them to JSON
type Backend struct {
	cfg config.MemoryConfig

	sessions map[string]*core.SessionRecord

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:      cfg,
		sessions: make(map[string]*core.SessionRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close exports the catalog if an output directory is configured.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.OutputDir == "" || len(b.sessions) == 0 {
		return nil
	}
	return b.exportJSON()
}

// SessionStarted records a new session.
func (b *Backend) SessionStarted(info core.SessionInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec := &core.SessionRecord{}
	rec.ApplyStarted(info)
	b.sessions[info.ID] = rec
	return nil
}

// SessionSealed records frame totals.
func (b *Backend) SessionSealed(info core.SessionInfo, summary core.SessionSummary) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.sessions[info.ID]
	if !ok {
		return fmt.Errorf("session %s not found", info.ID)
	}
	rec.ApplySealed(info, summary)
	return nil
}

// SessionCompleted records the upload outcome.
func (b *Backend) SessionCompleted(outcome core.SessionOutcome) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.sessions[outcome.SessionID]
	if !ok {
		return fmt.Errorf("session %s not found", outcome.SessionID)
	}
	wkt, err := geo.ResultWKT(outcome.Result)
	rec.ApplyCompleted(outcome, wkt)
	if err != nil {
		return fmt.Errorf("session %s: %w", outcome.SessionID, err)
	}
	return nil
}

// Sessions returns copies of all records ordered by start time.
func (b *Backend) Sessions() ([]core.SessionRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sorted(), nil
}

func (b *Backend) sorted() []core.SessionRecord {
	out := make([]core.SessionRecord, 0, len(b.sessions))
	for _, rec := range b.sessions {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
