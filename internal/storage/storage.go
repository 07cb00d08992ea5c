// Package storage catalogs recording sessions across their lifecycle.
package storage

import "github.com/ar-recorder/recorder/pkg/core"

// Backend is the interface all catalog implementations must satisfy.
// Calls come from the tick loop and must not block on I/O.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session lifecycle
	SessionStarted(info core.SessionInfo) error
	SessionSealed(info core.SessionInfo, summary core.SessionSummary) error
	SessionCompleted(outcome core.SessionOutcome) error

	// Sessions returns every known session ordered by start time.
	Sessions() ([]core.SessionRecord, error)
}

// Exporter is an optional interface for backends that write a file on Close.
type Exporter interface {
	ExportedFilePath() string
}
