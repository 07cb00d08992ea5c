// pkg/core/session.go
package core

import "time"

// SessionInfo is the catalog view of a recording session.
type SessionInfo struct {
	ID        string
	Dir       string
	StartedAt time.Time
	SealedAt  time.Time
	Anchor    Pose
}

// SessionSummary is recorded when a session is sealed.
type SessionSummary struct {
	SessionID      string
	FrameCount     int
	FramesDropped  int
	FirstTimestamp int64
	LastTimestamp  int64
}

// SessionOutcome is recorded once the upload round trip completes.
type SessionOutcome struct {
	SessionID      string
	Success        bool
	Result         RemoteResult
	Error          string
	UploadDuration time.Duration
	CompletedAt    time.Time
}

// SessionRecord is the catalog row for a session across its lifecycle.
type SessionRecord struct {
	ID             string        `json:"id"`
	Dir            string        `json:"dir"`
	State          string        `json:"state"`
	StartedAt      time.Time     `json:"started_at"`
	SealedAt       time.Time     `json:"sealed_at,omitzero"`
	CompletedAt    time.Time     `json:"completed_at,omitzero"`
	Anchor         Pose          `json:"anchor"`
	FrameCount     int           `json:"frame_count"`
	FramesDropped  int           `json:"frames_dropped"`
	Success        bool          `json:"success"`
	Result         RemoteResult  `json:"result"`
	ResultWKT      string        `json:"result_wkt,omitempty"`
	Error          string        `json:"error,omitempty"`
	UploadDuration time.Duration `json:"upload_duration_ns"`
}

// Catalog states recorded for a session.
const (
	CatalogRecording = "recording"
	CatalogSealed    = "sealed"
	CatalogDone      = "done"
	CatalogFailed    = "failed"
)

// ApplyStarted fills r from a newly created session.
func (r *SessionRecord) ApplyStarted(info SessionInfo) {
	r.ID = info.ID
	r.Dir = info.Dir
	r.StartedAt = info.StartedAt
	r.Anchor = info.Anchor
	r.State = CatalogRecording
}

// ApplySealed records the frame totals of a sealed session.
func (r *SessionRecord) ApplySealed(info SessionInfo, summary SessionSummary) {
	r.SealedAt = info.SealedAt
	r.FrameCount = summary.FrameCount
	r.FramesDropped = summary.FramesDropped
	r.State = CatalogSealed
}

// ApplyCompleted records the upload outcome. wkt is the result geometry as
// well-known text, empty for results without geometry.
func (r *SessionRecord) ApplyCompleted(outcome SessionOutcome, wkt string) {
	r.CompletedAt = outcome.CompletedAt
	r.Success = outcome.Success
	r.Result = outcome.Result
	r.ResultWKT = wkt
	r.Error = outcome.Error
	r.UploadDuration = outcome.UploadDuration
	if outcome.Success {
		r.State = CatalogDone
	} else {
		r.State = CatalogFailed
	}
}

// Duration reports how long the session recorded, zero until sealed.
func (r SessionRecord) Duration() time.Duration {
	if r.SealedAt.IsZero() {
		return 0
	}
	return r.SealedAt.Sub(r.StartedAt)
}
