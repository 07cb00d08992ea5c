package gormstorage

import (
	"time"

	"gorm.io/datatypes"

	"github.com/ar-recorder/recorder/pkg/core"
)

// Session is the catalog table row.
type Session struct {
	ID               uint   `gorm:"primarykey"`
	UUID             string `gorm:"size:36;uniqueIndex"`
	SessionID        string `gorm:"size:32;uniqueIndex"`
	Dir              string
	State            string `gorm:"size:16;index"`
	StartedAt        time.Time
	SealedAt         *time.Time
	CompletedAt      *time.Time
	Anchor           datatypes.JSONType[core.Pose]
	FrameCount       int
	FramesDropped    int
	Success          bool
	ResultKind       string `gorm:"size:16"`
	Result           datatypes.JSONType[core.RemoteResult]
	ResultWKT        string
	Error            string
	UploadDurationMs int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName pins the table name.
func (Session) TableName() string {
	return "ar_sessions"
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// toRecord converts a row to the catalog view.
func (s Session) toRecord() core.SessionRecord {
	return core.SessionRecord{
		ID:             s.SessionID,
		Dir:            s.Dir,
		State:          s.State,
		StartedAt:      s.StartedAt,
		SealedAt:       deref(s.SealedAt),
		CompletedAt:    deref(s.CompletedAt),
		Anchor:         s.Anchor.Data(),
		FrameCount:     s.FrameCount,
		FramesDropped:  s.FramesDropped,
		Success:        s.Success,
		Result:         s.Result.Data(),
		ResultWKT:      s.ResultWKT,
		Error:          s.Error,
		UploadDuration: time.Duration(s.UploadDurationMs) * time.Millisecond,
	}
}
