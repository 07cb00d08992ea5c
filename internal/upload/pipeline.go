package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ar-recorder/recorder/pkg/core"
)

// Sender delivers an archive to the processing service.
type Sender interface {
	ProcessSession(ctx context.Context, archivePath string) (core.RemoteResult, error)
}

// Config controls local file handling around an upload.
type Config struct {
	// TempDir holds archives while they are sent. Empty uses os.TempDir.
	TempDir string
	// RemoveSessionDir deletes the session directory after a successful upload.
	RemoveSessionDir bool
}

// Pipeline archives a sealed session, sends it and cleans up.
type Pipeline struct {
	cfg    Config
	sender Sender
	logger *slog.Logger

	wg sync.WaitGroup
}

// New creates a pipeline.
func New(cfg Config, sender Sender, logger *slog.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, sender: sender, logger: logger}
}

// Run archives sessionDir, sends it and always removes the archive. A result
// with malformed geometry is logged and returned as a "none" result.
func (p *Pipeline) Run(ctx context.Context, sessionDir string) (core.RemoteResult, error) {
	tmp, err := os.CreateTemp(p.cfg.TempDir, "session-*.zip")
	if err != nil {
		return core.RemoteResult{}, fmt.Errorf("%w: %w", core.ErrArchiveFailed, err)
	}
	archivePath := tmp.Name()
	tmp.Close()
	defer os.Remove(archivePath)

	if err := Archive(sessionDir, archivePath); err != nil {
		return core.RemoteResult{}, err
	}

	if st, err := os.Stat(archivePath); err == nil {
		p.logger.Info("Session archived", "dir", sessionDir, "bytes", st.Size())
	}

	res, err := p.sender.ProcessSession(ctx, archivePath)
	if errors.Is(err, core.ErrMalformedRemoteResult) {
		p.logger.Warn("Ignoring malformed result geometry", "error", err)
		res, err = core.RemoteResult{Message: res.Message}, nil
	}
	if err != nil {
		return core.RemoteResult{}, err
	}

	if p.cfg.RemoveSessionDir {
		if rmErr := os.RemoveAll(sessionDir); rmErr != nil {
			p.logger.Warn("Failed to remove session directory", "dir", sessionDir, "error", rmErr)
		}
	}
	return res, nil
}

// Start runs the upload on its own goroutine and calls done with the outcome.
// done runs on the upload goroutine; callers marshal it to their own.
// The upload is not tied to the caller's lifetime and is never cancelled by
// stopping a recording.
func (p *Pipeline) Start(ctx context.Context, sessionID, sessionDir string, done func(core.SessionOutcome)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		start := time.Now()
		res, err := p.Run(ctx, sessionDir)
		out := core.SessionOutcome{
			SessionID:      sessionID,
			Success:        err == nil,
			Result:         res,
			UploadDuration: time.Since(start),
			CompletedAt:    time.Now(),
		}
		if err != nil {
			out.Error = err.Error()
			p.logger.Error("Session upload failed", "session_id", sessionID, "error", err)
		} else {
			p.logger.Info("Session upload complete", "session_id", sessionID,
				"result", res.Kind.String(), "duration", out.UploadDuration)
		}
		done(out)
	}()
}

// Wait blocks until every started upload has called done.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
