// pkg/core/errors.go
package core

import "errors"

// Transient capture conditions. The tick that hit them is skipped.
var (
	ErrTrackingUnavailable  = errors.New("tracking unavailable")
	ErrImageNotYetAvailable = errors.New("image not yet available")
	ErrDeadlineExceeded     = errors.New("image acquisition deadline exceeded")
)

// Session-level failures.
var (
	ErrAnchorCreationFailed = errors.New("anchor creation failed")
	ErrMetadataWriteFailed  = errors.New("metadata write failed")
)

// Upload failures. Local assets are cleaned up regardless.
var (
	ErrArchiveFailed          = errors.New("archive failed")
	ErrTransportFailed        = errors.New("transport failed")
	ErrRemoteProcessingFailed = errors.New("remote processing failed")
	ErrMalformedRemoteResult  = errors.New("malformed remote result")
)

// RemoteError carries the server's error and message for a failed request.
type RemoteError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Reason == "" {
		return "remote processing failed"
	}
	return "remote processing failed: " + e.Reason
}

// Unwrap lets errors.Is match ErrRemoteProcessingFailed.
func (e *RemoteError) Unwrap() error {
	return ErrRemoteProcessingFailed
}
