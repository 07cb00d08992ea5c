// internal/api/client.go
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ar-recorder/recorder/pkg/core"
	"github.com/google/uuid"
)

// Endpoint paths served by the processing relay.
const (
	PathProcessSession = "/api/process-session"
	PathHealth         = "/api/health"
)

// RequestIDHeader carries a per-upload id for correlating relay logs.
const RequestIDHeader = "X-Request-ID"

// maxResponseBody caps how much of a response body is read.
const maxResponseBody = 1 << 20

// Config configures the processing service client.
type Config struct {
	BaseURL string
	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout time.Duration
	// ResponseTimeout bounds the whole request, including server processing.
	ResponseTimeout time.Duration
}

// Client talks to the session processing service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// HealthStatus is the body of the health endpoint.
type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// New creates a client with its own transport. The connect timeout is kept
// separate from the response timeout because processing can take minutes.
func New(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 10 * time.Minute
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConns:        2,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.ResponseTimeout,
		},
	}
}

// BaseURL returns the configured service URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Healthcheck checks that the processing service is reachable.
func (c *Client) Healthcheck(ctx context.Context) (HealthStatus, error) {
	var hs HealthStatus
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathHealth, nil)
	if err != nil {
		return hs, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return hs, fmt.Errorf("%w: healthcheck request failed: %w", core.ErrTransportFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return hs, fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&hs); err != nil {
		return hs, fmt.Errorf("decoding healthcheck: %w", err)
	}
	return hs, nil
}

// ProcessSession uploads a session archive as multipart field "file" and
// decodes the returned geometry. A result that decodes but carries malformed
// geometry is returned as a "none" result together with an error wrapping
// core.ErrMalformedRemoteResult.
func (c *Client) ProcessSession(ctx context.Context, archivePath string) (core.RemoteResult, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return core.RemoteResult{}, fmt.Errorf("%w: failed to open archive: %w", core.ErrTransportFailed, err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		part, err := writer.CreateFormFile("file", filepath.Base(archivePath))
		if err != nil {
			err = fmt.Errorf("failed to create form file: %w", err)
			pw.CloseWithError(err)
			errCh <- err
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			err = fmt.Errorf("failed to copy archive: %w", err)
			pw.CloseWithError(err)
			errCh <- err
			return
		}
		err = writer.Close()
		pw.CloseWithError(err)
		errCh <- err
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathProcessSession, pr)
	if err != nil {
		pr.Close()
		<-errCh
		return core.RemoteResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set(RequestIDHeader, uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.Close()
		<-errCh
		return core.RemoteResult{}, fmt.Errorf("%w: upload request failed: %w", core.ErrTransportFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	pr.Close()
	if writeErr := <-errCh; writeErr != nil && resp.StatusCode/100 == 2 {
		return core.RemoteResult{}, fmt.Errorf("%w: %w", core.ErrTransportFailed, writeErr)
	}
	if err != nil {
		return core.RemoteResult{}, fmt.Errorf("%w: reading response: %w", core.ErrTransportFailed, err)
	}

	return DecodeResult(resp.StatusCode, body)
}

// DecodeResult interprets a processing response.
//
//   - non-2xx or success:false: *core.RemoteError
//   - 2xx body that is not a JSON response: core.ErrTransportFailed
//   - success:true without geometry: a "none" result
//   - rotation_axis with two 3-vectors: a segment
//   - cup_coordinates with a 3-vector: a point
//   - geometry present but not 3-vectors: "none" plus ErrMalformedRemoteResult
func DecodeResult(status int, body []byte) (core.RemoteResult, error) {
	var wire core.UploadResponse
	decodeErr := json.Unmarshal(body, &wire)

	if status/100 != 2 {
		re := &core.RemoteError{StatusCode: status, Message: strings.TrimSpace(string(body))}
		if decodeErr == nil {
			re.Reason, re.Message = wire.Error, wire.Message
		}
		if re.Reason == "" {
			re.Reason = fmt.Sprintf("status %d", status)
		}
		return core.RemoteResult{}, re
	}
	if decodeErr != nil {
		return core.RemoteResult{}, fmt.Errorf("%w: undecodable %d response: %w", core.ErrTransportFailed, status, decodeErr)
	}
	if !wire.Success {
		return core.RemoteResult{}, &core.RemoteError{StatusCode: status, Reason: wire.Error, Message: wire.Message}
	}

	if wire.RotationAxis != nil {
		bottom, okB := vec3(wire.RotationAxis.BottomPoint)
		top, okT := vec3(wire.RotationAxis.TopPoint)
		if !okB || !okT {
			return core.RemoteResult{Message: wire.Message},
				fmt.Errorf("%w: rotation_axis points must have 3 components", core.ErrMalformedRemoteResult)
		}
		r := core.SegmentResult(bottom, top)
		r.Message = wire.Message
		return r, nil
	}

	if wire.CupCoordinates != nil {
		p, ok := vec3(wire.CupCoordinates)
		if !ok {
			return core.RemoteResult{Message: wire.Message},
				fmt.Errorf("%w: cup_coordinates has %d components", core.ErrMalformedRemoteResult, len(wire.CupCoordinates))
		}
		r := core.PointResult(p)
		r.Message = wire.Message
		return r, nil
	}

	return core.RemoteResult{Message: wire.Message}, nil
}

func vec3(v []float64) (core.Vec3, bool) {
	if len(v) != 3 {
		return core.Vec3{}, false
	}
	return core.Vec3{v[0], v[1], v[2]}, true
}
