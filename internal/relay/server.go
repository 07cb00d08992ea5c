// Package relay is the HTTP endpoint recorders upload sessions to. It unpacks
// each upload and hands the session folder to a Processor.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ar-recorder/recorder/internal/api"
	"github.com/ar-recorder/recorder/internal/config"
	"github.com/ar-recorder/recorder/pkg/core"
)

const instrumentationName = "github.com/ar-recorder/recorder/internal/relay"

// Server handles session uploads.
type Server struct {
	cfg    config.RelayConfig
	proc   Processor
	logger *slog.Logger

	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// NewServer creates a relay server.
func NewServer(cfg config.RelayConfig, proc Processor, logger *slog.Logger) (*Server, error) {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 100 << 20
	}
	s := &Server{cfg: cfg, proc: proc, logger: logger}

	m := otel.Meter(instrumentationName)
	var err error
	s.requests, err = m.Int64Counter(
		"relay.sessions",
		metric.WithDescription("Session uploads handled, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating relay.sessions counter: %w", err)
	}
	s.duration, err = m.Float64Histogram(
		"relay.process.duration",
		metric.WithDescription("Time spent processing a session"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating relay.process.duration histogram: %w", err)
	}
	return s, nil
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+api.PathHealth, s.healthHandler)
	mux.HandleFunc("POST "+api.PathProcessSession, s.processHandler)
	return s.cors(mux)
}

// ListenAndServe serves on cfg.Addr() until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Relay listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthStatus{Status: "ok", Message: "Server is running"})
}

func (s *Server) processHandler(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get(api.RequestIDHeader)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	logger := s.logger.With("request_id", reqID)

	if r.ContentLength > s.cfg.MaxUploadSize {
		s.reject(w, r, logger, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.reject(w, r, logger, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		s.reject(w, r, logger, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		s.reject(w, r, logger, http.StatusBadRequest, "Empty filename")
		return
	}

	tmp, err := os.MkdirTemp("", "relay-*")
	if err != nil {
		s.fail(w, r, logger, err)
		return
	}
	defer os.RemoveAll(tmp)

	archive := filepath.Join(tmp, "upload.zip")
	if err := saveUpload(file, archive); err != nil {
		s.fail(w, r, logger, err)
		return
	}

	extracted := filepath.Join(tmp, "extracted")
	if err := Extract(archive, extracted, s.cfg.MaxUploadSize*4); err != nil {
		s.reject(w, r, logger, http.StatusBadRequest, "invalid archive: "+err.Error())
		return
	}
	sessionDir, err := LocateSession(extracted)
	if err != nil {
		s.reject(w, r, logger, http.StatusBadRequest, "session folder not found")
		return
	}

	ctx := r.Context()
	if s.cfg.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ProcessTimeout)
		defer cancel()
	}

	logger.Info("Processing session", "file", header.Filename, "session", SessionName(sessionDir))
	start := time.Now()
	resp, err := s.proc.Process(ctx, sessionDir)
	s.duration.Record(r.Context(), time.Since(start).Seconds())
	if err != nil {
		s.fail(w, r, logger, err)
		return
	}

	s.requests.Add(r.Context(), 1, metric.WithAttributes(attribute.String("outcome", "ok")))
	logger.Info("Session processed", "duration", time.Since(start), "coordinates", resp.CupCoordinates)
	writeJSON(w, http.StatusOK, resp)
}

func saveUpload(src io.Reader, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, logger *slog.Logger, status int, reason string) {
	s.requests.Add(r.Context(), 1, metric.WithAttributes(attribute.String("outcome", "rejected")))
	logger.Warn("Rejected upload", "status", status, "reason", reason)
	writeJSON(w, status, core.UploadResponse{Success: false, Error: reason})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	s.requests.Add(r.Context(), 1, metric.WithAttributes(attribute.String("outcome", "failed")))
	logger.Error("Session processing failed", "error", err)
	first, _, _ := strings.Cut(err.Error(), "\n")
	writeJSON(w, http.StatusInternalServerError, core.UploadResponse{
		Success: false,
		Error:   first,
		Message: err.Error(),
	})
}

// cors applies the configured allowed origins. "*" allows any origin.
func (s *Server) cors(next http.Handler) http.Handler {
	allowAll := slices.Contains(s.cfg.CORSOrigins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || slices.Contains(s.cfg.CORSOrigins, origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "*")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
