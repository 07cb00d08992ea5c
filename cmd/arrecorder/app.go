package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/ar-recorder/recorder/internal/config"
	"github.com/ar-recorder/recorder/internal/logging"
	"github.com/ar-recorder/recorder/internal/otel"
)

// app holds the process-wide logging and telemetry set up before any
// command runs.
type app struct {
	start    time.Time
	logsDir  string
	logPath  string
	logFile  *os.File
	logs     *logging.SlogManager
	Logger   *slog.Logger
	DBLogger zerolog.Logger
	otel     *otel.Provider
}

// newApp opens the log file for command and wires slog, zerolog and OTel to
// it. Log records are also echoed to stderr.
func newApp(command string) (*app, error) {
	a := &app{start: time.Now(), logs: logging.NewSlogManager()}
	a.logsDir = config.GetString("logsDir")
	if err := os.MkdirAll(a.logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating logs directory: %w", err)
	}

	a.logPath = logging.LogFilePath(a.logsDir, appName+"_"+command, a.start)
	if _, err := os.Stat(a.logPath); err == nil {
		os.Rename(a.logPath, a.logPath+".old")
	}
	f, err := os.OpenFile(a.logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	a.logFile = f
	out := io.MultiWriter(f, os.Stderr)

	otelCfg := config.GetOTelConfig()
	a.otel, err = otel.New(otel.Config{
		Enabled:         otelCfg.Enabled,
		ServiceName:     otelCfg.ServiceName,
		BatchTimeout:    otelCfg.BatchTimeout,
		MetricsInterval: otelCfg.MetricsInterval,
		LogWriter:       f,
		MetricWriter:    f,
		Endpoint:        otelCfg.Endpoint,
		Insecure:        otelCfg.Insecure,
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("initializing OTel: %w", err)
	}

	level := config.GetString("logLevel")
	a.logs.Setup(out, level, a.otel.LoggerProvider())
	a.Logger = a.logs.Logger()
	if a.otel.Enabled() {
		a.Logger.Info("OTel provider initialized", "file", a.logPath, "endpoint", otelCfg.Endpoint)
	}
	a.Logger.Info("Logging to file", "path", a.logPath)

	zl, err := zerolog.ParseLevel(level)
	if err != nil {
		zl = zerolog.InfoLevel
	}
	a.DBLogger = zerolog.New(out).Level(zl).With().Timestamp().Str("component", "db").Logger()
	return a, nil
}

// dumpPath returns where a SQLite catalog is written when no path is
// configured.
func (a *app) dumpPath() string {
	return filepath.Join(a.logsDir, fmt.Sprintf("%s_%s.db", appName, a.start.Format("20060102_150405")))
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.logs.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "flushing logs: %v\n", err)
	}
	if err := a.otel.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shutting down OTel: %v\n", err)
	}
	a.logFile.Close()
}
