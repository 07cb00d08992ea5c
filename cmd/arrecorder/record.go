package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ar-recorder/recorder/internal/api"
	"github.com/ar-recorder/recorder/internal/config"
	"github.com/ar-recorder/recorder/internal/dispatcher"
	"github.com/ar-recorder/recorder/internal/display"
	"github.com/ar-recorder/recorder/internal/influx"
	"github.com/ar-recorder/recorder/internal/logging"
	"github.com/ar-recorder/recorder/internal/loop"
	"github.com/ar-recorder/recorder/internal/monitor"
	"github.com/ar-recorder/recorder/internal/projector"
	"github.com/ar-recorder/recorder/internal/queue"
	"github.com/ar-recorder/recorder/internal/recorder"
	"github.com/ar-recorder/recorder/internal/sampler"
	"github.com/ar-recorder/recorder/internal/stability"
	"github.com/ar-recorder/recorder/internal/storage"
	"github.com/ar-recorder/recorder/internal/tracking"
	"github.com/ar-recorder/recorder/internal/upload"
	"github.com/ar-recorder/recorder/pkg/core"
)

var (
	tracePath      string
	recordDuration time.Duration
	realtime       bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Replay a tracking trace, record one session and project the result",
	RunE:  runRecord,
}

func init() {
	recordCmd.Flags().StringVarP(&tracePath, "trace", "t", "", "tracking trace (JSON lines)")
	recordCmd.Flags().DurationVarP(&recordDuration, "duration", "d", 5*time.Second, "tracking time to record once stable")
	recordCmd.Flags().BoolVar(&realtime, "realtime", false, "pace frames by their timestamps")
	recordCmd.MarkFlagRequired("trace")
}

func runRecord(cmd *cobra.Command, args []string) error {
	a, err := newApp("record")
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	replay, err := tracking.LoadReplay(tracePath)
	if err != nil {
		return err
	}
	logger.Info("Trace loaded", "path", tracePath, "frames", replay.Len())

	recorderID := config.GetString("recorderId")
	capture := config.GetCaptureConfig()

	disp, err := dispatcher.New(logging.NewDispatcherLogger(logger))
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}
	defer disp.Close()

	displayCfg := config.GetDisplayConfig()
	sink, err := display.New(display.Config{
		Mode:       displayCfg.Mode,
		URL:        displayCfg.URL,
		Secret:     displayCfg.Secret,
		RecorderID: recorderID,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating display: %w", err)
	}
	defer sink.Close()

	storageCfg := config.GetStorageConfig()
	if storageCfg.SQLite.DumpPath == "" {
		storageCfg.SQLite.DumpPath = a.dumpPath()
	}
	catalog, err := storage.NewBackend(storageCfg, storage.Dependencies{Logger: logger, DBLogger: a.DBLogger})
	if err != nil {
		return fmt.Errorf("creating catalog: %w", err)
	}
	if err := catalog.Init(); err != nil {
		return fmt.Errorf("initializing catalog: %w", err)
	}
	defer func() {
		if err := catalog.Close(); err != nil {
			logger.Error("Closing catalog failed", "error", err)
		}
		if exp, ok := catalog.(storage.Exporter); ok && exp.ExportedFilePath() != "" {
			logger.Info("Catalog exported", "path", exp.ExportedFilePath())
		}
	}()

	var telemetry recorder.Telemetry
	if influxCfg := config.GetInfluxConfig(); influxCfg.Enabled {
		backup := ""
		if influxCfg.BackupDir != "" {
			backup = filepath.Join(influxCfg.BackupDir, fmt.Sprintf("influx_%s.lp.gz", a.start.Format("20060102_150405")))
		}
		m := influx.NewManager(influxCfg, a.DBLogger, backup)
		if err := m.Connect(ctx); err != nil {
			logger.Warn("Telemetry disabled", "error", err)
		} else {
			telemetry = m
			defer m.Close()
		}
	}

	uploadCfg := config.GetUploadConfig()
	client := api.New(api.Config{
		BaseURL:         uploadCfg.ServerURL,
		ConnectTimeout:  uploadCfg.ConnectTimeout,
		ResponseTimeout: uploadCfg.ResponseTimeout,
	})
	pipe := upload.New(upload.Config{TempDir: uploadCfg.TempDir, RemoveSessionDir: uploadCfg.RemoveSessionDir}, client, logger)

	mailbox := queue.New[func()]()
	stab := stability.New(config.GetStabilityConfig().Window)
	smp := sampler.New(sampler.Config{
		Interval:      capture.Interval,
		MaxImageWidth: capture.MaxImageWidth,
		JPEGQuality:   capture.JPEGQuality,
		Workers:       capture.Workers,
		QueueSize:     capture.QueueSize,
	}, disp, logger)
	proj := projector.New(sink, logger)

	rec := recorder.New(ctx, recorder.Config{
		OutputDir:      capture.OutputDir,
		AnchorDistance: capture.AnchorDistance,
		RecorderID:     recorderID,
	}, recorder.Dependencies{
		Tracking:  replay,
		Stability: stab,
		Sampler:   smp,
		Uploader:  pipe,
		Projector: proj,
		Display:   sink,
		Catalog:   catalog,
		Telemetry: telemetry,
		Mailbox:   mailbox,
		Logger:    logger,
		OnStateChange: func(sessionID string, s recorder.State) {
			a.logs.SetSession(sessionID, s.String())
		},
	})

	l := loop.New(loop.Dependencies{
		Stability: stab,
		Recorder:  rec,
		Projector: proj,
		Sampler:   smp,
		Mailbox:   mailbox,
		Queues:    disp,
	})
	auto := &loop.AutoRecord{Recorder: rec, Duration: recordDuration}

	mon := monitor.NewService(monitor.Dependencies{
		Snapshot: l.Status,
		LogsDir:  a.logsDir,
		Interval: config.GetDuration("monitor.interval"),
		Logger:   logger,
	})

	var src loop.Source = replay
	if realtime {
		src = &paced{src: replay}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		if err := l.Run(gctx, src, auto.Observe); err != nil {
			return err
		}
		return l.Settle(gctx)
	})
	g.Go(func() error {
		mon.Start()
		<-gctx.Done()
		mon.Stop()
		return nil
	})
	err = g.Wait()

	rec.Wait()
	pipe.Wait()
	out := outcome(rec, proj, l)
	rec.Shutdown()
	if werr := mon.WriteOnce(); werr != nil {
		logger.Warn("Writing final status failed", "error", werr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return printOutcome(out)
}

// paced sleeps between frames so replay runs at the trace's own rate.
type paced struct {
	src    loop.Source
	lastNs int64
}

func (p *paced) Next() (tracking.Frame, bool) {
	f, ok := p.src.Next()
	if !ok {
		return f, ok
	}
	ts := f.Timestamp()
	if p.lastNs != 0 && ts > p.lastNs {
		time.Sleep(time.Duration(ts - p.lastNs))
	}
	p.lastNs = ts
	return f, ok
}

type recordOutcome struct {
	State      string              `json:"state"`
	Succeeded  bool                `json:"succeeded"`
	Error      string              `json:"error,omitempty"`
	Summary    core.SessionSummary `json:"summary,omitzero"`
	Projection *core.Projection    `json:"projection,omitempty"`
	Status     monitor.Status      `json:"status"`
}

func outcome(rec *recorder.Recorder, proj *projector.Projector, l *loop.Loop) recordOutcome {
	out := recordOutcome{
		State:     rec.State().String(),
		Succeeded: rec.Succeeded(),
		Summary:   rec.Summary(),
		Status:    l.Status(),
	}
	if err := rec.LastError(); err != nil {
		out.Error = err.Error()
	}
	if p, ok := proj.Current(); ok {
		out.Projection = &p
	}
	return out
}

func printOutcome(out recordOutcome) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if !out.Succeeded {
		return errors.New("session did not complete successfully")
	}
	return nil
}
