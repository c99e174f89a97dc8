package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentinair/sentinair/pkg/alerts"
	"github.com/sentinair/sentinair/pkg/config"
	"github.com/sentinair/sentinair/pkg/detector"
	"github.com/sentinair/sentinair/pkg/engine"
	"github.com/sentinair/sentinair/pkg/logger"
	"github.com/sentinair/sentinair/pkg/monitors/base"
	"github.com/sentinair/sentinair/pkg/monitors/behavior"
	"github.com/sentinair/sentinair/pkg/monitors/fileaccess"
	"github.com/sentinair/sentinair/pkg/monitors/process"
	"github.com/sentinair/sentinair/pkg/monitors/usb"
	"github.com/sentinair/sentinair/pkg/storage"
)

func main() {
	// Load configuration first
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger based on config
	logger.InitLogger(cfg.LogLevel)

	log.Info().Msg("Sentinair agent starting...")
	log.Info().Msgf("Configuration loaded: LogLevel=%s, DataDir=%s", cfg.LogLevel, cfg.DataDir)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create data directory")
	}

	store, err := storage.Open(filepath.Join(cfg.DataDir, cfg.Storage.Path), log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open event store")
	}
	defer store.Close()

	audit, err := logger.NewAuditLogger(filepath.Join(cfg.DataDir, cfg.Alerts.AuditLogPath))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audit log")
	}
	defer audit.Close()

	scorer := detector.NewAnomalyDetector(detector.IsolationForestParams{
		NumTrees:      cfg.Detection.NumTrees,
		SubsampleSize: detector.DefaultIsolationForestParams().SubsampleSize,
		Contamination: cfg.Detection.ContaminationRate,
		Seed:          cfg.Detection.RandomSeed,
	}, filepath.Join(cfg.DataDir, cfg.Detection.ModelDir), log.Logger)

	alertMgr := alerts.NewManager(cfg.Alerts, audit, log.Logger)
	alertMgr.AddNotificationCallback(func(a alerts.Alert) {
		log.Warn().
			Int64("alert_id", a.ID).
			Str("severity", string(a.Severity)).
			Float64("confidence", a.Confidence).
			Msg(a.Description)
	})

	monitors := make(map[string]base.Monitor)
	if cfg.Monitors.FileAccess.Enabled {
		monitors["file_access"] = fileaccess.New(cfg.Monitors.FileAccess, log.Logger)
	}
	if cfg.Monitors.USB.Enabled {
		monitors["usb"] = usb.New(cfg.Monitors.USB, log.Logger)
	}
	if cfg.Monitors.Process.Enabled {
		monitors["process"] = process.New(cfg.Monitors.Process, log.Logger)
	}
	if cfg.Monitors.Behavior.Enabled {
		monitors["behavior"] = behavior.New(cfg.Monitors.Behavior, nil, log.Logger)
	}

	eng := engine.New(cfg, monitors, scorer, alertMgr, store, audit, log.Logger)
	if err := eng.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start detection engine")
	}

	// Set up a channel to listen for OS signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Msgf("Received signal: %s. Shutting down gracefully...", sig)

	eng.Stop()

	log.Info().Msg("Sentinair agent stopped.")
	time.Sleep(100 * time.Millisecond) // Give some time for log flush
}
