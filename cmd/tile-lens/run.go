package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petems/tile-lens/internal/app"
	"github.com/petems/tile-lens/internal/camera"
	"github.com/petems/tile-lens/internal/hotkey"
	"github.com/petems/tile-lens/internal/inject"
	"github.com/petems/tile-lens/internal/logging"
	"github.com/petems/tile-lens/internal/permissions"
	"github.com/petems/tile-lens/internal/photo"
	"github.com/petems/tile-lens/internal/recorder"
	"github.com/petems/tile-lens/internal/tray"
	"github.com/petems/tile-lens/internal/upload"
)

const shutdownTimeout = 10 * time.Second

// runTray wires the capture state machine to real hardware and runs the tray
// until it quits or the process is signalled.
func runTray(parent context.Context, rt *env) error {
	log := rt.log
	cfg := rt.cfg

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt.serveMetrics(ctx)

	opener, err := rt.newOpener()
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize audio")
		return err
	}
	defer opener.Close()

	service, err := upload.New(cfg.Server.BaseURL, cfg.Server.Timeout, logging.Component(log, "upload"))
	if err != nil {
		log.Error().Err(err).Msg("Invalid inference service address")
		return err
	}

	// The camera and recorder call back into the app, which is built after them.
	var application *app.App

	cam, err := rt.newCamera(cfg.Camera.PreviewTargets,
		func(f camera.Frame) { application.HandleFrame(f) },
		func(err error) { application.HandleCameraError(err) },
	)
	if err != nil {
		return err
	}
	defer cam.Shutdown()

	photos := photo.New(photo.Config{
		Dir:     cfg.Storage.PicturesDir,
		Logger:  logging.Component(log, "photo"),
		Metrics: rt.metrics,
	})

	rec := recorder.New(recorder.Config{
		Opener:       opener,
		Permissions:  permissions.System(),
		DeviceID:     cfg.Audio.DeviceID,
		ChunkSeconds: cfg.Audio.ChunkSeconds,
		Dir:          cfg.Storage.AudioDir,
		OnChunk:      func(a recorder.Artifact) { application.HandleChunk(a) },
		OnFailed:     func(err error) { application.HandleRecorderFailure(err) },
		Logger:       logging.Component(log, "recorder"),
		Metrics:      rt.metrics,
	})

	// Create tray UI first (we'll pass it to app)
	trayUI := tray.New(nil, cfg, log, Version, Commit)

	appCfg := app.Config{
		Camera:        cam,
		Recorder:      rec,
		Photos:        photos,
		Service:       service,
		Inputs:        opener,
		Config:        cfg,
		Logger:        logging.Component(log, "app"),
		Metrics:       rt.metrics,
		StatusUpdater: trayUI,
	}
	if sharer := inject.New(logging.Component(log, "clipboard")); sharer != nil {
		appCfg.Sharer = sharer
	}
	application = app.New(appCfg)
	trayUI.SetApp(application)

	// Global hotkeys are a convenience; the tray menu drives everything without them.
	if hk, err := hotkey.New(); err != nil {
		log.Warn().Err(err).Msg("Global hotkeys unavailable")
	} else {
		defer hk.Close()
		if err := hk.Register(cfg.PlatformRecordHotkey(), application.OnHotkey); err != nil {
			log.Warn().Err(err).Str("accelerator", cfg.PlatformRecordHotkey()).Msg("Failed to register record hotkey")
		}
		shutter := func(pressed bool) {
			if pressed {
				application.OnShutterKey()
			}
		}
		if err := hk.Register(cfg.PlatformShutterHotkey(), shutter); err != nil {
			log.Warn().Err(err).Str("accelerator", cfg.PlatformShutterHotkey()).Msg("Failed to register shutter hotkey")
		}
	}

	log.Info().Str("version", Version).Msg("tile-lens starting...")

	// Start tray UI - MUST run on main thread
	runErr := trayUI.Run(ctx)

	log.Info().Msg("Shutting down...")
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
	return runErr
}
