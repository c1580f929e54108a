package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/petems/tile-lens/internal/audio"
	"github.com/petems/tile-lens/internal/audio/miniaudio"
	"github.com/petems/tile-lens/internal/audio/portaudio"
	"github.com/petems/tile-lens/internal/camera"
	"github.com/petems/tile-lens/internal/camera/opencv"
	"github.com/petems/tile-lens/internal/config"
	"github.com/petems/tile-lens/internal/logging"
	"github.com/petems/tile-lens/internal/metrics"
	"github.com/petems/tile-lens/internal/permissions"
)

// env is what every subcommand builds on: the loaded config, the
// logger and the metrics registry.
type env struct {
	cfg     *config.Config
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func newRootCommand() *cobra.Command {
	return rootCommandFor(config.Viper())
}

func rootCommandFor(v *viper.Viper) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "tile-lens",
		Short:         "Tray assistant that captures tile photos and table talk",
		Long:          "tile-lens sits in the system tray, takes photos of your hand and streams microphone audio in chunks to an inference service.",
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(v, configPath)
			if err != nil {
				return err
			}
			return runTray(cmd.Context(), rt)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to config file (default: platform config dir)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("server", "", "Base URL of the inference service")
	flags.String("audio-backend", "", "Audio capture backend (portaudio, malgo)")
	flags.String("audio-device", "", "Microphone name or id")
	flags.Int("camera", 0, "Camera index to prefer")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")

	for key, flag := range map[string]string{
		"log_level":           "log-level",
		"server.base_url":     "server",
		"audio.backend":       "audio-backend",
		"audio.device_id":     "audio-device",
		"camera.device_index": "camera",
		"metrics_addr":        "metrics-addr",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("error binding flag %s: %v", flag, err))
		}
	}

	root.AddCommand(
		recordCommand(v, &configPath),
		snapCommand(v, &configPath),
		devicesCommand(v, &configPath),
		versionCommand(),
	)
	return root
}

func setup(v *viper.Viper, configPath string) (*env, error) {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Error().Err(err).Msg("Failed to load config")
		return nil, err
	}

	log := logging.NewWithLevel(cfg.LogLevel)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m, err := metrics.New(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return &env{cfg: cfg, log: log, metrics: m}, nil
}

func (rt *env) serveMetrics(ctx context.Context) {
	rt.metrics.Serve(ctx, rt.cfg.MetricsAddr, logging.Component(rt.log, "metrics"))
}

// newOpener initializes the configured audio capture backend.
func (rt *env) newOpener() (audio.Opener, error) {
	switch rt.cfg.Audio.Backend {
	case "malgo", "miniaudio":
		return miniaudio.New(logging.Component(rt.log, "miniaudio"))
	case "portaudio", "":
		return portaudio.New()
	default:
		return nil, fmt.Errorf("unknown audio backend %q", rt.cfg.Audio.Backend)
	}
}

func (rt *env) newBackend() (camera.Backend, error) {
	switch rt.cfg.Camera.Backend {
	case "opencv", "":
		return opencv.New(logging.Component(rt.log, "opencv"), rt.cfg.Camera.DeviceIndex), nil
	default:
		return nil, fmt.Errorf("unknown camera backend %q", rt.cfg.Camera.Backend)
	}
}

func (rt *env) newCamera(previews int, onFrame func(camera.Frame), onError func(error)) (*camera.Manager, error) {
	backend, err := rt.newBackend()
	if err != nil {
		return nil, err
	}
	return camera.New(camera.Config{
		Backend:        backend,
		Permissions:    permissions.System(),
		PreviewTargets: previews,
		SettleDelay:    rt.cfg.Camera.SettleDelay,
		FPSMin:         rt.cfg.Camera.FPSMin,
		FPSMax:         rt.cfg.Camera.FPSMax,
		OnFrame:        onFrame,
		OnError:        onError,
		Logger:         logging.Component(rt.log, "camera"),
		Metrics:        rt.metrics,
	}), nil
}
