package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/petems/tile-lens/internal/logging"
	"github.com/petems/tile-lens/internal/permissions"
	"github.com/petems/tile-lens/internal/recorder"
	"github.com/petems/tile-lens/internal/upload"
)

func recordCommand(v *viper.Viper, configPath *string) *cobra.Command {
	var (
		duration time.Duration
		send     bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record microphone audio into WAV chunks without the tray",
		Long:  "Record captures the microphone until the duration elapses or the process is interrupted, writing one WAV file per chunk.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(v, *configPath)
			if err != nil {
				return err
			}
			return runRecord(cmd.Context(), rt, duration, send)
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop after this long (0 records until interrupted)")
	cmd.Flags().BoolVar(&send, "upload", false, "Send each chunk to the inference service")
	cmd.Flags().Int("chunk-seconds", 0, "Seconds of audio per chunk")
	if err := v.BindPFlag("audio.chunk_seconds", cmd.Flags().Lookup("chunk-seconds")); err != nil {
		panic(err)
	}
	return cmd
}

func runRecord(parent context.Context, rt *env, duration time.Duration, send bool) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, duration)
		defer stop()
	}

	rt.serveMetrics(ctx)

	opener, err := rt.newOpener()
	if err != nil {
		return err
	}
	defer opener.Close()

	var (
		client    *upload.Client
		sessionID string
		wg        sync.WaitGroup
	)
	if send {
		client, err = upload.New(rt.cfg.Server.BaseURL, rt.cfg.Server.Timeout, logging.Component(rt.log, "upload"))
		if err != nil {
			return err
		}
		sessionID = uuid.NewString()
		if err := client.StartSession(ctx, sessionID); err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
		defer func() {
			endCtx, done := context.WithTimeout(context.Background(), rt.cfg.Server.Timeout)
			defer done()
			if err := client.EndSession(endCtx, sessionID); err != nil {
				rt.log.Warn().Err(err).Msg("Failed to end session")
			}
		}()
	}

	onChunk := func(a recorder.Artifact) {
		fmt.Println(a.Path)
		if client == nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			uploadCtx, done := context.WithTimeout(context.Background(), rt.cfg.Server.Timeout)
			defer done()
			res, err := client.ProcessAudio(uploadCtx, a.Path, sessionID)
			rt.metrics.Upload("audio", err)
			if err != nil {
				rt.log.Error().Err(err).Str("path", a.Path).Msg("Chunk upload failed")
				return
			}
			if res.Transcript != "" {
				fmt.Printf("  %s\n", res.Transcript)
			}
		}()
	}

	rec := recorder.New(recorder.Config{
		Opener:       opener,
		Permissions:  permissions.System(),
		DeviceID:     rt.cfg.Audio.DeviceID,
		ChunkSeconds: rt.cfg.Audio.ChunkSeconds,
		Dir:          rt.cfg.Storage.AudioDir,
		OnChunk:      onChunk,
		OnFailed:     func(error) { cancel() },
		Logger:       logging.Component(rt.log, "recorder"),
		Metrics:      rt.metrics,
	})

	if err := rec.Start(); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}
	rt.log.Info().Dur("duration", duration).Str("dir", rt.cfg.Storage.AudioDir).Msg("Recording, interrupt to stop")

	<-ctx.Done()
	stopErr := rec.Stop()
	wg.Wait()
	return stopErr
}
