package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/petems/tile-lens/internal/camera"
	"github.com/petems/tile-lens/internal/capture"
	"github.com/petems/tile-lens/internal/logging"
	"github.com/petems/tile-lens/internal/photo"
	"github.com/petems/tile-lens/internal/upload"
)

const readyPoll = 50 * time.Millisecond

func snapCommand(v *viper.Viper, configPath *string) *cobra.Command {
	var (
		timeout time.Duration
		detect  bool
	)

	cmd := &cobra.Command{
		Use:   "snap",
		Short: "Take one photo without the tray",
		Long:  "Snap opens the camera headless, captures a single still, writes the cropped photo and prints its path.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(v, *configPath)
			if err != nil {
				return err
			}
			return runSnap(cmd.Context(), rt, timeout, detect)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Give up if no photo is written in this time")
	cmd.Flags().BoolVar(&detect, "detect", false, "Run tile detection on the photo")
	return cmd
}

type snapResult struct {
	artifact photo.Artifact
	err      error
}

func runSnap(parent context.Context, rt *env, timeout time.Duration, detect bool) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, stop := context.WithTimeout(ctx, timeout)
	defer stop()

	photos := photo.New(photo.Config{
		Dir:     rt.cfg.Storage.PicturesDir,
		Logger:  logging.Component(rt.log, "photo"),
		Metrics: rt.metrics,
	})

	results := make(chan snapResult, 1)
	deliver := func(r snapResult) {
		select {
		case results <- r:
		default:
		}
	}

	cam, err := rt.newCamera(0,
		func(f camera.Frame) {
			go func() {
				a, err := photos.Process(f)
				deliver(snapResult{artifact: a, err: err})
			}()
		},
		func(err error) { deliver(snapResult{err: err}) },
	)
	if err != nil {
		return err
	}
	defer cam.Shutdown()

	if err := cam.Open(rt.cfg.Camera.TargetWidth, rt.cfg.Camera.TargetHeight); err != nil {
		return fmt.Errorf("failed to open camera: %w", err)
	}
	if err := waitReady(ctx, cam); err != nil {
		return err
	}
	if err := cam.Capture(); err != nil {
		return fmt.Errorf("failed to capture: %w", err)
	}

	var res snapResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return fmt.Errorf("no photo received: %w", ctx.Err())
	}
	cam.Close()
	if res.err != nil {
		return res.err
	}
	fmt.Printf("%s (%dx%d)\n", res.artifact.Path, res.artifact.Width, res.artifact.Height)

	if !detect {
		return nil
	}
	client, err := upload.New(rt.cfg.Server.BaseURL, rt.cfg.Server.Timeout, logging.Component(rt.log, "upload"))
	if err != nil {
		return err
	}
	dets, err := client.DetectTiles(parent, res.artifact.Path)
	rt.metrics.Upload("detect", err)
	if err != nil {
		return fmt.Errorf("tile detection failed: %w", err)
	}
	for _, d := range dets.Detections {
		fmt.Printf("%-6s %.2f  [%.0f,%.0f %.0f,%.0f]\n", d.ClassName, d.Confidence, d.X1, d.Y1, d.X2, d.Y2)
	}
	fmt.Printf("%d tiles in %.0f ms\n", len(dets.Detections), dets.InferenceTimeMs)
	return nil
}

// waitReady polls until the camera session is configured. A camera that
// drops back to closed while waiting failed asynchronously.
func waitReady(ctx context.Context, cam *camera.Manager) error {
	ticker := time.NewTicker(readyPoll)
	defer ticker.Stop()
	for {
		snap := cam.Snapshot()
		if snap.Ready {
			return nil
		}
		if !snap.Open && snap.Resolution.IsZero() {
			return errors.New("camera closed before the session was ready")
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("camera not ready: %v: %w", ctx.Err(), capture.ErrNotReady)
		case <-ticker.C:
		}
	}
}
