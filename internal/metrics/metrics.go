// Package metrics provides the Prometheus counters for the capture pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics contains all Prometheus metrics for camera, photo, audio and upload work.
type Metrics struct {
	CameraOpens     *prometheus.CounterVec
	PhotosSaved     prometheus.Counter
	PhotosFailed    *prometheus.CounterVec
	AudioChunks     prometheus.Counter
	AudioReadErrors *prometheus.CounterVec
	Uploads         *prometheus.CounterVec
	Mode            *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates the metrics and registers them on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		CameraOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tilelens_camera_opens_total",
			Help: "Camera open attempts partitioned by result.",
		}, []string{"result"}),
		PhotosSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tilelens_photos_saved_total",
			Help: "Photos decoded, transformed and written to disk.",
		}),
		PhotosFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tilelens_photos_failed_total",
			Help: "Frames that could not be turned into a photo, by pipeline stage.",
		}, []string{"stage"}),
		AudioChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tilelens_audio_chunks_total",
			Help: "WAV chunks flushed by the audio chunker.",
		}),
		AudioReadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tilelens_audio_read_errors_total",
			Help: "Audio input read failures by class (transient, fatal).",
		}, []string{"class"}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tilelens_uploads_total",
			Help: "Calls to the inference service by kind and result.",
		}, []string{"kind", "result"}),
		Mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tilelens_capture_mode",
			Help: "1 for the current capture mode, 0 otherwise.",
		}, []string{"mode"}),
		registry: registry,
	}

	collectors := []prometheus.Collector{
		m.CameraOpens, m.PhotosSaved, m.PhotosFailed, m.AudioChunks,
		m.AudioReadErrors, m.Uploads, m.Mode,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register capture metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) CameraOpened(result string) {
	if m == nil {
		return
	}
	m.CameraOpens.WithLabelValues(result).Inc()
}

func (m *Metrics) PhotoSaved() {
	if m == nil {
		return
	}
	m.PhotosSaved.Inc()
}

func (m *Metrics) PhotoFailed(stage string) {
	if m == nil {
		return
	}
	m.PhotosFailed.WithLabelValues(stage).Inc()
}

func (m *Metrics) ChunkFlushed() {
	if m == nil {
		return
	}
	m.AudioChunks.Inc()
}

func (m *Metrics) ReadError(fatal bool) {
	if m == nil {
		return
	}
	class := "transient"
	if fatal {
		class = "fatal"
	}
	m.AudioReadErrors.WithLabelValues(class).Inc()
}

func (m *Metrics) Upload(kind string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.Uploads.WithLabelValues(kind, result).Inc()
}

// SetMode marks current as the only active mode among all.
func (m *Metrics) SetMode(current string, all []string) {
	if m == nil {
		return
	}
	for _, mode := range all {
		v := 0.0
		if mode == current {
			v = 1
		}
		m.Mode.WithLabelValues(mode).Set(v)
	}
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) {
	if m == nil || addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics listener failed")
		}
	}()
}
