// Package metrics exposes batch progress counters for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	VideosProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dfprep_videos_processed_total",
		Help: "Videos handled by the extractor, by outcome",
	}, []string{"label", "outcome"})

	FramesSavedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dfprep_frames_saved_total",
		Help: "Face crops written by the extractor",
	}, []string{"label"})

	SkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dfprep_skips_total",
		Help: "Units that produced no output, by stage and reason",
	}, []string{"stage", "reason"})

	ImagesDegradedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dfprep_images_degraded_total",
		Help: "Quality variants written, by scenario",
	}, []string{"scenario"})

	FilesCopiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dfprep_split_files_copied_total",
		Help: "Files copied into the split tree",
	})

	ImagesScoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dfprep_images_scored_total",
		Help: "Images scored by a classifier, by model and scenario",
	}, []string{"model", "scenario"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dfprep_stage_duration_seconds",
		Help:    "Wall time of one pipeline stage",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 3600, 14400},
	}, []string{"stage"})
)

// NewRouter mounts /metrics and /healthz.
func NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return r
}

// Serve runs the metrics server until ctx is cancelled.
func Serve(ctx context.Context, addr string, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
