// Package metrics defines the Prometheus collectors for the bot.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gchat",
			Name:      "messages_received_total",
			Help:      "Inbound messages by kind and admission result",
		},
		[]string{"kind", "admitted"},
	)

	BatchesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gchat",
			Name:      "batches_total",
			Help:      "Drained batches by result",
		},
		[]string{"result"},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gchat",
			Name:      "batch_fragments",
			Help:      "Fragments joined per batch",
			Buckets:   []float64{1, 2, 3, 4, 8},
		},
	)

	KeyRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gchat",
			Name:      "key_rotations_total",
			Help:      "Credential rotations by reason",
		},
		[]string{"reason"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gchat",
			Name:      "generation_duration_seconds",
			Help:      "Backend call latency by outcome",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	LengthRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gchat",
			Name:      "length_retries_total",
			Help:      "Replies discarded as blank or over the length limit",
		},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gchat",
			Name:      "deliveries_total",
			Help:      "Delivered replies by mode",
		},
		[]string{"mode"},
	)

	ActiveDrains = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gchat",
			Name:      "active_drain_tasks",
			Help:      "Users with a running drain task",
		},
	)

	OpenWindows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gchat",
			Name:      "open_attachment_windows",
			Help:      "Users with an open attachment aggregation window",
		},
	)
)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
