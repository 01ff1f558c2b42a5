// Package metrics exposes the gateway's Prometheus instrumentation: counters
// and histograms for frame traffic, the durable buffer, and the replication
// pipeline, served over HTTP for scraping.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	FramesReceived = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_frames_received_total",
		Help: "RS-485 frames read from the transport, by device and tag.",
	}, []string{"device_id", "tag"})

	FramesMalformed = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_frames_malformed_total",
		Help: "Lines read from the transport that did not match the frame grammar.",
	}, []string{"reason"})

	CommandsSent = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_commands_sent_total",
		Help: "Outbound command frames written to a device.",
	}, []string{"device_id", "tag"})

	IncrementsAppended = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_increments_appended_total",
		Help: "Increments appended to the durable buffer, by source.",
	}, []string{"source"})

	IncrementsRejected = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_increments_rejected_total",
		Help: "Increments refused before reaching the buffer, by reason.",
	}, []string{"reason"})

	BufferPending = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Name: "gateway_buffer_pending",
		Help: "Increments currently unsynced in the durable buffer.",
	})

	ReplicationPasses = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_replication_passes_total",
		Help: "Replication passes against the MES, by outcome.",
	}, []string{"outcome"})

	ReplicationBatchSize = promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_replication_batch_size",
		Help:    "Number of increments uploaded per replication batch.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 200},
	})

	ReplicationPassDuration = promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_replication_pass_duration_seconds",
		Help:    "Wall time of a single replication pass, upload plus progress recompute.",
		Buckets: prometheus.DefBuckets,
	})

	MESRequestDuration = promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_mes_request_duration_seconds",
		Help:    "Latency of HTTP requests to the MES, by endpoint and outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "outcome"})

	DeviceConnected = promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_device_connected",
		Help: "1 if the device has sent a heartbeat or frame within the timeout window, else 0.",
	}, []string{"device_id"})

	DeviceResets = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_device_counter_resets_total",
		Help: "Counter resets observed on a device, planned or unplanned.",
	}, []string{"device_id", "reason"})

	EnginePhase = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Name: "gateway_engine_phase",
		Help: "Current Orchestrator phase, as an enumerated code (see engine.Phase).",
	})
)

// Server serves /metrics for Prometheus to scrape. It is a plain
// *http.Server wrapper so it shares the same Start/Stop shape as the
// control API server.
type Server struct {
	server *http.Server
}

// NewServer builds a metrics server bound to addr (":9090" if empty).
func NewServer(addr string) *Server {
	if addr == "" {
		addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Server{server: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the metrics server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return fmt.Errorf("metrics: server failed: %w", err)
	}
}

// Stop shuts the metrics server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// phaseCode maps an engine.Phase name to the integer EnginePhase reports,
// kept here (rather than in pkg/engine) so engine has no metrics import.
func phaseCode(phase string) float64 {
	switch phase {
	case "IDLE":
		return 0
	case "AWAITING_UPC":
		return 1
	case "PRODUCING":
		return 2
	case "DRAINING":
		return 3
	case "ERROR":
		return 4
	default:
		return -1
	}
}

// ObservePhase records the Orchestrator's current phase.
func ObservePhase(phase string) {
	EnginePhase.Set(phaseCode(phase))
}

// Elapsed is a small helper for histogram observations timed with
// time.Since, matching the call shape used across the replicator and MES
// client instrumentation points.
func Elapsed(start time.Time) float64 {
	return time.Since(start).Seconds()
}
