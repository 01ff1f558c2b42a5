package controlapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/salvadorguc/sisproone-gateway/internal/logger"
	"github.com/salvadorguc/sisproone-gateway/pkg/buffer"
	"github.com/salvadorguc/sisproone-gateway/pkg/engine"
	"github.com/salvadorguc/sisproone-gateway/pkg/events"
)

// NewRouter builds the control plane's chi router.
//
// Routes:
//   - GET  /health        - liveness probe
//   - GET  /health/ready  - readiness probe (ERROR phase fails it)
//   - GET  /v1/status     - Session + device + buffer snapshot
//   - POST /v1/stations/select
//   - POST /v1/orders/select
//   - POST /v1/orders/validate-upc
//   - POST /v1/orders/close
//   - POST /v1/orders/change
//   - POST /v1/orders/priority
//   - POST /v1/stale-counter/decision
//   - POST /v1/sync/now
//   - POST /v1/error/reset
//   - GET  /v1/events     - Server-Sent Events stream
//
// Every /v1 route, /v1/events included, requires the configured bearer
// token; /health and /health/ready stay open for infrastructure probes.
func NewRouter(eng *engine.Engine, store *buffer.Store, bus *events.Bus, token string) http.Handler {
	h := &handlers{engine: eng, store: store, bus: bus, startedAt: time.Now().UTC()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.liveness)
		r.Get("/ready", h.readiness)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(bearerAuth(token))

		r.Get("/status", h.status)
		r.Post("/stations/select", h.selectStation)
		r.Post("/orders/select", h.selectOrder)
		r.Post("/orders/validate-upc", h.validateUPC)
		r.Post("/orders/close", h.closeOrder)
		r.Post("/orders/change", h.changeOrder)
		r.Post("/orders/priority", h.changePriority)
		r.Post("/stale-counter/decision", h.staleCounterDecision)
		r.Post("/sync/now", h.syncNow)
		r.Post("/error/reset", h.resetError)
		r.Get("/events", h.streamEvents)
	})

	return r
}

func (h *handlers) liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startedAt)
	JSON(w, http.StatusOK, HealthyResponse(map[string]any{
		"service":    "sisproone-gateway",
		"started_at": h.startedAt.Format(time.RFC3339),
		"uptime":     uptime.Round(time.Second).String(),
		"uptime_sec": int64(uptime.Seconds()),
	}))
}

func (h *handlers) readiness(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot(r.Context())
	if snap.Phase == engine.PhaseError {
		JSON(w, http.StatusServiceUnavailable, UnhealthyResponse("engine is in ERROR phase: "+snap.ErrorReason))
		return
	}
	if _, err := h.store.PendingCount(r.Context()); err != nil {
		JSON(w, http.StatusServiceUnavailable, UnhealthyResponse("buffer store unreachable: "+err.Error()))
		return
	}
	JSON(w, http.StatusOK, HealthyResponse(map[string]string{"phase": string(snap.Phase)}))
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("control API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("control API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		)
	})
}
