package controlapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/salvadorguc/sisproone-gateway/internal/logger"
	"github.com/salvadorguc/sisproone-gateway/pkg/buffer"
	"github.com/salvadorguc/sisproone-gateway/pkg/engine"
	"github.com/salvadorguc/sisproone-gateway/pkg/events"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 0 // SSE streams hold the connection open indefinitely
	defaultIdleTimeout  = 60 * time.Second
)

// Server is the control plane's HTTP server. It owns no gateway state of
// its own; every handler it routes to reaches the Orchestrator only
// through engine.Dispatch.
type Server struct {
	server       *http.Server
	addr         string
	shutdownOnce sync.Once
}

// NewServer builds a Server listening on addr, with token required on every
// /v1 route (empty disables auth, useful for local development).
func NewServer(addr, token string, eng *engine.Engine, store *buffer.Store, bus *events.Bus) *Server {
	if addr == "" {
		addr = ":8090"
	}

	router := NewRouter(eng, store, bus, token)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	return &Server{server: httpServer, addr: addr}
}

// Start serves the control API until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("control API listening", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("control API shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("control API failed: %w", err)
	}
}

// Stop gracefully shuts down the server. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("control API shutdown error: %w", err)
			logger.Error("control API shutdown error", "error", err)
			return
		}
		logger.Info("control API stopped gracefully")
	})
	return shutdownErr
}
