package engine

import (
	"context"
	"sync"
	"time"

	"github.com/salvadorguc/sisproone-gateway/internal/logger"
)

// sweepInterval is how often the Housekeeper asks the Orchestrator to run
// the device heartbeat-timeout sweep, independent of the 60s timeout
// itself.
const sweepInterval = 15 * time.Second

// Housekeeper runs the periodic Vacuum and heartbeat-sweep task. The
// device map is owned exclusively by the Orchestrator, so the sweep
// itself is requested through the command channel rather than
// mutated directly here; Vacuum touches only the buffer's own mutex and so
// is safe to call straight from this goroutine.
type Housekeeper struct {
	engine        *Engine
	retentionDays int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHousekeeper builds a Housekeeper bound to engine, vacuuming rows older
// than retentionDays.
func NewHousekeeper(e *Engine, retentionDays int) *Housekeeper {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Housekeeper{engine: e, retentionDays: retentionDays}
}

// Start begins the background loop.
func (h *Housekeeper) Start(ctx context.Context) {
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go h.run()
}

// Stop cancels the loop and waits for it to exit.
func (h *Housekeeper) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

func (h *Housekeeper) run() {
	defer h.wg.Done()

	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()
	vacuumTicker := time.NewTicker(1 * time.Hour)
	defer vacuumTicker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-sweepTicker.C:
			h.engine.Dispatch(h.ctx, Command{Kind: cmdSweep})
		case <-vacuumTicker.C:
			h.vacuum()
		}
	}
}

func (h *Housekeeper) vacuum() {
	n, err := h.engine.store.Vacuum(h.ctx, time.Duration(h.retentionDays)*24*time.Hour)
	if err != nil {
		logger.Warn("housekeeper vacuum failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("housekeeper vacuumed synced increments", "rows", n)
	}
}
