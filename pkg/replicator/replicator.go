// Package replicator drives the buffer-to-MES upload pipeline: a
// long-lived task that periodically, or on demand, uploads pending
// increments in ordered batches and recomputes order progress.
package replicator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/salvadorguc/sisproone-gateway/internal/telemetry"
	"github.com/salvadorguc/sisproone-gateway/pkg/buffer"
	"github.com/salvadorguc/sisproone-gateway/pkg/clock"
	"github.com/salvadorguc/sisproone-gateway/pkg/events"
	"github.com/salvadorguc/sisproone-gateway/pkg/mesclient"
	"github.com/salvadorguc/sisproone-gateway/pkg/metrics"
)

const (
	defaultBatchMax            = 100
	defaultMaxPassesPerTrigger = 10
	defaultInterval            = 300 * time.Second

	minBackoff = 2 * time.Second
	maxBackoff = 5 * time.Minute
)

// ErrAuthFailed is surfaced when a single token refresh does not clear an
// AuthExpired outcome.
var ErrAuthFailed = errors.New("replicator: re-authentication failed")

// Config configures a Replicator.
type Config struct {
	BatchMax            int
	MaxPassesPerTrigger int
	Interval            time.Duration
}

// CurrentOrder is read by the Replicator before each pass's progress
// recompute call; the Orchestrator updates it as the session's selected
// order/station changes.
type CurrentOrder struct {
	OrderCode string
	StationID int
}

// Replicator owns the buffer-to-MES pipeline. One goroutine; start/stop
// follow a context+cancel+WaitGroup shape.
type Replicator struct {
	store  *buffer.Store
	client *mesclient.Client
	bus    *events.Bus
	clock  clock.Clock
	cfg    Config

	currentMu sync.RWMutex
	current   CurrentOrder

	signal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	backoffMu sync.Mutex
	backoff   time.Duration
}

// New constructs a Replicator. It does not start the background loop; call
// Start for that.
func New(store *buffer.Store, client *mesclient.Client, bus *events.Bus, c clock.Clock, cfg Config) *Replicator {
	if cfg.BatchMax <= 0 {
		cfg.BatchMax = defaultBatchMax
	}
	if cfg.MaxPassesPerTrigger <= 0 {
		cfg.MaxPassesPerTrigger = defaultMaxPassesPerTrigger
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if c == nil {
		c = clock.New()
	}
	return &Replicator{
		store:  store,
		client: client,
		bus:    bus,
		clock:  c,
		cfg:    cfg,
		signal: make(chan struct{}, 1),
	}
}

// SetCurrentOrder updates the order/station the next progress recompute
// targets. Called by the Orchestrator on every order selection change.
func (r *Replicator) SetCurrentOrder(order CurrentOrder) {
	r.currentMu.Lock()
	defer r.currentMu.Unlock()
	r.current = order
}

func (r *Replicator) getCurrentOrder() CurrentOrder {
	r.currentMu.RLock()
	defer r.currentMu.RUnlock()
	return r.current
}

// Start begins the background loop: a periodic timer plus an on-demand
// signal channel are the two triggers that kick off a pass.
func (r *Replicator) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run()
}

// Stop cancels the loop and waits for it to exit.
func (r *Replicator) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// TriggerNow requests an out-of-cycle pass (meta completion, order
// finalisation, or an operator "sync now"). Non-blocking: a pending signal
// is not duplicated.
func (r *Replicator) TriggerNow() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func (r *Replicator) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.runPasses()
		case <-r.signal:
			r.runPasses()
		}
	}
}

// runPasses executes up to MaxPassesPerTrigger upload passes, honoring any
// backoff from a Transient failure by sleeping (or returning early if the
// context is cancelled mid-sleep).
func (r *Replicator) runPasses() {
	r.bus.Publish(events.Event{Kind: events.SyncStarted})

	passes := 0
	for passes < r.cfg.MaxPassesPerTrigger {
		passes++
		outcome, err := r.onePass(r.ctx)
		if err != nil {
			r.bus.Publish(events.Event{Kind: events.EngineFailed, Payload: map[string]any{"error": err.Error(), "source": "replicator"}})
			return
		}

		switch outcome {
		case passIdle:
			r.resetBackoff()
			r.bus.Publish(events.Event{Kind: events.SyncCompleted, Payload: map[string]any{"passes": passes}})
			return
		case passRetry:
			if !r.sleepBackoff() {
				return
			}
			continue
		case passContinue:
			r.resetBackoff()
			continue
		}
	}

	r.bus.Publish(events.Event{Kind: events.SyncCompleted, Payload: map[string]any{"passes": passes, "capped": true}})
}

type passOutcome int

const (
	passIdle passOutcome = iota
	passContinue
	passRetry
)

// onePassOutcomeLabel maps a pass's result to the ReplicationPasses label.
func onePassOutcomeLabel(outcome passOutcome, err error) string {
	if err != nil {
		return "error"
	}
	switch outcome {
	case passIdle:
		return "idle"
	case passContinue:
		return "continue"
	case passRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// onePass runs step 1-6 of the upload algorithm once. Fingerprints are
// always computed by the Orchestrator at Append time (it has orderCode,
// UPC, occurredAt and stationID on hand when it persists the increment), so
// the backfill path for a buffer that stored
// nulls never triggers here; PendingBatch rows always arrive fingerprinted.
func (r *Replicator) onePass(ctx context.Context) (passOutcome, error) {
	started := r.clock.Now()
	outcome, err := r.doOnePass(ctx)
	metrics.ReplicationPassDuration.Observe(metrics.Elapsed(started))
	metrics.ReplicationPasses.WithLabelValues(onePassOutcomeLabel(outcome, err)).Inc()
	return outcome, err
}

func (r *Replicator) doOnePass(ctx context.Context) (passOutcome, error) {
	batch, err := r.store.PendingBatch(ctx, r.cfg.BatchMax)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return passIdle, nil
	}
	metrics.ReplicationBatchSize.Observe(float64(len(batch)))

	ctx, span := telemetry.StartReplicationSpan(ctx, len(batch))
	defer span.End()

	wire := make([]mesclient.Increment, len(batch))
	for i, inc := range batch {
		wire[i] = mesclient.Increment{
			OrderCode:   inc.OrderCode,
			UPC:         inc.UPC,
			StationID:   inc.StationID,
			UserID:      inc.UserID,
			Quantity:    inc.Quantity,
			Fingerprint: inc.Fingerprint,
			OccurredAt:  inc.OccurredAt,
		}
	}

	result, uploadErr := r.client.UploadIncrements(ctx, wire)
	if uploadErr != nil {
		switch {
		case mesclient.IsAuthExpired(uploadErr):
			if refreshErr := r.client.Refresh(ctx); refreshErr != nil {
				return 0, ErrAuthFailed
			}
			result, uploadErr = r.client.UploadIncrements(ctx, wire)
			if uploadErr != nil {
				if mesclient.IsAuthExpired(uploadErr) {
					return 0, ErrAuthFailed
				}
				return r.classifyUploadFailure(ctx, uploadErr, batch)
			}
		default:
			return r.classifyUploadFailure(ctx, uploadErr, batch)
		}
	}

	seqs := make([]int64, len(batch))
	for i, inc := range batch {
		seqs[i] = inc.Seq
	}
	if err := r.store.MarkSynced(ctx, seqs); err != nil {
		return 0, err
	}

	if err := r.recomputeProgress(ctx, result.Progress); err != nil {
		return 0, err
	}

	remaining, err := r.store.PendingCount(ctx)
	if err != nil {
		return 0, err
	}
	metrics.BufferPending.Set(float64(remaining))
	if remaining > 0 {
		return passContinue, nil
	}
	return passIdle, nil
}

func (r *Replicator) classifyUploadFailure(ctx context.Context, err error, batch []buffer.Increment) (passOutcome, error) {
	if mesclient.IsPermanent(err) {
		oldest := batch[0]
		for _, inc := range batch[1:] {
			if inc.Seq < oldest.Seq {
				oldest = inc
			}
		}
		if poisonErr := r.store.PoisonIncrement(ctx, oldest.Seq); poisonErr != nil {
			return 0, poisonErr
		}
		r.bus.Publish(events.Event{Kind: events.IncrementRejected, Payload: map[string]any{"seq": oldest.Seq, "orderCode": oldest.OrderCode}})
		return passContinue, nil
	}
	// Transient, or a bare network error classified transient by mesclient.
	return passRetry, nil
}

// recomputeProgress publishes PROGRESS_UPDATED using the fused upload
// response when present, falling back to a standalone GetOrderProgress call
// when the upload response carries no progress.
func (r *Replicator) recomputeProgress(ctx context.Context, fused *mesclient.OrderProgress) error {
	current := r.getCurrentOrder()
	if current.OrderCode == "" {
		return nil
	}

	progress := fused
	if progress == nil {
		p, err := r.client.GetOrderProgress(ctx, current.OrderCode)
		if err != nil {
			return err
		}
		progress = &p
	}

	r.bus.Publish(events.Event{Kind: events.ProgressUpdated, Payload: map[string]any{
		"orderCode":       current.OrderCode,
		"quantityPending": progress.QuantityPending,
		"progressRatio":   progress.ProgressRatio,
	}})
	return nil
}

func (r *Replicator) resetBackoff() {
	r.backoffMu.Lock()
	defer r.backoffMu.Unlock()
	r.backoff = 0
}

// sleepBackoff sleeps the current backoff duration (doubling it for next
// time, starting at minBackoff, capped at maxBackoff) and reports whether
// the sleep completed without the context being cancelled.
func (r *Replicator) sleepBackoff() bool {
	wait := r.advanceBackoff()

	select {
	case <-time.After(wait):
		return true
	case <-r.ctx.Done():
		return false
	}
}

// advanceBackoff applies one doubling step and returns the duration to wait
// this round, split out from sleepBackoff so the progression itself is
// testable without a real sleep.
func (r *Replicator) advanceBackoff() time.Duration {
	r.backoffMu.Lock()
	defer r.backoffMu.Unlock()

	if r.backoff == 0 {
		r.backoff = minBackoff
	}
	wait := r.backoff

	next := r.backoff * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	r.backoff = next

	return wait
}
