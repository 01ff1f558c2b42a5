package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/salvadorguc/sisproone-gateway/internal/telemetry"
	"github.com/salvadorguc/sisproone-gateway/pkg/barcode"
	"github.com/salvadorguc/sisproone-gateway/pkg/buffer"
	"github.com/salvadorguc/sisproone-gateway/pkg/clock"
	"github.com/salvadorguc/sisproone-gateway/pkg/device"
	"github.com/salvadorguc/sisproone-gateway/pkg/events"
	"github.com/salvadorguc/sisproone-gateway/pkg/mesclient"
	"github.com/salvadorguc/sisproone-gateway/pkg/metrics"
	"github.com/salvadorguc/sisproone-gateway/pkg/replicator"
	"github.com/salvadorguc/sisproone-gateway/pkg/transport"
)

// drainGrace is how long the Orchestrator waits for the buffer to empty
// before giving up and transitioning to IDLE anyway.
const drainGrace = 30 * time.Second

// ErrWrongPhase is returned when a command does not apply to the Session's
// current phase.
var ErrWrongPhase = errors.New("engine: command not valid in current phase")

// ErrWrongPIN is returned when CloseOrder's supervisor PIN does not match
// the configured one (or none is configured at all).
var ErrWrongPIN = errors.New("engine: incorrect supervisor PIN")

// FrameWriter is the subset of transport.Port the Orchestrator needs to
// send outbound commands to a device. Narrowed to an interface so tests can
// substitute a fake without opening a real serial port.
type FrameWriter interface {
	WriteFrame(text string) error
}

// Engine is the Gateway Orchestrator. One call to Run drives its single
// state-mutating goroutine; every other exported method is safe to call
// from any goroutine and communicates with Run exclusively over channels.
type Engine struct {
	devices *device.Manager
	store   *buffer.Store
	mes     *mesclient.Client
	repl    *replicator.Replicator
	bus     *events.Bus
	writer  FrameWriter
	clock   clock.Clock
	userID  int
	pin     string

	frames   chan transport.Frame
	commands chan Command

	session Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Deps bundles the collaborators an Engine is built from.
type Deps struct {
	Devices *device.Manager
	Store   *buffer.Store
	MES     *mesclient.Client
	Repl    *replicator.Replicator
	Bus     *events.Bus
	Writer  FrameWriter
	Clock   clock.Clock
	UserID  int

	// SupervisorPIN, when non-empty, must be echoed back on CmdCloseOrder
	// before the engine closes an order. Left empty, CloseOrder always
	// fails with ErrWrongPIN.
	SupervisorPIN string
}

// New constructs an Engine. Call Run to start its goroutine.
func New(d Deps) *Engine {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	return &Engine{
		devices:  d.Devices,
		store:    d.Store,
		mes:      d.MES,
		repl:     d.Repl,
		bus:      d.Bus,
		writer:   d.Writer,
		clock:    d.Clock,
		userID:   d.UserID,
		pin:      d.SupervisorPIN,
		frames:   make(chan transport.Frame, 256),
		commands: make(chan Command, 16),
		session:  Session{Phase: PhaseIdle},
	}
}

// Run starts the Orchestrator's single goroutine. It returns immediately;
// call Shutdown to stop it.
func (e *Engine) Run(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.loop()
}

// SubmitFrame is called by the Transport reader task for every parsed
// inbound frame. Non-blocking is not guaranteed here by design: a full
// frame queue means the orchestrator is falling behind, which is itself
// worth the backpressure.
func (e *Engine) SubmitFrame(f transport.Frame) {
	select {
	case e.frames <- f:
	case <-e.ctx.Done():
	}
}

// Dispatch sends a command to the Orchestrator and blocks for its result.
func (e *Engine) Dispatch(ctx context.Context, cmd Command) CommandResult {
	cmd.Reply = newReply()
	select {
	case e.commands <- cmd:
	case <-ctx.Done():
		return CommandResult{Err: ctx.Err()}
	case <-e.ctx.Done():
		return CommandResult{Err: errors.New("engine: stopped")}
	}

	select {
	case res := <-cmd.Reply:
		return res
	case <-ctx.Done():
		return CommandResult{Err: ctx.Err()}
	}
}

// Snapshot returns a copy of the current Session, safe to call from any
// goroutine (it round-trips through the command channel).
func (e *Engine) Snapshot(ctx context.Context) Session {
	res := e.Dispatch(ctx, Command{Kind: cmdSnapshot})
	if s, ok := res.Data.(Session); ok {
		return s
	}
	return Session{}
}

func (e *Engine) loop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case f := <-e.frames:
			e.onFrame(f)
		case cmd := <-e.commands:
			e.onCommand(cmd)
		}
	}
}

func (e *Engine) onFrame(f transport.Frame) {
	_, span := telemetry.StartFrameSpan(e.ctx, f.DeviceID, f.Tag)
	defer span.End()

	metrics.FramesReceived.WithLabelValues(f.DeviceID, f.Tag).Inc()
	evs := e.devices.HandleFrame(f)
	for _, ev := range evs {
		e.onDeviceEvent(f.DeviceID, ev)
	}
}

func (e *Engine) onDeviceEvent(deviceID string, ev device.Event) {
	switch ev.Kind {
	case device.EventHeartbeat:
		metrics.DeviceConnected.WithLabelValues(deviceID).Set(1)
		e.bus.Publish(events.Event{Kind: events.DeviceHeartbeat, Payload: map[string]any{"deviceId": deviceID}})

	case device.EventReset:
		metrics.DeviceResets.WithLabelValues(deviceID, "counter_decrease").Inc()
		e.bus.Publish(events.Event{Kind: events.DeviceReset, Payload: map[string]any{
			"deviceId": deviceID, "oldCounter": ev.OldCounter, "newCounter": ev.NewCounter,
		}})

	case device.EventLecturaCompleted:
		e.bus.Publish(events.Event{Kind: events.LecturaCompleted, Payload: map[string]any{"deviceId": deviceID}})

	case device.EventDisconnected:
		metrics.DeviceConnected.WithLabelValues(deviceID).Set(0)
		e.bus.Publish(events.Event{Kind: events.StateChanged, Payload: map[string]any{"deviceId": deviceID, "deviceState": "DISCONNECTED"}})

	case device.EventDelta:
		e.onDelta(deviceID, ev.Delta)
	}
}

// onDelta appends a production increment and checks for meta completion.
// Only acted on while PRODUCING and bound to the session's device.
func (e *Engine) onDelta(deviceID string, delta int32) {
	if e.session.Phase != PhaseProducing || e.session.DeviceID != deviceID || delta <= 0 {
		return
	}

	if err := e.appendIncrement(deviceID, delta, buffer.SourceDevice); err != nil {
		e.fail(fmt.Errorf("append increment: %w", err))
		return
	}

	snap, _ := e.devices.Snapshot(deviceID)
	if e.session.Order != nil && int(snap.Counter) >= e.session.Order.QuantityPending {
		e.beginDrain(false)
	}
}

func (e *Engine) appendIncrement(deviceID string, quantity int32, source string) error {
	now := e.clock.Now().Format(time.RFC3339)
	orderCode := e.session.Order.Code
	upc := e.session.Order.ProductUPC

	inc := buffer.Increment{
		OrderCode:   orderCode,
		UPC:         upc,
		Quantity:    int(quantity),
		OccurredAt:  now,
		Source:      source,
		StationID:   e.session.StationID,
		UserID:      e.userID,
		OrderID:     e.session.Order.ID,
		Fingerprint: clock.Fingerprint(orderCode, upc, now, e.session.StationID),
	}

	if _, err := e.store.Append(e.ctx, inc); err != nil {
		metrics.IncrementsRejected.WithLabelValues("store_append_failed").Inc()
		return err
	}
	metrics.IncrementsAppended.WithLabelValues(source).Inc()

	e.bus.Publish(events.Event{Kind: events.CountUpdated, Payload: map[string]any{
		"deviceId": deviceID, "orderCode": orderCode, "delta": quantity,
	}})
	return nil
}

func (e *Engine) onCommand(cmd Command) {
	if cmd.Kind == cmdSnapshot {
		cmd.Reply <- CommandResult{OK: true, Phase: e.session.Phase, Data: e.session}
		return
	}

	var res CommandResult
	switch cmd.Kind {
	case CmdSelectStation:
		res = e.handleSelectStation(cmd)
	case CmdSelectOrder:
		res = e.handleSelectOrder(cmd)
	case CmdValidateUPC:
		res = e.handleValidateUPC(cmd)
	case CmdKeepCounter:
		res = e.handleKeepCounter()
	case CmdRequireManualReset:
		res = e.handleRequireManualReset()
	case CmdChangeOrder:
		res = e.handleChangeOrder(false, "")
	case CmdCloseOrder:
		res = e.handleChangeOrder(true, cmd.PIN)
	case CmdChangePriority:
		res = e.handleChangePriority(cmd)
	case CmdSyncNow:
		e.repl.TriggerNow()
		res = CommandResult{OK: true, Phase: e.session.Phase}
	case CmdResetError:
		res = e.handleResetError()
	case cmdDrainComplete:
		res = e.handleDrainComplete(cmd)
	case cmdSweep:
		for _, ev := range e.devices.Sweep() {
			e.onDeviceEvent(ev.DeviceID, ev)
		}
		res = CommandResult{OK: true, Phase: e.session.Phase}
	default:
		res = CommandResult{Err: fmt.Errorf("engine: unknown command %q", cmd.Kind)}
	}

	if cmd.Reply != nil {
		cmd.Reply <- res
	}
}

func (e *Engine) handleSelectStation(cmd Command) CommandResult {
	if e.session.Phase != PhaseIdle {
		return CommandResult{Err: ErrWrongPhase, Phase: e.session.Phase}
	}

	stations, err := e.mes.ListStations(e.ctx)
	if err != nil {
		return CommandResult{Err: err, Phase: e.session.Phase}
	}
	found := false
	for _, s := range stations {
		if s.ID == cmd.StationID {
			found = true
			break
		}
	}
	if !found {
		return CommandResult{Err: fmt.Errorf("engine: station %d not found", cmd.StationID), Phase: e.session.Phase}
	}

	e.session.StationID = cmd.StationID
	e.session.DeviceID = cmd.DeviceID
	if err := e.store.SetCurrentStation(e.ctx, buffer.Station{
		StationID:  cmd.StationID,
		SelectedAt: e.clock.Now().Format(time.RFC3339),
	}); err != nil {
		return CommandResult{Err: err, Phase: e.session.Phase}
	}

	return CommandResult{OK: true, Phase: e.session.Phase}
}

func (e *Engine) handleSelectOrder(cmd Command) CommandResult {
	if e.session.Phase != PhaseIdle || e.session.StationID == 0 {
		return CommandResult{Err: ErrWrongPhase, Phase: e.session.Phase}
	}

	orders, err := e.mes.ListAssignedOrders(e.ctx, e.session.StationID)
	if err != nil {
		return CommandResult{Err: err, Phase: e.session.Phase}
	}

	var selected *mesclient.Order
	for i := range orders {
		if orders[i].Code == cmd.OrderCode {
			selected = &orders[i]
			break
		}
	}
	if selected == nil {
		return CommandResult{Err: fmt.Errorf("engine: order %q not assigned to station", cmd.OrderCode), Phase: e.session.Phase}
	}
	if selected.Closed || selected.QuantityPending <= 0 {
		return CommandResult{Err: fmt.Errorf("engine: order %q is closed or has nothing pending", cmd.OrderCode), Phase: e.session.Phase}
	}

	e.session.Order = selected
	e.transition(PhaseOrderSelected)

	recipe, err := e.mes.GetOrderRecipe(e.ctx, selected.Code)
	if err == nil {
		e.session.Recipe = &recipe
	}
	e.repl.SetCurrentOrder(replicator.CurrentOrder{OrderCode: selected.Code, StationID: e.session.StationID})
	e.transition(PhaseAwaitingUPC)

	return CommandResult{OK: true, Phase: e.session.Phase}
}

func (e *Engine) handleValidateUPC(cmd Command) CommandResult {
	if e.session.Phase != PhaseAwaitingUPC {
		return CommandResult{Err: ErrWrongPhase, Phase: e.session.Phase}
	}
	if e.session.Order == nil {
		return CommandResult{Err: errors.New("engine: UPC does not match selected order"), Phase: e.session.Phase}
	}
	if !barcode.Validate(cmd.UPC) {
		return CommandResult{Err: errors.New("engine: scanned UPC is not well-formed"), Phase: e.session.Phase}
	}
	if !barcode.Matches(cmd.UPC, e.session.Order.ProductUPC) {
		return CommandResult{Err: errors.New("engine: UPC does not match selected order"), Phase: e.session.Phase}
	}

	snap, _ := e.devices.Snapshot(e.session.DeviceID)
	if snap.Counter > 0 {
		e.session.AwaitingStaleDecision = true
		e.session.StaleCounterValue = snap.Counter
		e.bus.Publish(events.Event{Kind: events.StaleCounterDetected, Payload: map[string]any{
			"deviceId": e.session.DeviceID, "counter": snap.Counter,
		}})
		return CommandResult{OK: true, Phase: e.session.Phase, Data: "stale counter pending decision"}
	}

	e.beginProducing(0)
	return CommandResult{OK: true, Phase: e.session.Phase}
}

func (e *Engine) handleKeepCounter() CommandResult {
	if e.session.Phase != PhaseAwaitingUPC || !e.session.AwaitingStaleDecision {
		return CommandResult{Err: ErrWrongPhase, Phase: e.session.Phase}
	}
	counter := e.session.StaleCounterValue
	e.session.AwaitingStaleDecision = false

	if err := e.appendIncrement(e.session.DeviceID, counter, buffer.SourceInitial); err != nil {
		e.fail(fmt.Errorf("append initial increment: %w", err))
		return CommandResult{Err: err, Phase: e.session.Phase}
	}

	e.beginProducing(counter)
	return CommandResult{OK: true, Phase: e.session.Phase}
}

func (e *Engine) handleRequireManualReset() CommandResult {
	if e.session.Phase != PhaseAwaitingUPC || !e.session.AwaitingStaleDecision {
		return CommandResult{Err: ErrWrongPhase, Phase: e.session.Phase}
	}
	e.session.AwaitingStaleDecision = false
	e.session.StaleCounterValue = 0
	return CommandResult{OK: true, Phase: e.session.Phase, Data: "awaiting device reset and re-validation"}
}

// beginProducing snapshots the baseline, sends ACTIVAR+META to the device,
// and transitions to PRODUCING.
func (e *Engine) beginProducing(baseline int32) {
	e.session.CounterBaseline = baseline
	e.writeCommand(transport.EncodeText(e.session.DeviceID, transport.CmdActivar, e.session.Order.ProductCode))
	e.writeCommand(transport.Encode(e.session.DeviceID, transport.CmdMeta, int32(e.session.Order.QuantityPending)))
	e.transition(PhaseProducing)
}

func (e *Engine) writeCommand(text string) {
	if e.writer == nil {
		return
	}
	if err := e.writer.WriteFrame(text); err != nil {
		e.bus.Publish(events.Event{Kind: events.EngineFailed, Payload: map[string]any{"error": err.Error(), "source": "transport-write"}})
	}
}

func (e *Engine) handleChangeOrder(closeOrder bool, pin string) CommandResult {
	if e.session.Phase != PhaseProducing {
		return CommandResult{Err: ErrWrongPhase, Phase: e.session.Phase}
	}
	if closeOrder && (e.pin == "" || pin != e.pin) {
		return CommandResult{Err: ErrWrongPIN, Phase: e.session.Phase}
	}
	e.session.DrainRequestClose = closeOrder
	e.beginDrain(closeOrder)
	return CommandResult{OK: true, Phase: e.session.Phase}
}

// handleChangePriority re-ranks an order's priority at the current station.
// Unlike CloseOrder/ChangeOrder it does not touch the Session phase: it is
// a passthrough to the MES available whenever a station is selected,
// including while a different order is in production.
func (e *Engine) handleChangePriority(cmd Command) CommandResult {
	if e.session.StationID == 0 {
		return CommandResult{Err: errors.New("engine: no station selected"), Phase: e.session.Phase}
	}
	if err := e.mes.ChangePriority(e.ctx, cmd.OrderCode, cmd.Priority, e.session.StationID); err != nil {
		return CommandResult{Err: err, Phase: e.session.Phase}
	}
	return CommandResult{OK: true, Phase: e.session.Phase}
}

// beginDrain sends DESACTIVAR, triggers the Replicator, and spawns a
// goroutine that waits for the buffer to empty (or a grace deadline) and
// then loops cmdDrainComplete back through the command channel so the
// transition to IDLE still happens on the single state-mutating goroutine.
func (e *Engine) beginDrain(closeOrder bool) {
	e.session.DrainRequestClose = closeOrder
	e.writeCommand(transport.Encode(e.session.DeviceID, transport.CmdDesactivar, 0))
	e.transition(PhaseDraining)
	e.repl.TriggerNow()

	go func() {
		deadline := time.NewTimer(drainGrace)
		defer deadline.Stop()
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-e.ctx.Done():
				return
			case <-deadline.C:
				e.loopbackDrainComplete()
				return
			case <-ticker.C:
				n, err := e.store.PendingCount(e.ctx)
				if err == nil && n == 0 {
					e.loopbackDrainComplete()
					return
				}
			}
		}
	}()
}

func (e *Engine) loopbackDrainComplete() {
	select {
	case e.commands <- Command{Kind: cmdDrainComplete, Reply: newReply()}:
	case <-e.ctx.Done():
	}
}

func (e *Engine) handleDrainComplete(cmd Command) CommandResult {
	if e.session.Phase != PhaseDraining {
		return CommandResult{OK: true, Phase: e.session.Phase}
	}

	if e.session.DrainRequestClose && e.session.Order != nil {
		if err := e.mes.CloseOrder(e.ctx, e.session.Order.Code, e.session.StationID); err != nil {
			e.bus.Publish(events.Event{Kind: events.EngineFailed, Payload: map[string]any{"error": err.Error(), "source": "close-order"}})
		}
	}

	stationID := e.session.StationID
	e.session.reset()
	e.session.StationID = stationID
	e.transition(PhaseIdle)
	return CommandResult{OK: true, Phase: e.session.Phase}
}

func (e *Engine) handleResetError() CommandResult {
	if e.session.Phase != PhaseError {
		return CommandResult{Err: ErrWrongPhase, Phase: e.session.Phase}
	}
	e.session.reset()
	e.transition(PhaseIdle)
	return CommandResult{OK: true, Phase: e.session.Phase}
}

func (e *Engine) transition(to Phase) {
	from := e.session.Phase
	e.session.Phase = to
	if from != to {
		e.bus.Publish(events.Event{Kind: events.StateChanged, Payload: map[string]any{"from": string(from), "to": string(to)}})
		metrics.ObservePhase(string(to))
	}
}

// fail transitions the session to ERROR from any phase and publishes
// ENGINE_FAILED. Re-entry to IDLE requires an explicit CmdResetError.
func (e *Engine) fail(err error) {
	e.session.ErrorReason = err.Error()
	e.transition(PhaseError)
	e.bus.Publish(events.Event{Kind: events.EngineFailed, Payload: map[string]any{"error": err.Error()}})
}

// Shutdown drives the shutdown sequence:
// PRODUCING -> DRAINING, a wait of up to 30s for the buffer to empty, then
// closing the transport (transportCloser), the Replicator, and the buffer store
// regardless of whether the drain finished in time.
func (e *Engine) Shutdown(ctx context.Context, transportCloser interface{ Close() error }) {
	if e.session.Phase == PhaseProducing {
		_ = e.Dispatch(ctx, Command{Kind: CmdChangeOrder})
	}

	deadline := time.Now().Add(drainGrace)
	for time.Now().Before(deadline) {
		n, err := e.store.PendingCount(context.Background())
		if err == nil && n == 0 {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	if transportCloser != nil {
		_ = transportCloser.Close()
	}
	e.repl.Stop()
	_ = e.store.Close()
}
