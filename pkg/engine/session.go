// Package engine implements the gateway orchestrator: the single
// state-mutating task that owns the production Session and routes commands
// and device frames to their effects on the buffer, transport, device and
// MES client.
package engine

import "github.com/salvadorguc/sisproone-gateway/pkg/mesclient"

// Phase is the Session's state machine position.
type Phase string

const (
	PhaseIdle          Phase = "IDLE"
	PhaseOrderSelected Phase = "ORDER_SELECTED"
	PhaseAwaitingUPC   Phase = "AWAITING_UPC"
	PhaseProducing     Phase = "PRODUCING"
	PhaseDraining      Phase = "DRAINING"
	PhaseError         Phase = "ERROR"
)

// Session is the gateway's single production context: one station, one
// order, at a time. Mutated exclusively by Engine.Run's goroutine.
type Session struct {
	Phase Phase

	StationID int
	Order     *mesclient.Order
	Recipe    *mesclient.Recipe

	// DeviceID is the RS-485 device bound to StationID for this run.
	DeviceID string

	// CounterBaseline is the device counter value snapshotted when
	// PRODUCING began, used only for display/diagnostics; increments are
	// derived from per-frame deltas regardless of this baseline.
	CounterBaseline int32

	// AwaitingStaleDecision is set when a stale counter was detected at
	// UPC-validation time and the operator has not yet answered
	// KeepCounter/RequireManualReset.
	AwaitingStaleDecision bool
	StaleCounterValue     int32

	// DrainRequestClose carries whether the order should be closed once
	// the drain completes (CloseOrder vs. a bare ChangeOrder).
	DrainRequestClose bool

	// ErrorReason is set when Phase == PhaseError.
	ErrorReason string
}

// reset clears the session back to its zero, IDLE state, keeping nothing
// from the previous run.
func (s *Session) reset() {
	*s = Session{Phase: PhaseIdle}
}
