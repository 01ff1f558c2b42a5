package device

import (
	"testing"
	"time"

	"github.com/salvadorguc/sisproone-gateway/pkg/clock"
	"github.com/salvadorguc/sisproone-gateway/pkg/transport"
)

func frame(deviceID, tag string, value int32) transport.Frame {
	return transport.Frame{DeviceID: deviceID, Tag: tag, Value: value}
}

func TestHandleFrame_ContEmitsDelta(t *testing.T) {
	m := NewManager(clock.New())

	events := m.HandleFrame(frame("EST01", transport.TagCont, 5))
	if len(events) != 1 || events[0].Kind != EventDelta || events[0].Delta != 5 {
		t.Fatalf("expected single delta event of 5, got %+v", events)
	}

	events = m.HandleFrame(frame("EST01", transport.TagCont, 8))
	if len(events) != 1 || events[0].Kind != EventDelta || events[0].Delta != 3 {
		t.Fatalf("expected single delta event of 3, got %+v", events)
	}

	snap, ok := m.Snapshot("EST01")
	if !ok || snap.Counter != 8 {
		t.Fatalf("expected counter 8, got %+v (ok=%v)", snap, ok)
	}
}

func TestHandleFrame_ContEqualEmitsNothing(t *testing.T) {
	m := NewManager(clock.New())

	m.HandleFrame(frame("EST01", transport.TagCont, 5))
	events := m.HandleFrame(frame("EST01", transport.TagCont, 5))
	if len(events) != 0 {
		t.Fatalf("expected no events for an unchanged counter, got %+v", events)
	}
}

func TestHandleFrame_ContDecreaseTriggersReset(t *testing.T) {
	m := NewManager(clock.New())

	m.HandleFrame(frame("EST01", transport.TagCont, 7))
	events := m.HandleFrame(frame("EST01", transport.TagCont, 0))

	if len(events) != 1 || events[0].Kind != EventReset {
		t.Fatalf("expected single reset event, got %+v", events)
	}
	if events[0].OldCounter != 7 || events[0].NewCounter != 0 {
		t.Errorf("expected reset from 7 to 0, got %+v", events[0])
	}

	snap, _ := m.Snapshot("EST01")
	if snap.Counter != 0 {
		t.Errorf("expected counter reset to 0, got %d", snap.Counter)
	}

	// next CONT yields a delta of 1, not a negative or cumulative value
	events = m.HandleFrame(frame("EST01", transport.TagCont, 1))
	if len(events) != 1 || events[0].Kind != EventDelta || events[0].Delta != 1 {
		t.Fatalf("expected delta of 1 after reset, got %+v", events)
	}
}

func TestHandleFrame_MetaEstadoResetLog(t *testing.T) {
	m := NewManager(clock.New())

	m.HandleFrame(frame("EST01", transport.TagMeta, 10))
	m.HandleFrame(frame("EST01", transport.TagTotal, 99))
	m.HandleFrame(frame("EST01", transport.TagEstado, 1))
	m.HandleFrame(frame("EST01", transport.TagLog, 3))

	snap, _ := m.Snapshot("EST01")
	if snap.Target != 10 || snap.Total != 99 || !snap.Active || snap.LogCounter != 3 {
		t.Fatalf("unexpected snapshot after meta/total/estado/log frames: %+v", snap)
	}
	if snap.State != StateActive {
		t.Errorf("expected state ACTIVE after ESTADO:1, got %v", snap.State)
	}

	m.HandleFrame(frame("EST01", transport.TagReset, 0))
	snap, _ = m.Snapshot("EST01")
	if snap.Counter != 0 || snap.Active {
		t.Fatalf("expected RESET to zero counter and clear active, got %+v", snap)
	}
	if snap.State != StateConnected {
		t.Errorf("expected state CONNECTED after RESET, got %v", snap.State)
	}
}

func TestHandleFrame_Fin(t *testing.T) {
	m := NewManager(clock.New())

	events := m.HandleFrame(frame("EST01", transport.TagFin, 0))
	if len(events) != 1 || events[0].Kind != EventLecturaCompleted {
		t.Fatalf("expected LECTURA_COMPLETED event, got %+v", events)
	}
}

func TestSweep_DisconnectsStaleDevices(t *testing.T) {
	base := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	fc := &fixedClockStepper{at: base}
	m := NewManager(fc)

	m.HandleFrame(frame("EST01", transport.TagHeartbeat, 1))

	fc.at = base.Add(61 * time.Second)
	events := m.Sweep()
	if len(events) != 1 || events[0].Kind != EventDisconnected || events[0].DeviceID != "EST01" {
		t.Fatalf("expected device to be disconnected after timeout, got %+v", events)
	}

	snap, _ := m.Snapshot("EST01")
	if snap.State != StateDisconnected {
		t.Errorf("expected state DISCONNECTED, got %v", snap.State)
	}

	// a second sweep at the same instant must not re-report the same device
	events = m.Sweep()
	if len(events) != 0 {
		t.Errorf("expected sweep to be idempotent, got %+v", events)
	}
}

// fixedClockStepper lets a test advance time between calls, unlike the
// immutable clock.FixedClock.
type fixedClockStepper struct {
	at time.Time
}

func (f *fixedClockStepper) Now() time.Time { return f.at }
