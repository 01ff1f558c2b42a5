package device

import (
	"sync"
	"time"

	"github.com/salvadorguc/sisproone-gateway/pkg/clock"
	"github.com/salvadorguc/sisproone-gateway/pkg/transport"
)

// Manager owns the device map. It is mutated exclusively by the
// Orchestrator task (the Housekeeper's heartbeat sweep also runs there, as
// an internal command); the mutex guards every access to the map, so a
// caller on another goroutine never observes it mid-update.
type Manager struct {
	mu      sync.Mutex
	devices map[string]*Device
	clock   clock.Clock
}

// NewManager creates an empty device manager.
func NewManager(c clock.Clock) *Manager {
	if c == nil {
		c = clock.New()
	}
	return &Manager{devices: make(map[string]*Device), clock: c}
}

// HandleFrame applies one inbound frame to its device (creating the device
// record on first sight) and returns the events it produced. Most tags
// produce zero events; CONT, FIN and HEARTBEAT can each produce one.
func (m *Manager) HandleFrame(f transport.Frame) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.getOrCreate(f.DeviceID)
	now := m.clock.Now()
	d.LastFrameAt = now
	if d.State == StateDisconnected {
		d.State = StateConnected
	}

	var events []Event
	switch f.Tag {
	case transport.TagCont:
		events = append(events, applyCont(d, f.Value)...)
	case transport.TagTotal:
		d.Total = f.Value
	case transport.TagMeta:
		d.Target = f.Value
	case transport.TagEstado:
		d.Active = f.Value == 1
		if d.Active {
			d.State = StateActive
		} else if d.State == StateActive {
			d.State = StateConnected
		}
	case transport.TagReset:
		d.Counter = 0
		d.Active = false
		if d.State == StateActive {
			d.State = StateConnected
		}
	case transport.TagLog:
		d.LogCounter = f.Value
	case transport.TagHeartbeat:
		d.LastHeartbeatAt = now
		events = append(events, Event{Kind: EventHeartbeat, DeviceID: f.DeviceID})
	case transport.TagInactivo:
		d.InactiveSeconds = f.Value
	case transport.TagFin:
		events = append(events, Event{Kind: EventLecturaCompleted, DeviceID: f.DeviceID})
	}

	return events
}

// applyCont implements the CONT frame rule: a decrease is a device reset
// (counter returns to 0, never a negative delta); otherwise it emits the
// positive delta and advances the counter.
func applyCont(d *Device, v int32) []Event {
	if v < d.Counter {
		old := d.Counter
		d.Counter = 0
		d.Counter = v
		return []Event{{Kind: EventReset, DeviceID: d.DeviceID, OldCounter: old, NewCounter: v}}
	}

	delta := v - d.Counter
	d.Counter = v
	if delta == 0 {
		return nil
	}
	return []Event{{Kind: EventDelta, DeviceID: d.DeviceID, Delta: delta}}
}

// getOrCreate returns the device record for id, creating it in
// StateDisconnected->StateConnected transition on first frame. Caller must
// hold m.mu.
func (m *Manager) getOrCreate(id string) *Device {
	d, ok := m.devices[id]
	if !ok {
		d = &Device{DeviceID: id, State: StateDisconnected}
		m.devices[id] = d
	}
	return d
}

// Snapshot returns a copy of the named device's current state.
func (m *Manager) Snapshot(id string) (Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// SnapshotAll returns a copy of every known device's current state.
func (m *Manager) SnapshotAll() []Device {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, *d)
	}
	return out
}

// SetActive is called by the orchestrator when it sends ACTIVAR/DESACTIVAR
// to a device, so the local view matches the commanded state even before
// the device's own ESTADO frame confirms it.
func (m *Manager) SetActive(id string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d := m.getOrCreate(id)
	d.Active = active
	if active {
		d.State = StateActive
	} else if d.State == StateActive {
		d.State = StateConnected
	}
}

// Sweep marks every device whose LastFrameAt is older than heartbeatTimeout
// as DISCONNECTED and returns the events for the ones that just
// transitioned (idempotent: a device already DISCONNECTED is skipped).
func (m *Manager) Sweep() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var events []Event
	for _, d := range m.devices {
		if d.State == StateDisconnected {
			continue
		}
		if d.LastFrameAt.IsZero() || now.Sub(d.LastFrameAt) <= heartbeatTimeout {
			continue
		}
		d.State = StateDisconnected
		d.Active = false
		events = append(events, Event{Kind: EventDisconnected, DeviceID: d.DeviceID})
	}
	return events
}

// HeartbeatTimeout exposes the sweep threshold for callers that need to
// schedule their own ticker (the Housekeeper task).
func HeartbeatTimeout() time.Duration { return heartbeatTimeout }
