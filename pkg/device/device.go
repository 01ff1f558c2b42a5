// Package device implements the gateway's per-device session state: the
// counter/heartbeat/activity model for each RS-485 counting device, driven
// entirely by inbound frames plus a heartbeat timeout sweep.
package device

import "time"

// State is a device's connection state.
type State string

// Device connection states.
const (
	StateDisconnected State = "DISCONNECTED"
	StateConnected    State = "CONNECTED"
	StateActive       State = "ACTIVE"
)

// Device is the runtime record for one RS-485 counter, created implicitly
// on its first frame and evicted only on engine shutdown.
type Device struct {
	DeviceID        string
	State           State
	Counter         int32
	Total           int32
	Target          int32
	Active          bool
	LastHeartbeatAt time.Time
	InactiveSeconds int32
	LogCounter      int32
	LastFrameAt     time.Time
}

// heartbeatTimeout is the interval after which a device with no frames is
// considered DISCONNECTED by the Housekeeper task.
const heartbeatTimeout = 60 * time.Second
