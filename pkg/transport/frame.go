package transport

import (
	"fmt"
	"regexp"
	"strconv"
)

// Recognised frame tags.
const (
	TagCont      = "CONT"
	TagTotal     = "TOTAL"
	TagMeta      = "META"
	TagEstado    = "ESTADO"
	TagReset     = "RESET"
	TagLog       = "LOG"
	TagHeartbeat = "HEARTBEAT"
	TagInactivo  = "INACTIVO"
	TagFin       = "FIN"
)

// frameGrammar matches DEVICEID:TAG:VALUE, newline stripped by the caller.
// DEVICEID is [A-Z0-9]{1,8}; VALUE is a signed 32-bit decimal integer.
var frameGrammar = regexp.MustCompile(`^([A-Z0-9]{1,8}):(CONT|TOTAL|META|ESTADO|RESET|LOG|HEARTBEAT|INACTIVO|FIN):(-?[0-9]+)$`)

// Frame is one parsed inbound line from the RS-485 bus.
type Frame struct {
	DeviceID string
	Tag      string
	Value    int32
}

// ParseError is returned by ParseFrame for a line that does not match the
// frame grammar. It carries the raw line for logging but never terminates
// the reading session.
type ParseError struct {
	Raw string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("transport: malformed frame: %q", e.Raw)
}

// ParseFrame parses one line (without its trailing newline) into a Frame.
func ParseFrame(line string) (Frame, error) {
	m := frameGrammar.FindStringSubmatch(line)
	if m == nil {
		return Frame{}, &ParseError{Raw: line}
	}

	v, err := strconv.ParseInt(m[3], 10, 32)
	if err != nil {
		return Frame{}, &ParseError{Raw: line}
	}

	return Frame{DeviceID: m[1], Tag: m[2], Value: int32(v)}, nil
}

// Encode renders an outbound command frame as deviceId:TAG:value, without
// a trailing newline (WriteFrame appends it).
func Encode(deviceID, tag string, value int32) string {
	return fmt.Sprintf("%s:%s:%d", deviceID, tag, value)
}

// EncodeText renders an outbound command frame whose value is not numeric
// (ACTIVAR carries a product code, not an integer), without a trailing
// newline.
func EncodeText(deviceID, tag, value string) string {
	return fmt.Sprintf("%s:%s:%s", deviceID, tag, value)
}

// Outbound command templates the orchestrator sends to a device.
const (
	CmdActivar    = "ACTIVAR"
	CmdDesactivar = "DESACTIVAR"
	CmdMeta       = "META"
	CmdReset      = "RESET"
)
