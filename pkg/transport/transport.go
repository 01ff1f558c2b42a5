// Package transport implements the gateway's RS-485 transport:
// half-duplex, newline-terminated framed line I/O over a serial port, with
// direction control via the RTS line.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// settleDelay is the pause after raising/lowering the DE/RE direction line
// before/after a write, giving the transceiver time to switch direction.
const settleDelay = 10 * time.Millisecond

// Sentinel errors surfaced across the transport's package boundary.
var (
	// ErrTimeout is returned by ReadFrame when no complete line arrives
	// before the deadline.
	ErrTimeout = errors.New("transport: read timeout")

	// ErrBusBusy is returned by WriteFrame when another caller already
	// holds the write lock. The orchestrator does not retry the write; it
	// publishes ENGINE_FAILED for it.
	ErrBusBusy = errors.New("transport: bus busy")

	// ErrPortLost is returned when the underlying serial port fails;
	// the gateway's reader logs it and reads again after one second. The
	// port is not reopened.
	ErrPortLost = errors.New("transport: port lost")
)

// Config configures the serial connection.
type Config struct {
	// Port is the serial device path, e.g. "/dev/ttyUSB0" or "COM3".
	Port string

	// Baud is the baud rate. Default 9600 8-N-1.
	Baud int
}

// Port is a half-duplex RS-485 transport. ReadFrame is intended to be
// called from a single reader goroutine (the Transport reader task);
// WriteFrame may be called by multiple goroutines and serialises them with
// a non-blocking lock so contention fails fast with ErrBusBusy rather than
// queuing writers behind each other.
type Port struct {
	raw     serial.Port
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// Open opens the serial port at cfg.Port with the given baud rate (9600 if
// zero), 8 data bits, no parity, one stop bit.
func Open(cfg Config) (*Port, error) {
	baud := cfg.Baud
	if baud == 0 {
		baud = 9600
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	raw, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPortLost, err)
	}

	return &Port{
		raw:    raw,
		reader: bufio.NewReader(raw),
	}, nil
}

// Close releases the underlying serial port.
func (p *Port) Close() error {
	return p.raw.Close()
}

// ReadFrame reads one complete line and parses it. It blocks until ctx's
// deadline, a line arrives, or the port fails. A malformed line is
// returned as a *ParseError — the caller should log it and keep reading,
// never terminate the session over it.
func (p *Port) ReadFrame(ctx context.Context) (Frame, error) {
	timeout := time.Duration(0) // 0 = block indefinitely, matched below
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
		if timeout <= 0 {
			return Frame{}, ErrTimeout
		}
	}

	if err := p.raw.SetReadTimeout(readTimeoutOrBlock(timeout)); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrPortLost, err)
	}

	line, err := p.reader.ReadString('\n')
	if err != nil {
		if isTimeoutRead(line, err) {
			return Frame{}, ErrTimeout
		}
		return Frame{}, fmt.Errorf("%w: %v", ErrPortLost, err)
	}

	return ParseFrame(trimNewline(line))
}

// readTimeoutOrBlock normalises a zero/negative duration to 0, which
// go.bug.st/serial treats as "block forever" on SetReadTimeout.
func readTimeoutOrBlock(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d
}

// isTimeoutRead recognises go.bug.st/serial's behavior of returning an
// empty read (no error, or io.EOF-like error on some platforms) when the
// configured read timeout elapses with no data.
func isTimeoutRead(line string, err error) bool {
	return line == "" && err != nil
}

// trimNewline strips the trailing \n (and \r, for devices that emit
// \r\n) from a line read by bufio.Reader.ReadString('\n').
func trimNewline(line string) string {
	n := len(line)
	for n > 0 && (line[n-1] == '\n' || line[n-1] == '\r') {
		n--
	}
	return line[:n]
}

// WriteFrame raises the DE/RE direction line, writes text plus a trailing
// newline, waits the settle delay, then lowers the line. Only one caller
// at a time may hold the bus; a concurrent caller fails immediately with
// ErrBusBusy instead of queuing.
func (p *Port) WriteFrame(text string) error {
	if !p.writeMu.TryLock() {
		return ErrBusBusy
	}
	defer p.writeMu.Unlock()

	if err := p.raw.SetRTS(true); err != nil {
		return fmt.Errorf("%w: %v", ErrPortLost, err)
	}

	_, err := p.raw.Write([]byte(text + "\n"))
	if err != nil {
		_ = p.raw.SetRTS(false)
		return fmt.Errorf("%w: %v", ErrPortLost, err)
	}

	time.Sleep(settleDelay)

	if err := p.raw.SetRTS(false); err != nil {
		return fmt.Errorf("%w: %v", ErrPortLost, err)
	}

	return nil
}
