package transport

import (
	"context"
	"fmt"

	"go.bug.st/serial"
)

// SerialDialer opens a wired serial link to the mill, the usual bench setup
// with the MCU's UART brought out over a USB adapter.
type SerialDialer struct {
	// Port is the device path, e.g. /dev/ttyUSB0.
	Port string
	// Baud is the line rate. The MCU bridge runs at 115200.
	Baud int
}

// Dial opens the serial port. A platform permission failure maps to
// ErrPermissionRequired so the client can surface it as an actionable state
// instead of a generic link error.
func (d *SerialDialer) Dial(_ context.Context) (Conn, error) {
	mode := &serial.Mode{
		BaudRate: d.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(d.Port, mode)
	if err != nil {
		if portErr, ok := err.(*serial.PortError); ok && portErr.Code() == serial.PermissionDenied {
			return nil, fmt.Errorf("open serial port %s: %w", d.Port, ErrPermissionRequired)
		}

		return nil, fmt.Errorf("open serial port %s: %w", d.Port, err)
	}

	return &serialConn{port: port}, nil
}

// serialConn wraps a serial port.
type serialConn struct {
	port serial.Port
}

func (s *serialConn) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *serialConn) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *serialConn) Close() error {
	return s.port.Close()
}

var _ Dialer = (*SerialDialer)(nil)
var _ Conn = (*serialConn)(nil)
