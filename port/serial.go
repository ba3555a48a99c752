package port

import (
	"github.com/pkg/term"
)

// SerialPort is a link.Port backed by a real serial line, grounded on
// the open/write/read/close shape of the samoyed pack's
// serial_port_open/_write/_get1/_close helpers, adapted from
// one-byte-at-a-time reads to link's buffered PortIO/PortRead
// contract and from a nil-on-error sentinel to a returned error.
type SerialPort struct {
	ioPort
	t *term.Term
}

// OpenSerial opens device at the given baud rate in raw mode.
func OpenSerial(device string, baud int) (*SerialPort, error) {
	t, err := term.Open(device, term.RawMode)
	if err != nil {
		return nil, err
	}
	if baud != 0 {
		if err := t.SetSpeed(baud); err != nil {
			t.Close()
			return nil, err
		}
	}
	sp := &SerialPort{t: t}
	sp.rw = t
	return sp, nil
}

// Close releases the underlying serial device.
func (s *SerialPort) Close() error {
	if s.t == nil {
		return nil
	}
	return s.t.Close()
}
