package port

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// PTYPort is a link.Port backed by a pseudo-terminal, grounded on the
// samoyed pack's use of pty.Open() in kiss.go for a loopback
// serial-like endpoint. cmd/uucico opens one when no serial device is
// named, to run the link and session layers without a real serial
// line.
type PTYPort struct {
	ioPort
	master *os.File
	slave  *os.File
	cmd    *exec.Cmd
}

// OpenPTYPair opens a master/slave pseudo-terminal pair. The caller
// gets a Port bound to the master side; the slave *os.File can be
// handed to a child process (e.g. as its stdio) or to a second
// in-process peer for loopback testing.
func OpenPTYPair() (p *PTYPort, slave *os.File, err error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, err
	}
	pp := &PTYPort{master: master, slave: slave}
	pp.rw = master
	return pp, slave, nil
}

// StartCommand launches cmd with its stdio attached to a fresh pty,
// returning a Port bound to the master side (the "byte port"
// contract applied to a locally spawned peer process instead of a
// physical line).
func StartCommand(cmd *exec.Cmd) (*PTYPort, error) {
	master, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	pp := &PTYPort{master: master, cmd: cmd}
	pp.rw = master
	return pp, nil
}

// Close releases the pty and, if a command was started, waits for it.
func (p *PTYPort) Close() error {
	var err error
	if p.master != nil {
		err = p.master.Close()
	}
	if p.slave != nil {
		p.slave.Close()
	}
	if p.cmd != nil {
		p.cmd.Wait()
	}
	return err
}
