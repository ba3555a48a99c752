package port

import (
	"io"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHPort is a link.Port tunneled through an SSH session's
// stdin/stdout pipes, grounded on the teacher's SSHSession stdin/
// stdout wiring (zmodem/ssh.go). Unlike SerialPort/PTYPort, an SSH
// pipe has no SetReadDeadline, so reads are bounded with a
// goroutine-and-channel timeout instead, the same shape as the
// teacher's sshReader.SetTimeout field driving zmodemIO's byte loop.
type SSHPort struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	chunks   chan readResult
	leftover []byte
}

type readResult struct {
	data []byte
	err  error
}

// NewSSHPort wires a link.Port to an already-dialed *ssh.Session,
// starting the given remote command (typically a peer uucico) so its
// stdio becomes the byte port. A single background goroutine owns the
// stdout pipe so PortRead's timeout wrapper never issues concurrent
// reads against it.
func NewSSHPort(session *ssh.Session, remoteCmd string) (*SSHPort, error) {
	stdin, err := session.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}
	if err := session.Start(remoteCmd); err != nil {
		stdin.Close()
		return nil, err
	}
	p := &SSHPort{
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		chunks:  make(chan readResult, 32),
	}
	go p.pump()
	return p, nil
}

// pump continuously reads from stdout and forwards each chunk, so
// PortRead can apply a timeout without racing a fresh goroutine
// against the previous read.
func (p *SSHPort) pump() {
	buf := make([]byte, 4096)
	for {
		n, err := p.stdout.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			p.chunks <- readResult{data: data}
		}
		if err != nil {
			p.chunks <- readResult{err: err}
			return
		}
	}
}

// PortIO writes send, then reads into recv within timeout.
func (p *SSHPort) PortIO(send, recv []byte, timeout time.Duration) (written, read int, err error) {
	if len(send) > 0 {
		written, err = p.stdin.Write(send)
		if err != nil {
			return written, 0, err
		}
	}
	read, err = p.PortRead(recv, timeout)
	return written, read, err
}

// PortRead reads into recv within timeout, returning 0 bytes rather
// than an error on timeout, matching the other adapters' contract.
func (p *SSHPort) PortRead(recv []byte, timeout time.Duration) (int, error) {
	if len(recv) == 0 {
		return 0, nil
	}
	if len(p.leftover) > 0 {
		n := copy(recv, p.leftover)
		p.leftover = p.leftover[n:]
		return n, nil
	}

	select {
	case r := <-p.chunks:
		if r.err != nil {
			return 0, r.err
		}
		n := copy(recv, r.data)
		if n < len(r.data) {
			p.leftover = r.data[n:]
		}
		return n, nil
	case <-time.After(timeout):
		return 0, nil
	}
}

// Close closes the stdin pipe and the underlying SSH session.
func (p *SSHPort) Close() error {
	stdinErr := p.stdin.Close()
	sessErr := p.session.Close()
	if stdinErr != nil {
		return stdinErr
	}
	return sessErr
}
