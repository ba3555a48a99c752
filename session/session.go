package session

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/uucpi/uucpi/link"
)

// Session drives the UUCP command grammar over a *link.Link: it is
// the DataSink the link layer calls into, and it owns the queue of
// commands the link has reassembled from the DATA channel.
type Session struct {
	mu sync.Mutex

	lnk       *link.Link
	fio       FileIO
	callbacks *Callbacks
	logger    link.Logger

	master bool // this side initiates work when true

	pendingCmds []Command
	cmdBuf      []byte

	recvFile     io.WriteCloser
	recvTransfer *Transfer
	recvStart    time.Time
	recvOffset   int64
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithCallbacks sets the session's event callbacks.
func WithCallbacks(cb *Callbacks) Option {
	return func(s *Session) { s.callbacks = mergeCallbacks(cb) }
}

// WithFileIO overrides the default os-backed FileIO.
func WithFileIO(fio FileIO) Option {
	return func(s *Session) { s.fio = fio }
}

// WithLogger sets the Logger used for session-layer diagnostics.
func WithLogger(l link.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New constructs a Session bound to an already-constructed link.Link.
// master identifies which of the two roles this side plays for the
// current work queue: the master drives requests, the slave answers them.
func New(lnk *link.Link, master bool, opts ...Option) *Session {
	s := &Session{
		lnk:       lnk,
		fio:       DefaultFileIO(),
		callbacks: defaultCallbacks(),
		logger:    link.NoopLogger{},
		master:    master,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetCmd returns the next reassembled command, driving the link's
// steady-state pump until one becomes available. Commands only ever
// arrive as a side effect of decoding DATA packets.
func (s *Session) GetCmd(ctx context.Context) (Command, error) {
	for {
		s.mu.Lock()
		if len(s.pendingCmds) > 0 {
			cmd := s.pendingCmds[0]
			s.pendingCmds = s.pendingCmds[1:]
			s.mu.Unlock()
			return cmd, nil
		}
		s.mu.Unlock()

		if err := s.lnk.Pump(ctx); err != nil {
			return Command{}, err
		}
	}
}

// SendCommand marshals and transmits cmd over the link's DATA channel.
func (s *Session) SendCommand(ctx context.Context, cmd Command) error {
	return s.lnk.SendCmd(ctx, cmd.String())
}

// RequestSend asks the peer for permission to send t, and classifies
// the response as accepted, retryable, or discardable.
func (s *Session) RequestSend(ctx context.Context, t *Transfer) (Outcome, error) {
	req := NewSendRequest(t.LocalFile, t.RemoteFile, t.User, t.Options, t.TempFile, t.Mode, t.Notify, t.Size)
	if err := s.SendCommand(ctx, req); err != nil {
		return OutcomeDiscard, err
	}
	reply, err := s.GetCmd(ctx)
	if err != nil {
		return OutcomeDiscard, err
	}
	return ClassifyResponse(reply.Verb), nil
}

// RequestReceive asks the peer for permission to receive t. A "RY"
// acceptance carries the mode of the file the peer is about to send,
// which this fills into t.Mode (falling back to 0666 when a peer
// replies bare "RY" with no mode, matching a lenient counterpart).
func (s *Session) RequestReceive(ctx context.Context, t *Transfer) (Outcome, error) {
	req := NewReceiveRequest(t.LocalFile, t.RemoteFile, t.User, t.Options, t.Size)
	if err := s.SendCommand(ctx, req); err != nil {
		return OutcomeDiscard, err
	}
	reply, err := s.GetCmd(ctx)
	if err != nil {
		return OutcomeDiscard, err
	}
	if reply.Verb == VerbReceiveOK {
		t.Mode = reply.ReceiveOKMode()
		if t.Mode == 0 {
			t.Mode = 0666
		}
	}
	return ClassifyResponse(reply.Verb), nil
}

// PerformSend streams r's contents to the peer as DATA packets, sized
// to whatever GetSpace currently offers, followed by a zero-length
// DATA marking end of file, and waits for the peer's CY/CN5 completion
// verdict.
func (s *Session) PerformSend(ctx context.Context, t *Transfer, r io.Reader) error {
	start := time.Now()
	if uint32(t.Offset) != s.lnk.SendOffset() {
		if err := s.lnk.SendPos(ctx, uint32(t.Offset)); err != nil {
			return err
		}
	}
	for {
		space := s.lnk.GetSpace()
		n, err := r.Read(space)
		if n > 0 {
			if sendErr := s.lnk.SendData(ctx, n); sendErr != nil {
				return sendErr
			}
			s.mu.Lock()
			t.BytesSent += int64(n)
			s.mu.Unlock()
			s.callbacks.OnProgress(t)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return NewError(ErrFileIO, err.Error())
		}
	}
	if err := s.lnk.SendData(ctx, 0); err != nil {
		return err
	}

	reply, err := s.GetCmd(ctx)
	if err != nil {
		return err
	}
	if reply.Verb != VerbComplete {
		t.ReceivedError = NewError(ErrRejected, "peer reported transfer failure: "+reply.String())
	}
	s.callbacks.OnTransferComplete(t, time.Since(start))
	if t.ReceivedError != nil {
		return t.ReceivedError
	}
	if t.Size > 0 && !t.Done() {
		s.logger.Infof("session: send of %s completed at %d bytes, short of the declared %d", t.LocalFile, t.BytesSent, t.Size)
	}
	return nil
}

// ReceiveFile opens t's local file, hands control to OnData for the
// duration of the transfer (driven by repeated Pump calls), and sends
// the completion verdict once the link signals end of file.
func (s *Session) ReceiveFile(ctx context.Context, t *Transfer) error {
	f, err := s.fio.Create(t.LocalFile, t.Mode)
	if err != nil {
		return NewError(ErrFileIO, err.Error())
	}

	s.mu.Lock()
	s.recvFile = f
	s.recvTransfer = t
	s.recvStart = time.Now()
	s.recvOffset = t.Offset
	s.mu.Unlock()

	for {
		s.mu.Lock()
		stillOpen := s.recvFile != nil
		s.mu.Unlock()
		if !stillOpen {
			break
		}
		if err := s.lnk.Pump(ctx); err != nil {
			return err
		}
	}

	if t.WriteFailed {
		return s.SendCommand(ctx, Command{Verb: VerbCompleteError})
	}
	return s.SendCommand(ctx, Command{Verb: VerbComplete})
}

// HandleExecRequest answers an incoming "X" command by asking the
// OnExecRequest callback whether to accept it, then replying XY/XN.
func (s *Session) HandleExecRequest(ctx context.Context, cmd Command) error {
	accept, err := s.callbacks.OnExecRequest(cmd.Field(0), cmd.Field(1))
	if err != nil {
		return err
	}
	if accept {
		return s.SendCommand(ctx, Command{Verb: VerbExecOK})
	}
	return s.SendCommand(ctx, Command{Verb: VerbExecDenied})
}

// HandleSendRequest answers an incoming "S" command — the peer asking
// to send us a file — by consulting OnSendRequest and replying SY or
// a discard-class SN2, then, on acceptance, receiving the file.
func (s *Session) HandleSendRequest(ctx context.Context, cmd Command) error {
	from, to, user, options, temp, mode, notify, size := cmd.ParseSendRequest()
	t := &Transfer{
		Role:       RoleReceiver,
		LocalFile:  to,
		RemoteFile: from,
		User:       user,
		Options:    options,
		TempFile:   temp,
		Mode:       mode,
		Notify:     notify,
		Size:       size,
	}
	if t.Mode == 0 {
		t.Mode = 0666
	}

	accept, err := s.callbacks.OnSendRequest(t)
	if err != nil {
		return err
	}
	if !accept {
		return s.SendCommand(ctx, Command{Verb: VerbSendDeferred})
	}
	if err := s.SendCommand(ctx, Command{Verb: VerbSendOK}); err != nil {
		return err
	}
	return s.ReceiveFile(ctx, t)
}

// HandleReceiveRequest answers an incoming "R" command — the peer
// asking to receive a file from us — by consulting OnReceiveRequest
// and replying RY (carrying the file's mode) or a discard-class RN2,
// then, on acceptance, sending the file.
func (s *Session) HandleReceiveRequest(ctx context.Context, cmd Command) error {
	from, to, user, options, size := cmd.ParseReceiveRequest()
	t := &Transfer{
		Role:       RoleSender,
		LocalFile:  from,
		RemoteFile: to,
		User:       user,
		Options:    options,
		Size:       size,
	}

	accept, err := s.callbacks.OnReceiveRequest(t)
	if err != nil {
		return err
	}
	if !accept {
		return s.SendCommand(ctx, Command{Verb: VerbReceiveDeferred})
	}

	r, info, err := s.fio.Open(t.LocalFile)
	if err != nil {
		return s.SendCommand(ctx, Command{Verb: VerbReceiveDeferred})
	}
	defer r.Close()
	t.Mode = info.Mode()
	t.Size = info.Size()

	if err := s.SendCommand(ctx, NewReceiveOK(t.Mode)); err != nil {
		return err
	}
	return s.PerformSend(ctx, t, r)
}

// Hangup performs the three-way hangup handshake as the side that
// initiates it: send H, wait for the peer's echoing HY, echo it back,
// then wait for the peer's closing HY before tearing the link down.
// A HN reply means the peer still has queued work; this side must
// keep servicing commands rather than hang up.
func (s *Session) Hangup(ctx context.Context) (bool, error) {
	if err := s.SendCommand(ctx, NewHangup()); err != nil {
		return false, err
	}
	reply, err := s.GetCmd(ctx)
	if err != nil {
		return false, err
	}
	switch reply.Verb {
	case VerbHangupOK:
		if err := s.SendCommand(ctx, Command{Verb: VerbHangupOK}); err != nil {
			return false, err
		}
		confirm, err := s.GetCmd(ctx)
		if err != nil {
			return false, err
		}
		if confirm.Verb != VerbHangupOK {
			return false, NewError(ErrGrammar, "unexpected reply confirming hangup: "+confirm.String())
		}
		s.callbacks.OnHangup(s.master)
		return true, nil
	case VerbHangupBusy:
		// Acting as master and getting a
		// busy/continue reply is logged and the handshake continues
		// rather than inferring extra semantics.
		s.logger.Infof("hangup reply received while acting as master, continuing")
		return false, nil
	default:
		return false, NewError(ErrGrammar, "unexpected reply to hangup: "+reply.String())
	}
}

// HandleHangup answers an incoming "H" as the passive side of the
// three-way handshake: reply HY, wait for the initiator's echoed HY,
// then send the closing HY. Returns true once the link should be torn
// down.
func (s *Session) HandleHangup(ctx context.Context) (bool, error) {
	if err := s.SendCommand(ctx, Command{Verb: VerbHangupOK}); err != nil {
		return false, err
	}
	echo, err := s.GetCmd(ctx)
	if err != nil {
		return false, err
	}
	if echo.Verb != VerbHangupOK {
		return false, NewError(ErrGrammar, "unexpected reply echoing hangup: "+echo.String())
	}
	if err := s.SendCommand(ctx, Command{Verb: VerbHangupOK}); err != nil {
		return false, err
	}
	s.callbacks.OnHangup(s.master)
	return true, nil
}
