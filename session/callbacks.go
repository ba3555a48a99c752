package session

import "time"

// Callbacks provides hooks for session-layer events. All callbacks
// are optional; nil callbacks use default behavior (teacher's
// zmodem.Callbacks shape, fields renamed to the UUCP send/receive/exec
// vocabulary).
type Callbacks struct {
	// OnSendRequest is called when the peer asks to send us a file.
	// Return true to accept. If accept is false, a deferred (discard)
	// response is sent.
	OnSendRequest func(t *Transfer) (accept bool, err error)

	// OnReceiveRequest is called when the peer asks to receive a file
	// from us.
	OnReceiveRequest func(t *Transfer) (accept bool, err error)

	// OnExecRequest is called when the peer asks us to run a command.
	// Returning a nil error and true accepts the request; the command
	// itself is not executed here, only approved.
	OnExecRequest func(cmdLine, user string) (accept bool, err error)

	// OnProgress is called as bytes move for a transfer.
	OnProgress func(t *Transfer)

	// OnTransferComplete is called when a transfer finishes, whether
	// by success or by a failure recorded on t.ReceivedError (a send
	// the peer reported as failed) or t.WriteFailed (a receive whose
	// local write failed).
	OnTransferComplete func(t *Transfer, duration time.Duration)

	// OnError is called on a non-fatal error. Return true to retry
	// the operation that produced it, if the caller supports retry.
	OnError func(err error, context string) bool

	// OnHangup is called when either side's hangup is observed.
	// asMaster reports whether this side is the session master.
	OnHangup func(asMaster bool)
}

func defaultCallbacks() *Callbacks {
	return &Callbacks{
		OnSendRequest:    func(*Transfer) (bool, error) { return true, nil },
		OnReceiveRequest: func(*Transfer) (bool, error) { return true, nil },
		OnExecRequest:    func(string, string) (bool, error) { return false, nil },
		OnProgress:       func(*Transfer) {},
		OnTransferComplete: func(*Transfer, time.Duration) {},
		OnError:          func(error, string) bool { return false },
		OnHangup:         func(bool) {},
	}
}

func mergeCallbacks(user *Callbacks) *Callbacks {
	if user == nil {
		return defaultCallbacks()
	}
	def := defaultCallbacks()
	result := &Callbacks{}

	if user.OnSendRequest != nil {
		result.OnSendRequest = user.OnSendRequest
	} else {
		result.OnSendRequest = def.OnSendRequest
	}
	if user.OnReceiveRequest != nil {
		result.OnReceiveRequest = user.OnReceiveRequest
	} else {
		result.OnReceiveRequest = def.OnReceiveRequest
	}
	if user.OnExecRequest != nil {
		result.OnExecRequest = user.OnExecRequest
	} else {
		result.OnExecRequest = def.OnExecRequest
	}
	if user.OnProgress != nil {
		result.OnProgress = user.OnProgress
	} else {
		result.OnProgress = def.OnProgress
	}
	if user.OnTransferComplete != nil {
		result.OnTransferComplete = user.OnTransferComplete
	} else {
		result.OnTransferComplete = def.OnTransferComplete
	}
	if user.OnError != nil {
		result.OnError = user.OnError
	} else {
		result.OnError = def.OnError
	}
	if user.OnHangup != nil {
		result.OnHangup = user.OnHangup
	} else {
		result.OnHangup = def.OnHangup
	}
	return result
}
