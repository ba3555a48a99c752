package session

import "os"

// Role identifies which side of a single file transfer this process
// is playing.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
	RoleExec
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	case RoleExec:
		return "exec"
	default:
		return "unknown"
	}
}

// Transfer holds the state of one in-flight or completed file
// transfer or exec request (session-layer state, one
// instance per active work item rather than a single global record).
type Transfer struct {
	Role Role

	LocalFile  string
	RemoteFile string
	User       string
	Options    string

	Size int64
	Mode os.FileMode

	// Offset is the byte position a send should resume from. Zero for
	// a normal from-scratch transfer. When it differs from the link's
	// current send position, PerformSend emits an explicit SendPos
	// ahead of the first DATA packet.
	Offset int64

	// TempFile, Notify, and the requesting user's original -options
	// string mirror the wire command's extra fields, carried here so
	// a receiver can report them back or act on them (temp-file
	// naming, completion notification).
	TempFile string
	Notify   string

	BytesSent     int64
	BytesReceived int64

	// ReceivedError records a failure the peer reported for this
	// transfer: PerformSend sets it when the completion reply is
	// anything other than CY.
	ReceivedError error

	// WriteFailed is set when a local write during ReceiveFile fails.
	// The transfer keeps draining incoming DATA to keep the link
	// alive, and ReceiveFile reports CN5 instead of CY at end of file.
	WriteFailed bool
}

// Done reports whether the transfer's byte counters indicate its
// expected size has been reached. Used only when Size is known in
// advance (it isn't for exec output).
func (t *Transfer) Done() bool {
	if t.Size <= 0 {
		return false
	}
	switch t.Role {
	case RoleSender:
		return t.BytesSent >= t.Size
	case RoleReceiver:
		return t.BytesReceived >= t.Size
	default:
		return false
	}
}
