package link

import (
	"context"
	"sync"
	"time"
)

// Port is the external byte-stream collaborator: a raw
// duplex link such as a serial line, modem, or pseudo-terminal. The
// link layer is the only consumer of this interface; concrete
// adapters live in package port.
type Port interface {
	// PortIO writes send and, opportunistically, reads into recv
	// within the given timeout. It returns the number of bytes
	// written and read. A partial read is not an error; PortIO must
	// not block past timeout.
	PortIO(send []byte, recv []byte, timeout time.Duration) (written, read int, err error)

	// PortRead reads into recv within the given timeout, returning
	// the number of bytes read. It must not block past timeout.
	PortRead(recv []byte, timeout time.Duration) (n int, err error)
}

// DataSink is the session-layer upcall target. The link
// layer calls OnData for every DATA packet it delivers, in sequence
// order, passing up to two contiguous spans to account for a ring
// wrap. A zero-length call (both spans empty) signals end-of-file to
// the session layer.
type DataSink interface {
	OnData(spans [2][]byte) error
}

// PositionSink is an optional DataSink extension. A sink that cares
// about the peer resetting its write position (an SPOS packet)
// implements this to seek before the next OnData call delivers
// payload at the new offset.
type PositionSink interface {
	OnPosition(pos uint32) error
}

// outSlot is one of the 32 owning send-buffer slots. It holds header
// + payload + trailer capacity so GetSpace can hand the session a
// pointer straight into it; encoded is the slice actually sent,
// kept until acked so it can be retransmitted verbatim except for its
// piggybacked ack and header check.
type outSlot struct {
	inUse   bool
	typ     PacketType
	seq     byte
	length  int
	encoded []byte
}

// inSlot holds a received, sequenced packet stored out of order until
// it becomes contiguous.
type inSlot struct {
	occupied bool
	typ      PacketType
	payload  []byte
}

// Link is the owned per-session link-layer state (no
// process-wide singleton — the caller threads one *Link explicitly).
type Link struct {
	mu sync.Mutex

	port   Port
	sink   DataSink
	cfg    *Config
	logger Logger
	caller bool

	sendSeq   byte
	recvSeq   byte
	localAck  byte
	remoteAck byte

	sendPos uint32
	recvPos uint32

	sendBuffers [SeqModulo]outSlot
	recvBuffers [SeqModulo]inSlot
	naked       [SeqModulo]bool

	remotePacketSize int
	remoteWindow     int

	badHdr        int
	badCksum      int
	badOrder      int
	remoteRejects int
	sentPackets   int
	receivedPkts  int
	resent        int

	closing bool
	started bool

	rx *ring

	shortReadStreak int
	retryCount      int
	unackedRecv     int

	startupDone bool
}

// recvBufCapacity is the minimum ring size: at least
// twice the largest possible packet plus slack.
const recvBufCapacity = 2*(headerSize+MaxPayload+trailerSize) + 64

// New constructs a Link. caller must be true for exactly one of the
// two peers on a given byte port.
func New(p Port, sink DataSink, caller bool, opts ...Option) *Link {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Link{
		port:             p,
		sink:             sink,
		cfg:              cfg,
		logger:           cfg.Logger,
		caller:           caller,
		sendSeq:          1, // sequence 0 is reserved
		remotePacketSize: cfg.PacketSize,
		remoteWindow:     cfg.Window,
		rx:               newRing(recvBufCapacity),
	}
}

// SetSink sets (or replaces) the DataSink the link delivers DATA
// payloads to. It exists because the session layer that implements
// DataSink typically needs a *Link to be constructed first, creating
// a construction-order cycle; New accepts a nil sink for exactly this
// reason, with the caller expected to call SetSink before Start.
func (l *Link) SetSink(sink DataSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = sink
}

// Stats is a snapshot of the link's error and traffic counters, useful
// for tests and operator diagnostics.
type Stats struct {
	BadHeader     int
	BadChecksum   int
	BadOrder      int
	RemoteRejects int
	Sent          int
	Received      int
	Resent        int
}

// Stats returns a snapshot of the link's counters.
func (l *Link) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		BadHeader:     l.badHdr,
		BadChecksum:   l.badCksum,
		BadOrder:      l.badOrder,
		RemoteRejects: l.remoteRejects,
		Sent:          l.sentPackets,
		Received:      l.receivedPkts,
		Resent:        l.resent,
	}
}

// Shutdown destroys the link state Start constructed: it emits a
// best-effort CLOSE (errors are not returned — a peer that already
// hung up or a transport that's already gone shouldn't block
// teardown), then drops the send/receive buffer arrays and resets the
// ring so a Link that outlives its last use doesn't pin packet-sized
// memory. Start must be called again before the link is usable.
//
// Shutdown does not wait for the peer to echo the CLOSE; the
// caller's own hangup handshake is what guarantees the peer has
// already drained everything it's going to send.
func (l *Link) Shutdown(ctx context.Context) error {
	_ = l.SendClose(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sendBuffers = [SeqModulo]outSlot{}
	l.recvBuffers = [SeqModulo]inSlot{}
	l.naked = [SeqModulo]bool{}
	l.rx = newRing(recvBufCapacity)
	l.started = false
	return nil
}
