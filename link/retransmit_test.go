package link

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLinkPair(t *testing.T, sinkB DataSink) (*Link, *Link) {
	t.Helper()
	pa, pb := newMemPortPair()
	la := New(pa, nil, true, WithTimeouts(200*time.Millisecond, 20, 200*time.Millisecond, 20))
	lb := New(pb, sinkB, false, WithTimeouts(200*time.Millisecond, 20, 200*time.Millisecond, 20))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var errA, errB error
	done := make(chan struct{})
	go func() { errA = la.Start(ctx) }()
	go func() { errB = lb.Start(ctx); close(done) }()
	<-done
	require.NoError(t, errA)
	require.NoError(t, errB)
	return la, lb
}

func TestCheckErrorsLockedTripsBudget(t *testing.T) {
	l := &Link{cfg: DefaultConfig()}
	l.cfg.MaxErrors = 3
	l.cfg.ErrorDecay = 100

	l.badHdr = 4
	require.NoError(t, l.checkErrorsLocked())

	l.badCksum = 1
	err := l.checkErrorsLocked()
	require.Error(t, err)
	require.True(t, IsBudget(err))
}

func TestCheckErrorsLockedDecaysWithReceivedTraffic(t *testing.T) {
	l := &Link{cfg: DefaultConfig()}
	l.cfg.MaxErrors = 1
	l.cfg.ErrorDecay = 10

	l.badHdr = 3
	l.receivedPkts = 30 // decays 3, netting exactly at the budget
	require.NoError(t, l.checkErrorsLocked())
}

func TestApplyAckFreesSendSlots(t *testing.T) {
	l := &Link{cfg: DefaultConfig()}
	l.sendBuffers[1].inUse = true
	l.sendBuffers[2].inUse = true
	l.remoteAck = 0

	l.applyAck(2)

	require.Equal(t, byte(2), l.remoteAck)
	require.False(t, l.sendBuffers[1].inUse)
	require.False(t, l.sendBuffers[2].inUse)
}

func TestApplyAckZeroIsNoOp(t *testing.T) {
	l := &Link{cfg: DefaultConfig()}
	l.remoteAck = 5
	l.applyAck(0)
	require.Equal(t, byte(5), l.remoteAck)
}

func TestDispatchSequencedBuffersGapAndDrainsInOrder(t *testing.T) {
	sink := &collectingSink{}
	l := New(nullPortForTest{}, sink, false)

	// recvSeq starts at 0, so 1 is expected first. Deliver 2 before 1:
	// it should be buffered and provoke a NAK naming 1 (best-effort,
	// not asserted here since nullPortForTest discards writes).
	err := l.processPacket(decoded{hdr: Header{Type: PacketData, Seq: 2, Length: 3}, payload: []byte("two")})
	require.NoError(t, err)
	require.Equal(t, byte(0), l.recvSeq)
	require.True(t, l.recvBuffers[2].occupied)
	require.Empty(t, sink.received)

	// Now deliver 1: it completes in-order, and drainBuffered should
	// immediately release the buffered 2 right behind it.
	err = l.processPacket(decoded{hdr: Header{Type: PacketData, Seq: 1, Length: 3}, payload: []byte("one")})
	require.NoError(t, err)
	require.Equal(t, byte(2), l.recvSeq)
	require.False(t, l.recvBuffers[2].occupied)

	require.Len(t, sink.received, 2)
	require.Equal(t, "one", string(sink.received[0]))
	require.Equal(t, "two", string(sink.received[1]))
}

func TestDispatchSequencedIgnoresDuplicate(t *testing.T) {
	sink := &collectingSink{}
	l := New(nullPortForTest{}, sink, false)
	l.recvSeq = 3

	err := l.processPacket(decoded{hdr: Header{Type: PacketData, Seq: 2, Length: 1}, payload: []byte("x")})
	require.NoError(t, err)
	require.Equal(t, byte(3), l.recvSeq)
	require.Empty(t, sink.received)
}

func TestRetransmitFromResendsOutstandingSlots(t *testing.T) {
	la, lb := newTestLinkPair(t, &collectingSink{})
	_ = lb
	ctx := context.Background()

	space := la.GetSpace()
	n := copy(space, []byte("first"))
	require.NoError(t, la.SendData(ctx, n))

	// Simulate the peer NAKing for sequence 1: la must resend it.
	require.NoError(t, la.retransmitFrom(1))
	require.Equal(t, 1, la.resent)
}

func TestMaybeSendAckFiresAtHalfWindow(t *testing.T) {
	la, lb := newTestLinkPair(t, nil)
	_ = lb

	// The trigger is a fraction of the peer's announced window, not
	// this side's own; set them apart to prove that.
	la.cfg.Window = 100
	la.remoteWindow = 4 // threshold = 2
	require.NoError(t, la.maybeSendAck(context.Background()))
	require.Equal(t, 1, la.unackedRecv)
	require.NoError(t, la.maybeSendAck(context.Background()))
	require.Equal(t, 0, la.unackedRecv, "counter resets once the threshold is crossed")
}

// nullPortForTest satisfies Port without ever producing bytes; used
// for dispatch-level tests that never touch the wire.
type nullPortForTest struct{}

func (nullPortForTest) PortIO(send, recv []byte, timeout time.Duration) (int, int, error) {
	return len(send), 0, nil
}

func (nullPortForTest) PortRead(recv []byte, timeout time.Duration) (int, error) {
	return 0, nil
}
