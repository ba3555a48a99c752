package link

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// corruptingPort wraps a *memPort and flips one payload byte the
// first time it sees a DATA packet, forcing the peer's CRC check to
// reject it and the sender's retransmit path to recover it.
type corruptingPort struct {
	*memPort
	mu        sync.Mutex
	corrupted bool
}

func (p *corruptingPort) PortIO(send, recv []byte, timeout time.Duration) (int, int, error) {
	if len(send) >= headerSize {
		h := decodeHeader(send)
		p.mu.Lock()
		trigger := !p.corrupted && h.Type == PacketData && h.Length > 0
		if trigger {
			p.corrupted = true
		}
		p.mu.Unlock()
		if trigger {
			corrupt := append([]byte(nil), send...)
			corrupt[headerSize] ^= 0xFF
			return p.memPort.PortIO(corrupt, recv, timeout)
		}
	}
	return p.memPort.PortIO(send, recv, timeout)
}

func startPair(t *testing.T, pa, pb Port, sinkB DataSink) (*Link, *Link) {
	t.Helper()
	la := New(pa, nil, true, WithTimeouts(300*time.Millisecond, 20, 300*time.Millisecond, 20))
	lb := New(pb, sinkB, false, WithTimeouts(300*time.Millisecond, 20, 300*time.Millisecond, 20))

	var errA, errB error
	done := make(chan struct{})
	go func() { errA = la.Start(context.Background()) }()
	go func() { errB = lb.Start(context.Background()); close(done) }()
	<-done
	require.NoError(t, errA)
	require.NoError(t, errB)
	return la, lb
}

func (c *collectingSink) eofReached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eof
}

func (c *collectingSink) concat() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []byte
	for _, s := range c.received {
		out = append(out, s...)
	}
	return out
}

// TestScenarioLargeTransferPacketCounts sends a multi-packet file over
// a clean link and checks that sent/received packet counts agree and
// nothing was retransmitted.
func TestScenarioLargeTransferPacketCounts(t *testing.T) {
	pa, pb := newMemPortPair()
	sinkB := &collectingSink{}
	la, lb := startPair(t, pa, pb, sinkB)

	const chunkSize = 1024
	const chunks = 16
	source := make([]byte, chunkSize*chunks)
	for i := range source {
		source[i] = byte(i % 256)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sendDone := make(chan error, 1)
	go func() {
		for off := 0; off < len(source); off += chunkSize {
			space := la.GetSpace()
			n := copy(space, source[off:off+chunkSize])
			if err := la.SendData(ctx, n); err != nil {
				sendDone <- err
				return
			}
		}
		sendDone <- la.SendData(ctx, 0)
	}()

	for !sinkB.eofReached() {
		require.NoError(t, lb.Pump(ctx))
	}
	require.NoError(t, <-sendDone)

	require.Equal(t, source, sinkB.concat())

	statsA := la.Stats()
	statsB := lb.Stats()
	require.Equal(t, chunks+1, statsA.Sent)
	require.Equal(t, chunks+1, statsB.Received)
	require.Zero(t, statsA.Resent)
}

// TestScenarioCorruptionRecoversViaRetransmit injects one corrupted
// DATA packet and checks the transfer still completes byte-for-byte,
// with the checksum failure and its recovering retransmit both
// counted. Recovery comes from B's NAK for the missing sequence, which
// A answers by retransmitting (A's retransmit-on-timeout path would
// resend it too), not from window-full backpressure, since this
// transfer never fills the window; A keeps servicing its
// own link (in the same goroutine that drove the sends, matching the
// single-threaded-per-link model) until B reports end of file.
func TestScenarioCorruptionRecoversViaRetransmit(t *testing.T) {
	pa, pb := newMemPortPair()
	cpa := &corruptingPort{memPort: pa}
	sinkB := &collectingSink{}
	la, lb := startPair(t, cpa, pb, sinkB)

	const chunkSize = 256
	const chunks = 4
	source := make([]byte, chunkSize*chunks)
	for i := range source {
		source[i] = byte(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sendDone := make(chan error, 1)
	go func() {
		for off := 0; off < len(source); off += chunkSize {
			space := la.GetSpace()
			n := copy(space, source[off:off+chunkSize])
			if err := la.SendData(ctx, n); err != nil {
				sendDone <- err
				return
			}
		}
		if err := la.SendData(ctx, 0); err != nil {
			sendDone <- err
			return
		}
		for {
			select {
			case <-ctx.Done():
				sendDone <- nil
				return
			default:
			}
			if err := la.Pump(ctx); err != nil {
				sendDone <- nil
				return
			}
		}
	}()

	for !sinkB.eofReached() {
		require.NoError(t, lb.Pump(ctx))
	}
	cancel()
	<-sendDone

	require.Equal(t, source, sinkB.concat())

	statsB := lb.Stats()
	statsA := la.Stats()
	require.Greater(t, statsB.BadChecksum, 0)
	require.GreaterOrEqual(t, statsA.Resent, statsB.BadChecksum)
}
