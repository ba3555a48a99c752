package link

import (
	"context"
	"encoding/binary"
)

// GetSpace returns a slice into the next send slot's backing array,
// sized to the peer's announced packet size, for the caller to fill
// with payload bytes before calling SendData. The returned slice
// aliases the slot directly: no intermediate copy happens
// between GetSpace and SendData.
func (l *Link) GetSpace() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot := &l.sendBuffers[l.sendSeq]
	return slot.encoded[headerSize : headerSize+l.remotePacketSize]
}

// SendData transmits the first n bytes written into the slice most
// recently returned by GetSpace as a DATA packet, blocking until the
// send window has room. n of 0 sends an empty DATA packet,
// which the session layer interprets as end-of-file.
func (l *Link) SendData(ctx context.Context, n int) error {
	if err := l.waitForWindow(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	seq := l.sendSeq
	slot := &l.sendBuffers[seq]
	l.fillDataFrame(slot, PacketData, seq, n)
	frame := slot.encoded[:EncodedLen(n)]
	slot.inUse = true
	slot.typ = PacketData
	slot.seq = seq
	slot.length = n
	l.sentPackets++
	l.sendPos += uint32(n)
	l.sendSeq = NextSeq(seq)
	l.mu.Unlock()

	return l.writeFrame(ctx, frame)
}

// SendPos emits a standalone SPOS packet carrying an absolute byte
// offset, always synchronously ahead of the DATA packets it applies
// to: callers must call SendPos and let it return
// before calling SendData for the corresponding write, which the
// single-threaded call sequence here guarantees without extra
// synchronization.
func (l *Link) SendPos(ctx context.Context, pos uint32) error {
	if err := l.waitForWindow(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	seq := l.sendSeq
	slot := &l.sendBuffers[seq]
	if cap(slot.encoded) < EncodedLen(4) {
		slot.encoded = make([]byte, EncodedLen(l.remotePacketSize))
	}
	binary.BigEndian.PutUint32(slot.encoded[headerSize:headerSize+4], pos)
	l.fillDataFrame(slot, PacketSpos, seq, 4)
	frame := slot.encoded[:EncodedLen(4)]
	slot.inUse = true
	slot.typ = PacketSpos
	slot.seq = seq
	slot.length = 4
	l.sentPackets++
	l.sendPos = pos
	l.sendSeq = NextSeq(seq)
	l.mu.Unlock()

	return l.writeFrame(ctx, frame)
}

// SendOffset returns the byte offset SendData will report as this
// side's next write position, i.e. the value a caller should compare
// its own intended file offset against before deciding whether an
// explicit SendPos is needed.
func (l *Link) SendOffset() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sendPos
}

// SendClose emits a CLOSE packet and marks the link as locally closed,
// so a subsequent CLOSE echoed back by the peer is treated as
// confirmation rather than an unsolicited teardown.
func (l *Link) SendClose(ctx context.Context) error {
	l.mu.Lock()
	seq := l.sendSeq
	slot := &l.sendBuffers[seq]
	l.fillDataFrame(slot, PacketClose, seq, 0)
	frame := slot.encoded[:EncodedLen(0)]
	slot.inUse = true
	slot.typ = PacketClose
	slot.seq = seq
	slot.length = 0
	l.sentPackets++
	l.sendSeq = NextSeq(seq)
	l.closing = true
	l.mu.Unlock()

	return l.writeFrame(ctx, frame)
}

// SendCmd fragments a NUL-terminated session command across as many
// DATA packets as remotePacketSize requires (commands
// travel the same DATA channel as file content; the session layer
// tells them apart by whether a receive file is currently open).
func (l *Link) SendCmd(ctx context.Context, cmd string) error {
	payload := append([]byte(cmd), 0)
	for len(payload) > 0 {
		l.mu.Lock()
		chunk := l.remotePacketSize
		l.mu.Unlock()
		if chunk > len(payload) {
			chunk = len(payload)
		}
		space := l.GetSpace()
		copy(space, payload[:chunk])
		if err := l.SendData(ctx, chunk); err != nil {
			return err
		}
		payload = payload[chunk:]
	}
	return nil
}

// fillDataFrame writes the header and, for nonzero length, the CRC
// trailer for a packet already staged in slot.encoded[headerSize:].
// Caller must hold l.mu.
func (l *Link) fillDataFrame(slot *outSlot, typ PacketType, seq byte, length int) {
	h := Header{
		Seq:    seq,
		Ack:    l.recvSeq,
		Type:   typ,
		Caller: l.caller,
		Length: length,
	}
	h.encode(slot.encoded)
	if length > 0 {
		payload := slot.encoded[headerSize : headerSize+length]
		crc := payloadCRC(payload, nil)
		binary.BigEndian.PutUint32(slot.encoded[headerSize+length:], crc)
	}
	l.localAck = l.recvSeq
	l.unackedRecv = 0
}

// writeFrame hands a fully framed packet to the port. It passes a
// zero-length scratch buffer for the read side: PortIO's read is a
// no-op for every Port implementation in that case, so this call is
// write-only. Whatever the peer has sent back is picked up separately,
// by readIntoRing on the next steady-state pass through waitForPacket.
func (l *Link) writeFrame(ctx context.Context, frame []byte) error {
	scratch := make([]byte, 0)
	_, _, err := l.port.PortIO(frame, scratch, l.cfg.Timeout)
	if err != nil {
		return NewError(ErrIO, err.Error())
	}
	return nil
}

// waitForWindow blocks until fewer than the peer's window size of
// packets are outstanding unacked, servicing incoming
// traffic while it waits so the peer's acks can actually arrive.
func (l *Link) waitForWindow(ctx context.Context) error {
	for {
		l.mu.Lock()
		outstanding := SeqDiff(l.sendSeq, l.remoteAck)
		full := int(outstanding) > l.remoteWindow
		closing := l.closing
		l.mu.Unlock()

		if closing {
			return NewError(ErrClosed, "link is closing")
		}
		if !full {
			return nil
		}
		if err := l.waitForPacket(ctx); err != nil {
			return err
		}
	}
}
