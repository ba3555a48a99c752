package link

import "context"

// processPacket applies one decoded packet to link state:
// updates the piggybacked ack window, then dispatches by type. A NAK's
// remote field names the sequence it asks for rather than an ack, so
// it is not applied as one. processPacket takes l.mu itself for the
// ack bookkeeping; the DataSink upcall is made without the lock held.
func (l *Link) processPacket(d decoded) error {
	l.mu.Lock()
	l.receivedPkts++
	if d.hdr.Type != PacketNak {
		l.applyAck(d.hdr.Ack)
	}

	switch d.hdr.Type {
	case PacketAck:
		l.mu.Unlock()
		return nil

	case PacketNak:
		l.remoteRejects++
		l.mu.Unlock()
		return l.retransmitFrom(d.hdr.Ack)

	case PacketSync:
		// A SYNC after startup means the peer restarted negotiation;
		// Renegotiation is out of scope here, so this is
		// logged and otherwise ignored.
		l.logger.Infof("received SYNC after startup, ignoring")
		l.mu.Unlock()
		return nil

	case PacketData, PacketSpos, PacketClose:
		return l.dispatchSequenced(d)

	default:
		l.badHdr++
		l.mu.Unlock()
		return nil
	}
}

// applyAck advances remoteAck to ack and frees any send slots it now
// covers. Caller must hold l.mu.
func (l *Link) applyAck(ack byte) {
	if ack == 0 {
		return
	}
	for SeqDiff(ack, l.remoteAck) > 0 && l.remoteAck != ack {
		l.remoteAck = NextSeq(l.remoteAck)
		l.sendBuffers[l.remoteAck].inUse = false
	}
}

// dispatchSequenced handles DATA/SPOS/CLOSE, which all carry a
// sequence number and must be delivered in order. Out of
// order arrivals are buffered; a gap triggers a NAK for the next
// expected sequence.
func (l *Link) dispatchSequenced(d decoded) error {
	expected := NextSeq(l.recvSeq)

	switch {
	case d.hdr.Seq == expected:
		l.recvSeq = expected
		l.naked[expected] = false
		l.mu.Unlock()
		if err := l.deliver(d); err != nil {
			return err
		}
		if err := l.drainBuffered(); err != nil {
			return err
		}
		return l.maybeSendAck(context.Background())

	case SeqDiff(l.recvSeq, d.hdr.Seq) < SeqModulo/2:
		// Already delivered; a duplicate, most likely our ack was
		// lost. No action beyond the ack bookkeeping already applied.
		l.mu.Unlock()
		return nil

	default:
		l.badOrder++
		// A sequence more than our announced window ahead of recvSeq
		// isn't one the peer was entitled to send yet; drop it instead
		// of occupying a buffer slot for it.
		withinWindow := int(SeqDiff(d.hdr.Seq, l.recvSeq)) <= l.cfg.Window
		if withinWindow && !l.recvBuffers[d.hdr.Seq].occupied {
			payload := make([]byte, len(d.payload))
			copy(payload, d.payload)
			l.recvBuffers[d.hdr.Seq] = inSlot{occupied: true, typ: d.hdr.Type, payload: payload}
		}
		alreadyNaked := l.naked[expected]
		if !alreadyNaked {
			l.naked[expected] = true
		}
		l.mu.Unlock()
		if alreadyNaked {
			return nil
		}
		return l.sendNak(context.Background(), expected)
	}
}

// drainBuffered delivers any packets in recvBuffers that have become
// contiguous following an in-order delivery.
func (l *Link) drainBuffered() error {
	for {
		l.mu.Lock()
		next := NextSeq(l.recvSeq)
		slot := l.recvBuffers[next]
		if !slot.occupied {
			l.mu.Unlock()
			return nil
		}
		l.recvBuffers[next] = inSlot{}
		l.recvSeq = next
		l.naked[next] = false
		l.mu.Unlock()

		if err := l.deliver(decoded{hdr: Header{Type: slot.typ, Seq: next, Length: len(slot.payload)}, payload: slot.payload}); err != nil {
			return err
		}
	}
}

// deliver routes one in-order packet's payload to the session layer,
// or updates recv_pos for SPOS, or handles CLOSE teardown. Must be
// called without l.mu held.
func (l *Link) deliver(d decoded) error {
	switch d.hdr.Type {
	case PacketData:
		l.mu.Lock()
		l.recvPos += uint32(len(d.payload))
		l.mu.Unlock()
		return l.sink.OnData([2][]byte{d.payload, nil})

	case PacketSpos:
		if len(d.payload) == 4 {
			pos := uint32(d.payload[0])<<24 | uint32(d.payload[1])<<16 | uint32(d.payload[2])<<8 | uint32(d.payload[3])
			l.mu.Lock()
			l.recvPos = pos
			l.mu.Unlock()
			if ps, ok := l.sink.(PositionSink); ok {
				return ps.OnPosition(pos)
			}
		}
		return nil

	case PacketClose:
		l.mu.Lock()
		initiatedLocally := l.closing
		l.closing = true
		l.mu.Unlock()
		if initiatedLocally {
			return NewError(ErrClosed, "peer confirmed close, exiting cleanly")
		}
		l.logger.Infof("peer initiated unexpected close")
		return NewError(ErrClosed, "peer initiated unexpected close")
	}
	return nil
}
