package link

import "context"

// Pump drives one step of the link's steady-state loop: deliver a
// buffered or freshly read packet, or retransmit/NAK on timeout. The
// session layer calls this in a loop while waiting for its next
// upcall or queued command, since the link owns no goroutine of its
// own (a cooperative single-threaded model).
func (l *Link) Pump(ctx context.Context) error {
	return l.waitForPacket(ctx)
}

// waitForPacket blocks until it has processed one incoming packet,
// retransmitting or NAKing on timeout. It returns an error when retries
// are exhausted, the error budget trips, ctx is cancelled, the port
// fails, or processing the packet fails (including the ErrClosed a
// CLOSE packet produces). It is the core of the steady-state loop
// that both SendData (waiting for window space) and the session layer
// (waiting for the next upcall) drive.
func (l *Link) waitForPacket(ctx context.Context) error {
	for {
		if d, ok := l.decodeNext(); ok {
			l.mu.Lock()
			l.retryCount = 0
			l.mu.Unlock()
			return l.processPacket(d)
		}

		select {
		case <-ctx.Done():
			return NewError(ErrClosed, "context cancelled")
		default:
		}

		n, err := l.readIntoRing(l.cfg.Timeout)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}

		l.mu.Lock()
		streak := l.shortReadStreak
		l.mu.Unlock()
		if streak > 2 {
			// Several consecutive short reads in a row: nudge the
			// ring forward one byte in case a stuck partial intro
			// sequence is blocking resynchronization.
			l.rx.Discard(min(1, l.rx.Len()))
		}

		if err := l.onTimeout(ctx); err != nil {
			return err
		}
	}
}

// onTimeout counts one timed-out wait in l.retryCount (which
// waitForPacket resets whenever a packet decodes), checks the error
// budget, and then retransmits or NAKs.
func (l *Link) onTimeout(ctx context.Context) error {
	l.mu.Lock()
	l.retryCount++
	retryCount := l.retryCount
	budgetErr := l.checkErrorsLocked()
	l.mu.Unlock()

	if budgetErr != nil {
		return budgetErr
	}
	if retryCount > l.cfg.Retries {
		return NewError(ErrTimeout, "exhausted retries waiting for packet")
	}
	return l.retransmitOldestOrNak(ctx)
}

// checkErrorsLocked applies the error-budget formula. Caller
// must hold l.mu.
func (l *Link) checkErrorsLocked() error {
	decayed := l.receivedPkts / l.cfg.ErrorDecay
	total := l.badHdr + l.badCksum + l.badOrder + l.remoteRejects
	if total-decayed > l.cfg.MaxErrors {
		return NewError(ErrBudget, "error budget exceeded")
	}
	return nil
}

// retransmitOldestOrNak resends the oldest unacked outstanding packet
// if one exists, or otherwise asks the peer to resend by NAKing our
// next expected sequence.
func (l *Link) retransmitOldestOrNak(ctx context.Context) error {
	l.mu.Lock()
	outstanding := NextSeq(l.remoteAck) != l.sendSeq
	oldest := NextSeq(l.remoteAck)
	expected := NextSeq(l.recvSeq)
	l.mu.Unlock()

	if outstanding {
		return l.retransmitSlot(ctx, oldest)
	}
	return l.sendNak(ctx, expected)
}

// retransmitFrom resends every currently outstanding send slot from
// seq through sendSeq-1, in response to a NAK naming seq as the
// peer's next expected sequence.
func (l *Link) retransmitFrom(seq byte) error {
	l.mu.Lock()
	sendSeq := l.sendSeq
	l.mu.Unlock()

	for s := seq; s != sendSeq; s = NextSeq(s) {
		if err := l.retransmitSlot(context.Background(), s); err != nil {
			return err
		}
	}
	return nil
}

// retransmitSlot resends the frame stored in send slot seq, refreshing
// its piggybacked ack and header check byte to the current recvSeq
// before resending; the payload and its CRC are untouched.
func (l *Link) retransmitSlot(ctx context.Context, seq byte) error {
	l.mu.Lock()
	slot := &l.sendBuffers[seq]
	if !slot.inUse {
		l.mu.Unlock()
		return nil
	}
	frame := slot.encoded[:EncodedLen(slot.length)]
	frame[2] = (l.recvSeq << 3) | (frame[2] & 0x07)
	frame[5] = headerCheck(frame[1:5])
	l.localAck = l.recvSeq
	l.unackedRecv = 0
	l.resent++
	l.mu.Unlock()

	return l.writeFrame(ctx, frame)
}

// sendNak transmits a standalone NAK naming seq as the sequence this
// side still needs.
func (l *Link) sendNak(ctx context.Context, seq byte) error {
	return l.sendControl(ctx, PacketNak, seq)
}

// sendAck transmits a standalone ACK, used when half the receive
// window's worth of packets have been delivered without a data send
// of our own to piggyback the ack on.
func (l *Link) sendAck(ctx context.Context) error {
	l.mu.Lock()
	seq := l.recvSeq
	l.mu.Unlock()
	return l.sendControl(ctx, PacketAck, seq)
}

// maybeSendAck counts an in-order delivery and, once half of the
// peer's advertised window has gone by without a data send of our own
// to piggyback the ack on, sends a standalone ACK so the peer's window
// keeps advancing.
func (l *Link) maybeSendAck(ctx context.Context) error {
	l.mu.Lock()
	l.unackedRecv++
	threshold := l.remoteWindow / 2
	if threshold < 1 {
		threshold = 1
	}
	due := l.unackedRecv >= threshold
	if due {
		l.unackedRecv = 0
		// Everything through recvSeq has now been both received and
		// is about to be acked, so any outstanding NAK-suppression
		// flags for sequences up to it are stale.
		for s := byte(1); s < SeqModulo; s++ {
			if SeqDiff(l.recvSeq, s) < SeqModulo/2 {
				l.naked[s] = false
			}
		}
	}
	l.mu.Unlock()

	if !due {
		return nil
	}
	return l.sendAck(ctx)
}

// sendControl builds and sends a zero-length control packet (ACK/NAK)
// carrying ack in its remote field: the piggybacked ack for an ACK,
// the requested sequence for a NAK.
func (l *Link) sendControl(ctx context.Context, typ PacketType, ack byte) error {
	buf := make([]byte, headerSize)
	h := Header{Ack: ack, Type: typ, Caller: l.caller}
	h.encode(buf)
	return l.writeFrame(ctx, buf)
}

