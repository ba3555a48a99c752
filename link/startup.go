package link

import (
	"context"
	"encoding/binary"
)

// minPacketSize is the floor the allocation-shrink loop in Start will
// not go below.
const minPacketSize = 200

// Start performs the SYNC handshake: each side repeatedly
// sends a SYNC packet announcing its packet size and window, until it
// either receives the peer's SYNC or exhausts SyncRetries. Both sides
// send concurrently with the same retry loop; there is no dedicated
// initiator, matching the cooperative single-threaded model.
func (l *Link) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return NewError(ErrProtocol, "link already started")
	}

	frame := make([]byte, EncodedLen(3))
	encodeSync(frame, l.caller, l.cfg.PacketSize, l.cfg.Window)

	scratch := make([]byte, EncodedLen(3)+headerSize)

	var gotSync bool
	for attempt := 0; attempt <= l.cfg.SyncRetries && !gotSync; attempt++ {
		select {
		case <-ctx.Done():
			return NewError(ErrClosed, "context cancelled during startup")
		default:
		}

		_, n, err := l.port.PortIO(frame, scratch, l.cfg.SyncTimeout)
		if err != nil {
			return NewPacketError(ErrIO, err.Error(), PacketSync)
		}
		if n == 0 {
			l.logger.Debugf("startup: no reply on attempt %d/%d", attempt, l.cfg.SyncRetries)
			continue
		}

		remotePacketSize, remoteWindow, ok := scanForSync(scratch[:n])
		if !ok {
			continue
		}
		gotSync = true

		if l.cfg.RemotePacketSize != 0 {
			l.remotePacketSize = l.cfg.RemotePacketSize
		} else {
			l.remotePacketSize = remotePacketSize
		}
		if l.cfg.RemoteWindow != 0 {
			l.remoteWindow = l.cfg.RemoteWindow
		} else {
			l.remoteWindow = remoteWindow
		}
	}

	if !gotSync {
		return NewPacketError(ErrTimeout, "no SYNC reply from peer", PacketSync)
	}

	if err := l.allocateSendBuffers(l.remotePacketSize); err != nil {
		return err
	}

	l.started = true
	l.startupDone = true
	l.logger.WithField("remote_packet_size", l.remotePacketSize).
		WithField("remote_window", l.remoteWindow).
		Infof("link startup complete")
	return nil
}

// encodeSync writes a full SYNC frame (header, 3-byte announcement
// payload, CRC trailer) into buf.
func encodeSync(buf []byte, caller bool, packetSize, window int) {
	h := Header{Type: PacketSync, Caller: caller, Length: 3}
	h.encode(buf)
	payload := buf[headerSize : headerSize+3]
	binary.BigEndian.PutUint16(payload[0:2], uint16(packetSize))
	payload[2] = byte(window)
	crc := payloadCRC(payload, nil)
	binary.BigEndian.PutUint32(buf[headerSize+3:], crc)
}

// scanForSync hunts for an intro byte and a well-formed SYNC packet
// within buf, the way the steady-state decoder hunts for
// resynchronization points. It tolerates leading noise.
func scanForSync(buf []byte) (packetSize, window int, ok bool) {
	for i := 0; i+headerSize <= len(buf); i++ {
		if buf[i] != introByte {
			continue
		}
		hdr := buf[i : i+headerSize]
		if headerCheck(hdr[1:5]) != hdr[5] {
			continue
		}
		h := decodeHeader(hdr)
		if h.Type != PacketSync || h.Length != 3 {
			continue
		}
		end := i + headerSize + 3 + trailerSize
		if end > len(buf) {
			continue
		}
		payload := buf[i+headerSize : i+headerSize+3]
		wantCRC := payloadCRC(payload, nil)
		gotCRC := binary.BigEndian.Uint32(buf[i+headerSize+3 : end])
		if wantCRC != gotCRC {
			continue
		}
		return int(binary.BigEndian.Uint16(payload[0:2])), int(payload[2]), true
	}
	return 0, 0, false
}

// allocateSendBuffers sizes the 32 send-buffer slots for the given
// packet size, halving and retrying down to minPacketSize on
// allocation failure before giving up.
func (l *Link) allocateSendBuffers(packetSize int) (err error) {
	size := packetSize
	for size >= minPacketSize {
		if ok := tryAllocate(&l.sendBuffers, size); ok {
			l.remotePacketSize = size
			return nil
		}
		size /= 2
	}
	return NewError(ErrIO, "cannot allocate send buffers at any size down to floor")
}

// tryAllocate attempts to size every send slot's backing array,
// recovering from an allocation panic the way this protocol's C-derived
// allocation-failure path expects a recoverable error instead of a
// crash.
func tryAllocate(slots *[SeqModulo]outSlot, size int) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	for i := range slots {
		slots[i].encoded = make([]byte, EncodedLen(size))
		slots[i].inUse = false
	}
	return true
}
