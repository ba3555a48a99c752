package link

import (
	"encoding/binary"
	"time"
)

// decoded is one fully validated packet pulled off the wire.
type decoded struct {
	hdr     Header
	payload []byte // contiguous scratch copy, valid until the next decodeNext call
}

// readIntoRing pulls whatever bytes the port has available into the
// receive ring, respecting the reserved-slot invariant. It
// returns the number of bytes actually appended.
func (l *Link) readIntoRing(timeout time.Duration) (int, error) {
	first, second := l.rx.FreeSpans()
	if len(first) == 0 && len(second) == 0 {
		return 0, nil
	}
	n, err := l.port.PortRead(first, timeout)
	if err != nil {
		return 0, NewError(ErrIO, err.Error())
	}
	if n == len(first) && len(second) > 0 {
		// first span exhausted; opportunistically try the wrap span too.
		n2, err2 := l.port.PortRead(second, 0)
		if err2 == nil {
			n += n2
		}
	}
	l.rx.Advance(n)
	if n < len(first) {
		l.shortReadStreak++
	} else {
		l.shortReadStreak = 0
	}
	return n, nil
}

// decodeNext hunts for the next well-formed packet in the ring,
// discarding noise and corrupt headers as it goes. It
// returns ok=false when the ring doesn't yet hold a complete packet.
func (l *Link) decodeNext() (decoded, bool) {
	for {
		occLen := l.rx.Len()
		if occLen == 0 {
			return decoded{}, false
		}

		introAt := -1
		for i := 0; i < occLen; i++ {
			if l.rx.PeekAt(i) == introByte {
				introAt = i
				break
			}
		}
		if introAt < 0 {
			// No intro byte anywhere in the buffer: all of it is noise.
			l.rx.Discard(occLen)
			return decoded{}, false
		}
		if introAt > 0 {
			l.rx.Discard(introAt)
			occLen -= introAt
		}

		if occLen < headerSize {
			return decoded{}, false
		}

		hdrBuf := make([]byte, headerSize)
		l.rx.CopyOut(hdrBuf, 0, headerSize)
		if headerCheck(hdrBuf[1:5]) != hdrBuf[5] {
			l.badHdr++
			l.rx.Discard(1) // resync past this false intro byte
			continue
		}

		h := decodeHeader(hdrBuf)
		if h.Caller == l.caller {
			// The peer's caller flag must be the opposite of ours;
			// a match means we're seeing a reflection of our own
			// traffic or the two sides were started with the same
			// role. Treat it like any other malformed header.
			l.badHdr++
			l.rx.Discard(1)
			continue
		}
		total := EncodedLen(h.Length)
		if occLen < total {
			return decoded{}, false
		}

		full := make([]byte, total)
		l.rx.CopyOut(full, 0, total)

		if h.Length > 0 {
			payload := full[headerSize : headerSize+h.Length]
			gotCRC := binary.BigEndian.Uint32(full[headerSize+h.Length:])
			if payloadCRC(payload, nil) != gotCRC {
				l.badCksum++
				l.rx.Discard(1)
				continue
			}
		}

		l.rx.Discard(total)
		return decoded{hdr: h, payload: full[headerSize : headerSize+h.Length]}, true
	}
}
