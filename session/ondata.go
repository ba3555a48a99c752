package session

import (
	"bytes"
	"io"
)

// OnData implements link.DataSink. Every DATA packet the
// link layer delivers, in order, arrives here as up to two contiguous
// spans (a ring wrap splits a packet's payload in two). A call with
// both spans empty signals end of file for whichever file transfer is
// currently receiving.
//
// Which behavior applies — appending to an open receive file, or
// accumulating command bytes until a NUL terminator — is decided
// entirely by whether s.recvFile is currently set: the link layer has
// no notion of "command" versus "file data", only the session layer
// does.
func (s *Session) OnData(spans [2][]byte) error {
	s.mu.Lock()
	receiving := s.recvFile != nil
	s.mu.Unlock()

	if len(spans[0]) == 0 && len(spans[1]) == 0 {
		if receiving {
			return s.finishReceive()
		}
		return nil
	}

	for _, span := range spans {
		if len(span) == 0 {
			continue
		}
		s.mu.Lock()
		receiving = s.recvFile != nil
		s.mu.Unlock()

		if receiving {
			if err := s.appendFileSpan(span); err != nil {
				return err
			}
			continue
		}
		if err := s.absorbCommandBytes(span); err != nil {
			return err
		}
	}
	return nil
}

// OnPosition implements link.PositionSink: an incoming SPOS packet
// resets where the next OnData span lands in the receive file, for a
// resumed or randomly-placed transfer. A file whose FileIO can't seek
// just keeps writing sequentially from wherever it already is.
func (s *Session) OnPosition(pos uint32) error {
	s.mu.Lock()
	s.recvOffset = int64(pos)
	s.mu.Unlock()
	return nil
}

// appendFileSpan writes span to the open receive file at the tracked
// receive offset and updates its Transfer's byte counter and progress
// callback. A write failure does not propagate: it marks the transfer
// failed so ReceiveFile reports CN5 at end of file, but the link keeps
// draining incoming DATA so the session doesn't tear down mid-transfer
// over one bad write.
func (s *Session) appendFileSpan(span []byte) error {
	s.mu.Lock()
	file := s.recvFile
	t := s.recvTransfer
	offset := s.recvOffset
	alreadyFailed := t.WriteFailed
	s.mu.Unlock()

	if alreadyFailed {
		return nil
	}

	if seeker, ok := file.(io.Seeker); ok {
		if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
			s.mu.Lock()
			t.WriteFailed = true
			s.mu.Unlock()
			s.callbacks.OnError(NewError(ErrFileIO, err.Error()), "receive seek")
			return nil
		}
	}

	n, err := file.Write(span)
	if err != nil {
		s.mu.Lock()
		t.WriteFailed = true
		s.mu.Unlock()
		s.callbacks.OnError(NewError(ErrFileIO, err.Error()), "receive write")
		return nil
	}
	s.mu.Lock()
	s.recvOffset += int64(n)
	t.BytesReceived += int64(n)
	s.mu.Unlock()
	s.callbacks.OnProgress(t)
	return nil
}

// finishReceive closes the receive file, fires completion callbacks,
// and clears receive state so subsequent DATA is treated as command
// bytes again. A close failure marks the transfer failed the same way
// a write failure does, rather than tearing the link down.
func (s *Session) finishReceive() error {
	s.mu.Lock()
	file := s.recvFile
	t := s.recvTransfer
	s.recvFile = nil
	s.recvTransfer = nil
	s.mu.Unlock()

	if file != nil {
		if err := file.Close(); err != nil {
			s.mu.Lock()
			t.WriteFailed = true
			s.mu.Unlock()
			s.callbacks.OnError(NewError(ErrFileIO, err.Error()), "receive close")
		}
	}
	if !t.WriteFailed && t.Size > 0 && !t.Done() {
		s.logger.Infof("session: receive of %s completed at %d bytes, short of the declared %d", t.LocalFile, t.BytesReceived, t.Size)
	}
	s.callbacks.OnTransferComplete(t, 0)
	return nil
}

// absorbCommandBytes appends span to the pending command buffer,
// splitting out and queuing a Command for each embedded NUL
// terminator found. Commands are NUL-terminated ASCII on
// the same DATA channel as file content).
func (s *Session) absorbCommandBytes(span []byte) error {
	s.mu.Lock()
	s.cmdBuf = append(s.cmdBuf, span...)
	buf := s.cmdBuf
	s.mu.Unlock()

	for {
		idx := bytes.IndexByte(buf, 0)
		if idx < 0 {
			break
		}
		line := string(buf[:idx])
		buf = buf[idx+1:]

		if line != "" {
			cmd, err := ParseCommand(line)
			if err != nil {
				s.logger.Errorf("session: dropping malformed command %q: %v", line, err)
			} else {
				s.mu.Lock()
				s.pendingCmds = append(s.pendingCmds, cmd)
				s.mu.Unlock()
			}
		}
	}

	s.mu.Lock()
	s.cmdBuf = append([]byte(nil), buf...)
	s.mu.Unlock()
	return nil
}
