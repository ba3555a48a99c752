package port

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeDeadlineRW is a minimal deadlineReadWriter for exercising ioPort
// without a real file descriptor.
type fakeDeadlineRW struct {
	written  []byte
	toRead   []byte
	readErr  error
	deadline time.Time
	timeout  bool
}

func (f *fakeDeadlineRW) Write(p []byte) (int, error) {
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakeDeadlineRW) Read(p []byte) (int, error) {
	if f.timeout {
		return 0, fakeTimeoutErr{}
	}
	if f.readErr != nil {
		return 0, f.readErr
	}
	n := copy(p, f.toRead)
	f.toRead = f.toRead[n:]
	return n, nil
}

func (f *fakeDeadlineRW) SetReadDeadline(t time.Time) error {
	f.deadline = t
	return nil
}

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool { return true }

func TestIoPortWritesThenReads(t *testing.T) {
	rw := &fakeDeadlineRW{toRead: []byte("reply")}
	p := &ioPort{rw: rw}

	written, read, err := p.PortIO([]byte("hello"), make([]byte, 16), time.Second)
	require.NoError(t, err)
	require.Equal(t, 5, written)
	require.Equal(t, 5, read)
	require.Equal(t, "hello", string(rw.written))
}

func TestIoPortTimeoutIsNotAnError(t *testing.T) {
	rw := &fakeDeadlineRW{timeout: true}
	p := &ioPort{rw: rw}

	n, err := p.PortRead(make([]byte, 16), 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestIoPortNonTimeoutErrorPropagates(t *testing.T) {
	rw := &fakeDeadlineRW{readErr: errors.New("device gone")}
	p := &ioPort{rw: rw}

	_, err := p.PortRead(make([]byte, 16), time.Second)
	require.Error(t, err)
}

func TestIoPortZeroLengthReadSkipsDeadline(t *testing.T) {
	rw := &fakeDeadlineRW{}
	p := &ioPort{rw: rw}

	n, err := p.PortRead(nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.True(t, rw.deadline.IsZero(), "zero-length read must not touch the deadline")
}

func TestIoPortNonPositiveTimeoutPollsWithoutBlocking(t *testing.T) {
	rw := &fakeDeadlineRW{toRead: []byte("x")}
	p := &ioPort{rw: rw}

	before := time.Now()
	n, err := p.PortRead(make([]byte, 4), 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.False(t, rw.deadline.After(before.Add(time.Millisecond)))
}
