package session

import (
	"io"
	"os"
)

// FileIO abstracts the filesystem operations a transfer needs, the
// same nil-means-default pattern Callbacks uses, but promoted to a
// first-class interface so a caller can swap in an in-memory or
// staged filesystem for tests.
type FileIO interface {
	Open(name string) (io.ReadCloser, os.FileInfo, error)
	Create(name string, mode os.FileMode) (io.WriteCloser, error)
}

// osFileIO is the default FileIO, backed directly by package os.
type osFileIO struct{}

// DefaultFileIO returns the os-backed FileIO used when a Session is
// constructed without an explicit one.
func DefaultFileIO() FileIO { return osFileIO{} }

func (osFileIO) Open(name string) (io.ReadCloser, os.FileInfo, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

func (osFileIO) Create(name string, mode os.FileMode) (io.WriteCloser, error) {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return nil, err
	}
	return f, nil
}
