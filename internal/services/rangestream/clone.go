package rangestream

import (
	"io"
	"sync/atomic"
)

// Clone hands out a second handle over the same cursor and connection.
// Only one clone may be live at a time; closing it releases the lease but
// leaves the stream open. A second Clone while one is live fails with
// ErrInvalidOperation.
func (s *Stream) Clone() (io.ReadSeekCloser, error) {
	if s.closed {
		return nil, invalidOperation("clone after close")
	}
	if !s.cloned.CompareAndSwap(false, true) {
		return nil, invalidOperation("stream already has a live clone")
	}
	return &clone{stream: s}, nil
}

type clone struct {
	stream   *Stream
	released atomic.Bool
}

func (c *clone) Read(p []byte) (int, error) {
	if c.released.Load() {
		return 0, invalidOperation("read from released clone")
	}
	return c.stream.Read(p)
}

func (c *clone) Seek(offset int64, whence int) (int64, error) {
	if c.released.Load() {
		return 0, invalidOperation("seek on released clone")
	}
	return c.stream.Seek(offset, whence)
}

func (c *clone) Close() error {
	if c.released.CompareAndSwap(false, true) {
		c.stream.cloned.Store(false)
	}
	return nil
}
