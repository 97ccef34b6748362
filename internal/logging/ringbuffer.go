package logging

import (
	"os"
	"sync"
)

// RingBuffer keeps the newest log bytes in memory so a SIGUSR1 crash
// dump can show the runup to a wedge even when debug.log has rotated.
// It implements io.Writer; once full, the oldest bytes go first.
type RingBuffer struct {
	mu      sync.Mutex
	buf     []byte
	w       int
	wrapped bool
}

// NewRingBuffer allocates a buffer holding the last size bytes written.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1024 * 1024
	}
	return &RingBuffer{buf: make([]byte, size)}
}

// Write never fails and never blocks on capacity: a write larger than
// the whole buffer keeps only its tail.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	size := len(rb.buf)

	if n >= size {
		copy(rb.buf, p[n-size:])
		rb.w = 0
		rb.wrapped = true
		return n, nil
	}

	first := copy(rb.buf[rb.w:], p)
	if first < n {
		// Ran off the end; the rest lands at the front.
		copy(rb.buf, p[first:])
		rb.wrapped = true
	}
	rb.w = (rb.w + n) % size
	if rb.w == 0 && first == n {
		rb.wrapped = true
	}
	return n, nil
}

// Bytes returns a copy of the contents, oldest first.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.wrapped {
		return append([]byte(nil), rb.buf[:rb.w]...)
	}
	out := make([]byte, 0, len(rb.buf))
	out = append(out, rb.buf[rb.w:]...)
	out = append(out, rb.buf[:rb.w]...)
	return out
}

// DumpToFile writes the contents to path. Log lines carry session and
// window names, so the dump is owner-readable only.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o600)
}
