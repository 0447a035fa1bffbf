// Package output captures a running task's stdout/stderr into bounded,
// in-memory byte buffers and flushes them to durable storage once the task
// reaches a terminal state.
package output

import (
	"sync"

	"github.com/haasonsaas/taskd/pkg/domain"
)

// buffer accumulates chunks for a single (taskID, stream) pair up to a byte
// limit. It rejects whole chunks that would cross the limit rather than
// truncating mid-chunk, so every captured byte is part of a complete write.
type buffer struct {
	mu       sync.Mutex
	limit    int64
	size     int64
	chunks   []string
	overflow bool
}

func newBuffer(limit int64) *buffer {
	return &buffer{limit: limit}
}

// append adds chunk if it fits within the remaining capacity. It reports
// ErrCodeOutputBufferLimitExceeded, unchanged, if the chunk would overflow;
// the buffer retains everything captured before the rejected chunk.
func (b *buffer) append(chunk string) *domain.Error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.overflow {
		return domain.NewError(domain.ErrCodeOutputBufferLimitExceeded, "output buffer already exceeded its limit")
	}
	if b.size+int64(len(chunk)) > b.limit {
		b.overflow = true
		return domain.NewError(domain.ErrCodeOutputBufferLimitExceeded, "output chunk would exceed the buffer limit")
	}

	b.chunks = append(b.chunks, chunk)
	b.size += int64(len(chunk))
	return nil
}

// snapshot returns a copy of the captured chunks and total size.
func (b *buffer) snapshot() ([]string, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.chunks...), b.size
}

// tail returns the last n chunks (or all of them if fewer exist).
func (b *buffer) tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n >= len(b.chunks) {
		return append([]string(nil), b.chunks...)
	}
	return append([]string(nil), b.chunks[len(b.chunks)-n:]...)
}
