// Package memory provides pooled buffers for reading bounded HTTP bodies.
package memory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrTooLarge is returned by ReadAll when the input exceeds the limit.
var ErrTooLarge = errors.New("body exceeds size limit")

// BufferPool manages a pool of reusable bytes.Buffer instances
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool creates a new buffer pool
func NewBufferPool() *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				return &bytes.Buffer{}
			},
		},
	}
}

// Get retrieves a buffer from the pool
func (bp *BufferPool) Get() *bytes.Buffer {
	buf := bp.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns a buffer to the pool for reuse
func (bp *BufferPool) Put(buf *bytes.Buffer) {
	// Only pool buffers under a reasonable size to prevent memory bloat
	if buf.Cap() <= 64*1024 {
		bp.pool.Put(buf)
	}
}

var defaultPool = NewBufferPool()

// ReadAll reads r up to limit bytes using a pooled buffer and returns a copy
// of the data. A limit <= 0 disables the cap.
func ReadAll(r io.Reader, limit int64) ([]byte, error) {
	return defaultPool.ReadAll(r, limit)
}

// ReadAll reads r up to limit bytes using a buffer from bp.
func (bp *BufferPool) ReadAll(r io.Reader, limit int64) ([]byte, error) {
	buf := bp.Get()
	defer bp.Put(buf)

	src := r
	if limit > 0 {
		// One extra byte tells "exactly limit" apart from "over limit".
		src = io.LimitReader(r, limit+1)
	}
	if _, err := buf.ReadFrom(src); err != nil {
		return nil, err
	}
	if limit > 0 && int64(buf.Len()) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
