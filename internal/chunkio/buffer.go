// Package chunkio implements the chunk reader (spec §4.5, component C5): splitting the
// v1 byte stream or each v2 file's byte stream into io_block_size buffers and fanning
// each one out to every registered downstream queue. Grounded in
// original_source/src/v1_chunk_reader.cpp and v2_chunk_reader.cpp for the read/zero-fill
// algorithm, and the teacher's internal/torrent/split_storage.go for joining a
// FileStorage's relative paths against a root directory.
package chunkio

import (
	"sync"
	"sync/atomic"
)

// BufferPool hands out fixed-size, reference-counted buffers (spec §9 "ownership of
// chunk buffers": a shared-ownership arena pool sized to the queue capacity, capping
// resident memory at roughly queue_capacity * io_block_size). Reuses Go's GC instead of
// a hand-rolled arena/free-list — the teacher and every pack repo allocate plain []byte
// slices for I/O rather than a custom allocator, and sync.Pool already gives the
// capped-churn behavior the spec's buffer pool exists for.
type BufferPool struct {
	blockSize int
	pool      sync.Pool
}

// NewBufferPool builds a pool of blockSize-capacity buffers.
func NewBufferPool(blockSize int) *BufferPool {
	p := &BufferPool{blockSize: blockSize}
	p.pool.New = func() any {
		return &Buffer{data: make([]byte, blockSize), pool: p}
	}
	return p
}

// Buffer is a shared, reference-counted chunk buffer. Get() returns one with an implicit
// single reference; callers that fan the same buffer out to additional consumers must
// call Retain() once per extra consumer before handing off the reference, and every
// consumer must call Release() exactly once when done.
type Buffer struct {
	data []byte
	pool *BufferPool
	refs atomic.Int32
}

// Get checks out a buffer sized to the pool's block size, truncated to n bytes, with an
// initial reference count of 1.
func (p *BufferPool) Get(n int) *Buffer {
	b := p.pool.Get().(*Buffer)
	if cap(b.data) < n {
		b.data = make([]byte, n)
	}
	b.data = b.data[:n]
	b.refs.Store(1)
	return b
}

// Bytes returns the buffer's valid data.
func (b *Buffer) Bytes() []byte { return b.data }

// Retain adds n extra references, one per additional consumer that will independently
// call Release.
func (b *Buffer) Retain(n int) { b.refs.Add(int32(n)) }

// Release drops one reference; when the count reaches zero the buffer is returned to its
// pool and must not be read again by the releasing goroutine.
func (b *Buffer) Release() {
	if b.refs.Add(-1) == 0 {
		b.pool.pool.Put(b)
	}
}
