package buffer

import "github.com/valyala/bytebufferpool"

// Pool recycles Buffer backing storage across connections using
// bytebufferpool's size-classed allocator, the same pooling primitive
// fasthttp-style servers use to keep per-connection buffers off the
// garbage collector. A Pool is safe for concurrent use; in the reactor both
// Get (on accept) and Put (on close) are called from the I/O goroutine.
type Pool struct {
	raw bytebufferpool.Pool
}

// NewPool returns a ready-to-use buffer Pool.
func NewPool() *Pool {
	return &Pool{}
}

// Get returns a Buffer ready for use, reusing a previously Put backing
// array when one of sufficient size is available.
func (p *Pool) Get() *Buffer {
	bb := p.raw.Get()
	storage := bb.B[:cap(bb.B)]
	if len(storage) < initialCapacity {
		storage = make([]byte, initialCapacity)
	}
	return &Buffer{storage: storage}
}

// Put returns a Buffer's backing storage to the pool for reuse. The
// Buffer itself must not be used again after this call.
func (p *Pool) Put(b *Buffer) {
	if b == nil {
		return
	}
	p.raw.Put(&bytebufferpool.ByteBuffer{B: b.storage[:0]})
	b.storage = nil
	b.read = 0
	b.write = 0
}
