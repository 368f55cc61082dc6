// Package buffer implements the growable read/write byte buffer that sits
// between a socket and the HTTP/1.1 parser.
package buffer

import (
	"errors"

	"golang.org/x/sys/unix"
)

// initialCapacity is the default backing-array size for a freshly
// allocated Buffer. Matches the original HeapTimer sibling's Buffer(1024).
const initialCapacity = 1024

// scatterExtra is the size of the stack-local extension used by ReadFd to
// guarantee forward progress in a single syscall even when the writable
// region is smaller than the burst the kernel has queued.
const scatterExtra = 64 * 1024

// Buffer is a contiguous byte region with two cursors, read and write,
// such that 0 <= read <= write <= len(storage). The region [read, write) is
// readable, [write, len(storage)) is writable, and [0, read) is
// prependable and reusable via compaction.
//
// A Buffer is owned by exactly one Connection and is never touched
// concurrently.
type Buffer struct {
	storage []byte
	read    int
	write   int
}

// New returns an empty Buffer with a default initial capacity.
func New() *Buffer {
	return NewSize(initialCapacity)
}

// NewSize returns an empty Buffer with the given initial capacity.
func NewSize(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{storage: make([]byte, capacity)}
}

// Readable returns the number of bytes available to read.
func (b *Buffer) Readable() int { return b.write - b.read }

// Writable returns the number of bytes that can be written without growing.
func (b *Buffer) Writable() int { return len(b.storage) - b.write }

// Prependable returns the number of bytes before the read cursor.
func (b *Buffer) Prependable() int { return b.read }

// Peek returns a view of the readable region. The slice is stable until
// the next mutating call (Retrieve*, Append, ReadFd).
func (b *Buffer) Peek() []byte {
	return b.storage[b.read:b.write]
}

// Retrieve advances the read cursor by n. It panics if n exceeds the
// readable length, mirroring the original's assert(len <= ReadableBytes()).
func (b *Buffer) Retrieve(n int) {
	if n > b.Readable() {
		panic("buffer: Retrieve past write cursor")
	}
	b.read += n
}

// RetrieveUntil advances the read cursor up to (but not past) end, an
// index into the slice returned by Peek's underlying storage. It is
// equivalent to Retrieve(end - read).
func (b *Buffer) RetrieveUntil(end int) {
	if end < b.read {
		panic("buffer: RetrieveUntil before read cursor")
	}
	b.Retrieve(end - b.read)
}

// RetrieveAll resets both cursors to zero, discarding all buffered data.
func (b *Buffer) RetrieveAll() {
	b.read = 0
	b.write = 0
}

// RetrieveAllToBytes returns a copy of the readable region and empties the
// buffer.
func (b *Buffer) RetrieveAllToBytes() []byte {
	out := make([]byte, b.Readable())
	copy(out, b.Peek())
	b.RetrieveAll()
	return out
}

// Append copies data into the writable region, growing the buffer first
// if necessary.
func (b *Buffer) Append(data []byte) {
	b.ensureWritable(len(data))
	copy(b.storage[b.write:], data)
	b.write += len(data)
}

// AppendString is a convenience wrapper for response/header assembly,
// where most appended fragments are string literals.
func (b *Buffer) AppendString(s string) {
	b.ensureWritable(len(s))
	copy(b.storage[b.write:], s)
	b.write += len(s)
}

// ensureWritable guarantees Writable() >= need, compacting the readable
// region to offset 0 when the combined writable+prependable space
// suffices, or growing the backing array otherwise. Mirrors
// Buffer::MakeSpace_ in the original C++ implementation.
func (b *Buffer) ensureWritable(need int) {
	if b.Writable() >= need {
		return
	}
	if b.Writable()+b.Prependable() < need {
		grown := make([]byte, b.write+need+1)
		copy(grown, b.storage[:b.write])
		b.storage = grown
		return
	}
	readable := b.Readable()
	copy(b.storage, b.storage[b.read:b.write])
	b.read = 0
	b.write = readable
}

// ErrConnClosed is returned by ReadFd when the peer performed an orderly
// shutdown (read returned 0).
var ErrConnClosed = errors.New("buffer: connection closed by peer")

// ReadFd performs a single scatter read from fd into the writable region,
// followed by a 64KiB stack extension so that one syscall makes forward
// progress regardless of burst size relative to the current writable
// space. At most one growth occurs per call. Never loops.
func (b *Buffer) ReadFd(fd int) (int, error) {
	writable := b.Writable()
	var extra [scatterExtra]byte
	iovs := [][]byte{b.storage[b.write:], extra[:]}

	n, err := unix.Readv(fd, iovs)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrConnClosed
	}
	if n <= writable {
		b.write += n
	} else {
		b.write = len(b.storage)
		b.Append(extra[:n-writable])
	}
	return n, nil
}

// WriteFd issues a single write of the readable region to fd and advances
// the read cursor by however much was accepted.
func (b *Buffer) WriteFd(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if n > 0 {
		b.read += n
	}
	return n, err
}
