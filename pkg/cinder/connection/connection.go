// Package connection implements the per-socket driver that turns raw
// readable/writable events into parsed requests and assembled responses,
// ported from the original WebServer's HttpConn.
package connection

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/yourusername/cinder/pkg/cinder/buffer"
	"github.com/yourusername/cinder/pkg/cinder/protocol"
)

// Result tells the Reactor what to do with a Connection after an event
// has been handled.
type Result int

const (
	// ResultNone means no state change is needed.
	ResultNone Result = iota
	// ResultNeedsWrite means the caller should arm write interest on Fd.
	ResultNeedsWrite
	// ResultDone means the exchange finished and, if KeepAlive, the
	// connection is reset and ready for another read; the Reactor should
	// re-adjust the idle timer either way.
	ResultDone
	// ResultClose means the connection must be torn down.
	ResultClose
)

// Connection owns one client socket's buffers, request, and response,
// plus the bookkeeping needed to make a stale timer callback a safe
// no-op. Touched by exactly one goroutine at a time: the I/O goroutine
// for OnReadable/OnWritable/OnClose, or the single worker task a
// submitted parse/assemble job runs on — never both concurrently, which
// the Reactor enforces by not rearming read interest until that task
// completes.
type Connection struct {
	Fd int

	SrcDir string

	in  *buffer.Buffer
	out *buffer.Buffer

	Request  *protocol.Request
	Response *protocol.Response

	LastActive time.Time

	// Generation increments every time this Fd slot is reused for a new
	// connection, so a timer callback captured for generation N is a
	// no-op once the slot has moved to generation N+1.
	Generation uint64

	keepAlive bool

	// writeOffset is how many bytes of the current response (headers
	// followed by body) have already been accepted by the kernel,
	// across however many short writev calls it took.
	writeOffset int

	bufPool *buffer.Pool
}

// New returns a Connection ready to drive fd, with fresh buffers and a
// zeroed request/response pair. bufPool is optional; when non-nil the
// in/out buffers are drawn from it (and returned to it by Release)
// instead of allocating fresh backing storage per connection.
func New(fd int, srcDir string, generation uint64, bufPool *buffer.Pool) *Connection {
	in, out := buffer.New(), buffer.New()
	if bufPool != nil {
		in, out = bufPool.Get(), bufPool.Get()
	}
	return &Connection{
		Fd:         fd,
		SrcDir:     srcDir,
		in:         in,
		out:        out,
		Request:    protocol.NewRequest(),
		Response:   protocol.NewResponse(),
		LastActive: time.Now(),
		Generation: generation,
		bufPool:    bufPool,
	}
}

// Release returns this Connection's buffers to the pool they were drawn
// from, if any. Call once, after OnClose, when the Connection is being
// discarded for good.
func (c *Connection) Release() {
	if c.bufPool == nil {
		return
	}
	c.bufPool.Put(c.in)
	c.bufPool.Put(c.out)
	c.in, c.out = nil, nil
}

// OnReadable performs a single scatter read into the inbound buffer.
// Returns ResultClose on EOF/fatal error, and ResultNone otherwise (after
// a successful read, or when the read would block). Whether the buffered
// bytes form a complete request is not decided here: callers should
// follow a successful read with Process.
func (c *Connection) OnReadable() (Result, error) {
	_, err := c.in.ReadFd(c.Fd)
	if err != nil {
		if err == unix.EAGAIN {
			// Level-triggered readiness can be stale by the time the read
			// lands (e.g. another goroutine already drained it); not a
			// real error.
			return ResultNone, nil
		}
		return ResultClose, err
	}
	c.LastActive = time.Now()
	return ResultNone, nil
}

// Process runs the parse→application-logic→assemble pipeline against
// whatever is currently buffered in. It is the unit of work a WorkerPool
// task executes off the I/O goroutine. verify is threaded through to
// Request.Parse for register/login dispatch.
//
// Returns ResultNeedsWrite once a full request has been parsed and its
// response assembled into out, or ResultNone if the buffered bytes do
// not yet form a complete request (the I/O goroutine should wait for
// more readable events), or ResultClose if the response cannot be
// assembled. A malformed request line yields a 400 response with
// keep-alive off and ResultNeedsWrite, so the connection closes once
// that response has been written.
func (c *Connection) Process(verify protocol.Verifier) (Result, error) {
	done, err := c.Request.Parse(c.in, verify)
	if err != nil {
		c.writeBadRequest()
		return ResultNeedsWrite, nil
	}
	if !done {
		return ResultNone, nil
	}

	c.keepAlive = c.Request.IsKeepAlive()
	c.Response.Init(c.SrcDir, c.Request.Path, c.keepAlive, -1)
	if err := c.Response.MakeResponse(c.out); err != nil {
		return ResultClose, err
	}
	return ResultNeedsWrite, nil
}

// writeBadRequest assembles a 400 response from /400.html under SrcDir,
// ignoring whatever path the request named, for requests whose request
// line could not be parsed at all.
func (c *Connection) writeBadRequest() {
	c.keepAlive = false
	c.Response.Init(c.SrcDir, "/400.html", false, 400)
	c.Response.MakeResponse(c.out)
}

// OnWritable issues a single writev covering whatever portion of the
// response (headers, then inline-or-mapped body) remains unsent,
// advances writeOffset by however much the kernel accepted, and reports
// what the Reactor should do next. A short write leaves writeOffset
// partway through the combined region; the next OnWritable resumes from
// there without resending already-acked bytes.
func (c *Connection) OnWritable() (Result, error) {
	inline, mapped := c.Response.Body()
	body := inline
	if len(mapped) > 0 {
		body = mapped
	}
	head := c.out.Peek()

	total := len(head) + len(body)
	if total == 0 || c.writeOffset >= total {
		return c.finishWrite(), nil
	}

	iovs := make([][]byte, 0, 2)
	offset := c.writeOffset
	if offset < len(head) {
		iovs = append(iovs, head[offset:])
		offset = 0
	} else {
		offset -= len(head)
	}
	if offset < len(body) {
		iovs = append(iovs, body[offset:])
	}

	n, err := unix.Writev(c.Fd, iovs)
	if err != nil {
		return ResultClose, err
	}
	c.LastActive = time.Now()
	c.writeOffset += n

	if c.writeOffset >= total {
		c.out.RetrieveAll()
		return c.finishWrite(), nil
	}
	return ResultNeedsWrite, nil
}

func (c *Connection) finishWrite() Result {
	c.Response.Unmap()
	c.writeOffset = 0
	if c.keepAlive {
		c.Request.Reset()
		c.out.RetrieveAll()
		return ResultDone
	}
	return ResultClose
}

// OnClose releases the mapped file region, if any. The Reactor is
// responsible for closing Fd and removing the connection from its
// table and the timer heap; OnClose only releases resources this
// Connection itself owns.
func (c *Connection) OnClose() {
	c.Response.Unmap()
}

// Idle reports whether the connection has been inactive for at least
// timeout.
func (c *Connection) Idle(timeout time.Duration) bool {
	return time.Since(c.LastActive) >= timeout
}
