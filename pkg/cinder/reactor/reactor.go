// Package reactor implements the single-goroutine event loop that owns
// the listener, the fd→Connection table, the TimerHeap, and hands
// parse/assemble/database work off to the WorkerPool. It is the Go
// counterpart of the original WebServer's epoller+WebServer event loop,
// generalized to run on epoll (Linux) or kqueue (the BSDs and Darwin).
package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yourusername/cinder/internal/logging"
	"github.com/yourusername/cinder/pkg/cinder/buffer"
	"github.com/yourusername/cinder/pkg/cinder/connection"
	"github.com/yourusername/cinder/pkg/cinder/protocol"
	"github.com/yourusername/cinder/pkg/cinder/timer"
	"github.com/yourusername/cinder/pkg/cinder/workerpool"
)

// maxEventsPerWait bounds how many ready events a single Wait call
// returns, matching gaio's maxEvents batching constant.
const maxEventsPerWait = 1024

// completionQueueSize bounds how many finished worker tasks may be
// pending delivery back to the I/O goroutine before Submit-side
// backpressure would be needed. Generous relative to expected
// concurrency so workers never block writing a completion.
const completionQueueSize = 4096

// Config configures a Reactor.
type Config struct {
	Port        int
	SrcDir      string
	IdleTimeout time.Duration
	Backlog     int
}

// VerifierFunc produces a fresh protocol.Verifier for one request.
// Supplied so Reactor doesn't need to import the auth package directly.
type VerifierFunc func() protocol.Verifier

// completion is how a worker goroutine reports a finished Process call
// back to the I/O goroutine, which alone is allowed to touch the
// connection table, the poller, and the timer heap.
type completion struct {
	fd  int
	gen uint64
	res connection.Result
	err error
}

// Reactor owns the listener, the event-notifier, the fd→Connection
// table, the TimerHeap, and a reference to the WorkerPool. Only the
// goroutine running Run touches the table, the poller, or the timer
// heap; worker goroutines communicate back exclusively through the
// completions channel plus the wake pipe that unblocks Wait.
type Reactor struct {
	cfg Config
	log logging.Logger

	listenFd   int
	actualPort int
	pfd        poller

	wakeRead  int
	wakeWrite int

	conns      map[int]*connection.Connection
	generation map[int]uint64
	bufPool    *buffer.Pool

	timers *timer.Heap
	pool   *workerpool.Pool
	verify VerifierFunc

	completions chan completion
	done        chan struct{}
	ready       chan struct{}
}

// New creates a Reactor bound to cfg.Port but does not start listening;
// call Run to start serving.
func New(cfg Config, log logging.Logger, pool *workerpool.Pool, verify VerifierFunc) *Reactor {
	r := &Reactor{
		cfg:         cfg,
		log:         log,
		conns:       make(map[int]*connection.Connection),
		generation:  make(map[int]uint64),
		bufPool:     buffer.NewPool(),
		pool:        pool,
		verify:      verify,
		completions: make(chan completion, completionQueueSize),
		done:        make(chan struct{}),
		ready:       make(chan struct{}),
	}
	r.timers = timer.New(nil)
	return r
}

// Run opens the listener and the poller, then drives the event loop
// until Stop is called or an unrecoverable error occurs.
func (r *Reactor) Run() error {
	if err := r.listen(); err != nil {
		return fmt.Errorf("reactor: listen: %w", err)
	}
	defer unix.Close(r.listenFd)

	pfd, err := openPoller()
	if err != nil {
		return fmt.Errorf("reactor: open poller: %w", err)
	}
	r.pfd = pfd
	defer pfd.Close()

	if err := r.openWakePipe(); err != nil {
		return fmt.Errorf("reactor: wake pipe: %w", err)
	}
	defer unix.Close(r.wakeRead)
	defer unix.Close(r.wakeWrite)

	if err := r.pfd.Add(r.listenFd, false); err != nil {
		return fmt.Errorf("reactor: register listener: %w", err)
	}
	if err := r.pfd.Add(r.wakeRead, false); err != nil {
		return fmt.Errorf("reactor: register wake pipe: %w", err)
	}
	close(r.ready)

	events := make([]event, 0, maxEventsPerWait)
	for {
		select {
		case <-r.done:
			return nil
		default:
		}

		timeoutMS := r.timers.GetNextTick()
		events = events[:0]
		events, err = r.pfd.Wait(events, clampTimeout(timeoutMS))
		if err != nil {
			return fmt.Errorf("reactor: wait: %w", err)
		}

		for _, ev := range events {
			switch ev.fd {
			case r.listenFd:
				r.acceptLoop()
			case r.wakeRead:
				r.drainWakePipe()
				r.drainCompletions()
			default:
				r.dispatch(ev)
			}
		}
	}
}

// openWakePipe creates the self-pipe used to unblock Wait as soon as a
// worker goroutine finishes a task, so completions are handled promptly
// rather than waiting for the next timer tick or I/O event.
func (r *Reactor) openWakePipe() error {
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		return err
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		return err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		return err
	}
	r.wakeRead = fds[0]
	r.wakeWrite = fds[1]
	return nil
}

func (r *Reactor) wake() {
	var b [1]byte
	unix.Write(r.wakeWrite, b[:])
}

func (r *Reactor) drainWakePipe() {
	var buf [64]byte
	for {
		n, err := unix.Read(r.wakeRead, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// drainCompletions applies every finished worker task queued since the
// last wakeup, running exclusively on the I/O goroutine.
func (r *Reactor) drainCompletions() {
	for {
		select {
		case c := <-r.completions:
			r.applyCompletion(c)
		default:
			return
		}
	}
}

// clampTimeout converts timer.Infinite into a blocking wait and bounds
// everything else to a non-negative millisecond count for the poller.
func clampTimeout(ms int64) int {
	if ms == timer.Infinite || ms < 0 {
		return -1
	}
	return int(ms)
}

// Stop unblocks Run at the next loop iteration. Safe to call once.
func (r *Reactor) Stop() {
	close(r.done)
	r.wake()
}

// listen creates the non-blocking listening socket with SO_REUSEADDR,
// per spec.md §6's external-interface requirements.
func (r *Reactor) listen() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return err
	}

	addr := &unix.SockaddrInet4{Port: r.cfg.Port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return err
	}
	backlog := r.cfg.Backlog
	if backlog <= 0 {
		backlog = 1024
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return err
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return err
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		r.actualPort = in4.Port
	}

	r.listenFd = fd
	return nil
}

// Port returns the bound listening port. Only meaningful after Ready
// has been signaled (e.g. for tests using Config.Port == 0 to bind an
// ephemeral port).
func (r *Reactor) Port() int { return r.actualPort }

// Ready is closed once the listener and poller are set up and the
// event loop is about to start waiting for events.
func (r *Reactor) Ready() <-chan struct{} { return r.ready }

// acceptLoop drains the accept queue until it would block, registering
// each new connection for read interest and an idle timer. On EMFILE/
// ENFILE (the process is out of descriptors) it stops accepting this
// round and logs a warning, per spec.md §4.8's backpressure note,
// rather than busy-looping or crashing.
func (r *Reactor) acceptLoop() {
	for {
		fd, _, err := unix.Accept4(r.listenFd, unix.SOCK_NONBLOCK)
		if err != nil {
			switch err {
			case unix.EAGAIN:
			case unix.EMFILE, unix.ENFILE:
				r.log.Errorf("reactor: descriptor limit reached, pausing accepts: %v", err)
			default:
				r.log.Errorf("reactor: accept: %v", err)
			}
			return
		}

		gen := r.generation[fd] + 1
		r.generation[fd] = gen
		conn := connection.New(fd, r.cfg.SrcDir, gen, r.bufPool)
		r.conns[fd] = conn

		if err := r.pfd.Add(fd, false); err != nil {
			r.log.Errorf("reactor: register conn fd %d: %v", fd, err)
			r.closeConn(fd)
			continue
		}
		r.armIdleTimer(fd, gen)
	}
}

func (r *Reactor) armIdleTimer(fd int, gen uint64) {
	r.timers.Add(fd, r.cfg.IdleTimeout.Milliseconds(), func() {
		r.onIdleTimeout(fd, gen)
	})
}

// onIdleTimeout is the TimerHeap callback. It is a no-op if the fd slot
// has since been reused by a different connection (generation
// mismatch) — spec.md §4.7's "weak reference" contract.
func (r *Reactor) onIdleTimeout(fd int, gen uint64) {
	if r.generation[fd] != gen {
		return
	}
	r.closeConn(fd)
}

// dispatch routes one poller event to the owning Connection's
// OnReadable/OnWritable, submitting follow-up work to the pool as
// needed, and adjusts that connection's idle timer on any activity.
func (r *Reactor) dispatch(ev event) {
	conn, ok := r.conns[ev.fd]
	if !ok {
		return
	}
	gen := r.generation[ev.fd]

	if ev.hangup && !ev.readable && !ev.writable {
		r.closeConn(ev.fd)
		return
	}

	if ev.readable {
		res, err := conn.OnReadable()
		if err != nil || res == connection.ResultClose {
			r.closeConn(ev.fd)
			return
		}
		r.timers.Adjust(ev.fd, r.cfg.IdleTimeout.Milliseconds())
		r.submitProcess(conn, ev.fd, gen)
		return
	}

	if ev.writable {
		res, err := conn.OnWritable()
		if err != nil {
			r.closeConn(ev.fd)
			return
		}
		r.timers.Adjust(ev.fd, r.cfg.IdleTimeout.Milliseconds())
		switch res {
		case connection.ResultClose:
			r.closeConn(ev.fd)
		case connection.ResultDone:
			if err := r.pfd.Modify(ev.fd, false); err != nil {
				r.closeConn(ev.fd)
			}
		case connection.ResultNeedsWrite:
			// stay armed for write; nothing to do.
		}
	}
}

// submitProcess hands the parse/assemble step to the worker pool. conn
// is captured by the I/O goroutine before submission — Process only
// touches that Connection's own buffers/request/response, never the
// Reactor's table — and the result is reported back via completions
// rather than applied directly, since only the I/O goroutine may touch
// the table, the poller, or the timer heap.
func (r *Reactor) submitProcess(conn *connection.Connection, fd int, gen uint64) {
	r.pool.Submit(func() {
		var verifier protocol.Verifier
		if r.verify != nil {
			verifier = r.verify()
		}
		res, err := conn.Process(verifier)
		r.completions <- completion{fd: fd, gen: gen, res: res, err: err}
		r.wake()
	})
}

// applyCompletion runs on the I/O goroutine: it re-validates the
// generation, since the connection may have been closed (timeout or
// peer hangup) while the task was in flight, in which case this is a
// no-op per spec.md §5's cancellation note.
func (r *Reactor) applyCompletion(c completion) {
	if r.generation[c.fd] != c.gen {
		return
	}
	if _, ok := r.conns[c.fd]; !ok {
		return
	}
	if c.err != nil || c.res == connection.ResultClose {
		r.closeConn(c.fd)
		return
	}
	if c.res == connection.ResultNeedsWrite {
		if err := r.pfd.Modify(c.fd, true); err != nil {
			r.closeConn(c.fd)
		}
	}
}

// closeConn tears down a connection: releases its mapped body, closes
// the fd, and removes it from the poller, the table, and the timer
// heap. Idempotent.
func (r *Reactor) closeConn(fd int) {
	if conn, ok := r.conns[fd]; ok {
		conn.OnClose()
		conn.Release()
		delete(r.conns, fd)
	}
	r.pfd.Remove(fd)
	r.timers.Cancel(fd)
	unix.Close(fd)
}
