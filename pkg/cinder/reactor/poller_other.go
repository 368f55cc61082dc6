//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package reactor

import (
	"golang.org/x/sys/unix"
)

// kqueuePoller is the BSD/Darwin poller backend. Read and write interest
// are tracked as independent kevent filters since kqueue, unlike epoll,
// has no single combined readiness mask.
type kqueuePoller struct {
	kq     int
	events []unix.Kevent_t
}

func openPoller() (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueuePoller{kq: kq, events: make([]unix.Kevent_t, maxEventsPerWait)}, nil
}

// Add registers read interest unconditionally and write interest only
// when requested.
func (p *kqueuePoller) Add(fd int, write bool) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE},
	}
	if write {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_ENABLE})
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

// Modify enables or disables the write filter; the read filter, once
// added, is left alone (connections always want read interest until
// Remove).
func (p *kqueuePoller) Modify(fd int, write bool) error {
	flags := uint16(unix.EV_ADD | unix.EV_ENABLE)
	if !write {
		flags = unix.EV_DELETE
	}
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags},
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *kqueuePoller) Remove(fd int) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *kqueuePoller) Wait(dst []event, timeoutMS int) ([]event, error) {
	var ts *unix.Timespec
	if timeoutMS >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMS) * int64(1_000_000))
		ts = &t
	}

	n, err := unix.Kevent(p.kq, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}

	merged := make(map[int]*event)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		kv := p.events[i]
		fd := int(kv.Ident)
		ev, ok := merged[fd]
		if !ok {
			ev = &event{fd: fd}
			merged[fd] = ev
			order = append(order, fd)
		}
		switch kv.Filter {
		case unix.EVFILT_READ:
			ev.readable = true
		case unix.EVFILT_WRITE:
			ev.writable = true
		}
		if kv.Flags&unix.EV_EOF != 0 || kv.Flags&unix.EV_ERROR != 0 {
			ev.hangup = true
		}
	}
	for _, fd := range order {
		dst = append(dst, *merged[fd])
	}
	return dst, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}
