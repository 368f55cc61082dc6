//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// epollPoller is the Linux poller backend, level-triggered so a
// connection with unread bytes keeps reporting readable until the
// Connection actually drains it.
type epollPoller struct {
	epfd   int
	events []unix.EpollEvent
}

func openPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: epfd, events: make([]unix.EpollEvent, maxEventsPerWait)}, nil
}

func epollFlags(write bool) uint32 {
	flags := uint32(unix.EPOLLIN)
	if write {
		flags |= unix.EPOLLOUT
	}
	return flags
}

func (p *epollPoller) Add(fd int, write bool) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: epollFlags(write), Fd: int32(fd)})
}

func (p *epollPoller) Modify(fd int, write bool) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: epollFlags(write), Fd: int32(fd)})
}

func (p *epollPoller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *epollPoller) Wait(dst []event, timeoutMS int) ([]event, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	for i := 0; i < n; i++ {
		ev := p.events[i]
		dst = append(dst, event{
			fd:       int(ev.Fd),
			readable: ev.Events&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP) != 0,
			writable: ev.Events&unix.EPOLLOUT != 0,
			hangup:   ev.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
		})
	}
	return dst, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
