//go:build linux

package poll

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoll is the Linux backend for Poll, built directly on epoll
// rather than a portable multiplexer so the event loop pays no extra
// indirection on its hot path.
type epollPoll struct {
	fd int
}

// New creates a Poll backed by epoll.
func New() (Poll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoll{fd: fd}, nil
}

func interestToEpollEvents(interest Interest) uint32 {
	var events uint32
	if interest&Readable != 0 {
		events |= unix.EPOLLIN
	}
	if interest&Writable != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

func (p *epollPoll) Register(fd int, token Token, interest Interest) error {
	ev := unix.EpollEvent{Events: interestToEpollEvents(interest)}
	ev.Fd = int32(fd)
	packToken(&ev, token)
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoll) Reregister(fd int, token Token, interest Interest) error {
	ev := unix.EpollEvent{Events: interestToEpollEvents(interest)}
	ev.Fd = int32(fd)
	packToken(&ev, token)
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoll) Deregister(fd int) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

// packToken stashes the token in EpollEvent.Fd (it is unioned with a
// user-data word in the kernel struct but the Go binding only exposes
// Fd); since sessions and fds are already 1:1, the fd itself doubles as
// the lookup key, except for the waker's fixed negative token which
// never collides with a real (non-negative) fd.
func packToken(ev *unix.EpollEvent, token Token) {
	if token == WakerToken {
		ev.Fd = int32(WakerToken)
	}
}

func (p *epollPoll) Wait(events []Event, timeout time.Duration) ([]Event, error) {
	raw := make([]unix.EpollEvent, 256)
	ms := int(timeout / time.Millisecond)
	if timeout < 0 {
		ms = -1
	}
	n, err := unix.EpollWait(p.fd, raw, ms)
	if err != nil {
		if err == unix.EINTR {
			return events[:0], nil
		}
		return events[:0], err
	}
	out := events[:0]
	for i := 0; i < n; i++ {
		e := raw[i]
		out = append(out, Event{
			Token:    Token(e.Fd),
			Readable: e.Events&(unix.EPOLLIN|unix.EPOLLHUP) != 0,
			Writable: e.Events&unix.EPOLLOUT != 0,
			Error:    e.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		})
	}
	return out, nil
}

func (p *epollPoll) Close() error {
	return unix.Close(p.fd)
}

// eventfdWaker implements Waker with a Linux eventfd registered for
// Readable interest under WakerToken in the owning Poll.
type eventfdWaker struct {
	fd int
}

// NewWaker creates a Waker and registers it with poll under WakerToken.
func NewWaker(poll Poll) (Waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	w := &eventfdWaker{fd: fd}
	if err := poll.Register(fd, WakerToken, Readable); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return w, nil
}

func (w *eventfdWaker) Wake() error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 1)
	_, err := unix.Write(w.fd, buf)
	if err == unix.EAGAIN {
		// A wake is already pending (the counter is non-zero); the
		// reader will observe it on the next drain either way.
		return nil
	}
	return err
}

func (w *eventfdWaker) Reset() error {
	buf := make([]byte, 8)
	_, err := unix.Read(w.fd, buf)
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (w *eventfdWaker) Close() error {
	return unix.Close(w.fd)
}
