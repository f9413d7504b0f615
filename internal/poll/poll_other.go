//go:build !linux

package poll

import (
	"sync"
	"time"
)

// portablePoll is a fallback for platforms without epoll. It records
// registrations but does not watch the registered fds: Wait reports only
// waker events, and otherwise returns no events once the timeout passes.
// It exists so the module builds
// and tests on non-Linux development machines; production deployments
// use the Linux epoll backend.
type portablePoll struct {
	mu      sync.Mutex
	entries map[int]portableEntry
	wake    chan struct{}
}

type portableEntry struct {
	token    Token
	interest Interest
}

// New creates a Poll using the portable fallback backend.
func New() (Poll, error) {
	return &portablePoll{entries: make(map[int]portableEntry), wake: make(chan struct{}, 1)}, nil
}

func (p *portablePoll) Register(fd int, token Token, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[fd] = portableEntry{token: token, interest: interest}
	return nil
}

func (p *portablePoll) Reregister(fd int, token Token, interest Interest) error {
	return p.Register(fd, token, interest)
}

func (p *portablePoll) Deregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, fd)
	return nil
}

func (p *portablePoll) Wait(events []Event, timeout time.Duration) ([]Event, error) {
	select {
	case <-p.wake:
		return append(events[:0], Event{Token: WakerToken, Readable: true}), nil
	case <-time.After(timeout):
		return events[:0], nil
	}
}

func (p *portablePoll) Close() error { return nil }

type chanWaker struct{ ch chan struct{} }

// NewWaker creates a Waker for the portable fallback backend.
func NewWaker(poll Poll) (Waker, error) {
	pp := poll.(*portablePoll)
	return &chanWaker{ch: pp.wake}, nil
}

func (w *chanWaker) Wake() error {
	select {
	case w.ch <- struct{}{}:
	default:
	}
	return nil
}

func (w *chanWaker) Reset() error { return nil }
func (w *chanWaker) Close() error { return nil }
