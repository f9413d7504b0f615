package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pelikan/internal/poll"
	"github.com/iamNilotpal/pelikan/internal/queue"
	"github.com/iamNilotpal/pelikan/internal/session"
)

// noopWaker satisfies poll.Waker without a real Poll, for queues the
// test only needs to TrySend into, never actually wait on.
type noopWaker struct{ woken int }

func (w *noopWaker) Wake() error  { w.woken++; return nil }
func (w *noopWaker) Reset() error { return nil }
func (w *noopWaker) Close() error { return nil }

var _ poll.Waker = (*noopWaker)(nil)

func TestListener_AcceptsAndHandsOffRoundRobin(t *testing.T) {
	w1, w2 := &noopWaker{}, &noopWaker{}
	q1 := queue.New[*session.Session[string, string]](w1)
	q2 := queue.New[*session.Session[string, string]](w2)

	ln, err := NewListener[string, string](
		"127.0.0.1:0", nil, lineProtocol{}, session.Config{InitSize: 256, MaxSize: 4096},
		[]*queue.Queue[*session.Session[string, string]]{q1, q2},
		newTestLogger(),
	)
	require.NoError(t, err)
	defer ln.Close()

	go ln.Run()

	addr := ln.Addr().String()
	var conns []net.Conn
	for i := 0; i < 4; i++ {
		c, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		conns = append(conns, c)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	require.Eventually(t, func() bool {
		return q1.Len()+q2.Len() == 4
	}, 2*time.Second, 10*time.Millisecond)

	// Round-robin distributes roughly evenly across both queues.
	require.Equal(t, 2, q1.Len())
	require.Equal(t, 2, q2.Len())
}

func TestListener_CloseStopsAccepting(t *testing.T) {
	w1 := &noopWaker{}
	q1 := queue.New[*session.Session[string, string]](w1)

	ln, err := NewListener[string, string](
		"127.0.0.1:0", nil, lineProtocol{}, session.Config{InitSize: 256, MaxSize: 4096},
		[]*queue.Queue[*session.Session[string, string]]{q1},
		newTestLogger(),
	)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- ln.Run() }()

	require.NoError(t, ln.Close())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop accepting after Close")
	}
}
