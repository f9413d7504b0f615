package proxy

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iamNilotpal/pelikan/internal/metrics"
	"github.com/iamNilotpal/pelikan/internal/poll"
	"github.com/iamNilotpal/pelikan/internal/queue"
	"github.com/iamNilotpal/pelikan/internal/server"
	"github.com/iamNilotpal/pelikan/internal/session"
	"github.com/iamNilotpal/pelikan/pkg/errors"
)

// lineBackendProtocol is a minimal newline-delimited stand-in for a
// real internal/protocol adapter's backend half, mirroring
// internal/server's own lineProtocol test double.
type lineBackendProtocol struct{}

func (lineBackendProtocol) ComposeRequest(req string) []byte { return []byte(req + "\n") }

func (lineBackendProtocol) ParseResponse(buf []byte) (string, int, error) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		return "", 0, errors.NewProtocolError(nil, errors.ErrorCodeParseWouldBlock, "incomplete response")
	}
	return string(buf[:idx]), idx + 1, nil
}

func newTestLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

func testEventMetrics(prefix string) *EventMetrics {
	reg := metrics.NewRegistry()
	return NewEventMetrics(reg, prefix)
}

// echoUpstream listens on a loopback port and, for each connection,
// echoes back "echo:"+line for every newline-terminated line it reads.
func echoUpstream(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				var acc []byte
				for {
					n, err := c.Read(buf)
					if err != nil {
						return
					}
					acc = append(acc, buf[:n]...)
					for {
						idx := bytes.IndexByte(acc, '\n')
						if idx < 0 {
							break
						}
						line := acc[:idx]
						acc = acc[idx+1:]
						c.Write([]byte("echo:" + string(line) + "\n"))
					}
				}
			}(c)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestBackendWorker_ForwardsAndReturnsResponse(t *testing.T) {
	addr := echoUpstream(t)

	signalQueue := queue.New[server.Signal](nil)
	bw, inbound, err := NewBackendWorker[string, string](
		0, []string{addr}, 1, time.Second, lineBackendProtocol{},
		session.Config{InitSize: 256, MaxSize: 4096}, 1, signalQueue, testEventMetrics("backend_test"), newTestLogger(),
	)
	require.NoError(t, err)

	outbound := queue.New[frontendResult[string]](nil)
	bw.BindOutbound(0, outbound)

	go bw.Run()

	item := backendWorkItem[string]{req: "hello", frontendID: 0, frontendTok: poll.Token(7)}
	require.NoError(t, inbound[0].TrySend(item))
	inbound[0].Wake()

	deadline := time.After(2 * time.Second)
	for {
		var results []frontendResult[string]
		outbound.TryRecvAll(&results)
		if len(results) > 0 {
			require.Equal(t, "echo:hello", results[0].resp)
			require.Equal(t, poll.Token(7), results[0].frontendTok)
			require.NoError(t, results[0].err)
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for backend response")
		case <-time.After(10 * time.Millisecond):
		}
	}

	require.NoError(t, signalQueue.TrySend(server.SignalShutdown))
	signalQueue.Wake()
}

func TestBackendWorker_QueuesBehindBacklogWhenNoFreeConnection(t *testing.T) {
	addr := echoUpstream(t)

	signalQueue := queue.New[server.Signal](nil)
	bw, inbound, err := NewBackendWorker[string, string](
		0, []string{addr}, 1, time.Second, lineBackendProtocol{},
		session.Config{InitSize: 256, MaxSize: 4096}, 1, signalQueue, testEventMetrics("backend_test_backlog"), newTestLogger(),
	)
	require.NoError(t, err)

	outbound := queue.New[frontendResult[string]](nil)
	bw.BindOutbound(0, outbound)

	go bw.Run()

	first := backendWorkItem[string]{req: "first", frontendID: 0, frontendTok: poll.Token(1)}
	second := backendWorkItem[string]{req: "second", frontendID: 0, frontendTok: poll.Token(2)}
	require.NoError(t, inbound[0].TrySend(first))
	require.NoError(t, inbound[0].TrySend(second))
	inbound[0].Wake()

	seen := map[poll.Token]string{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		var results []frontendResult[string]
		outbound.TryRecvAll(&results)
		for _, r := range results {
			seen[r.frontendTok] = r.resp
		}
		select {
		case <-deadline:
			t.Fatalf("timed out, got %d/2 responses", len(seen))
		case <-time.After(10 * time.Millisecond):
		}
	}
	require.Equal(t, "echo:first", seen[poll.Token(1)])
	require.Equal(t, "echo:second", seen[poll.Token(2)])

	require.NoError(t, signalQueue.TrySend(server.SignalShutdown))
	signalQueue.Wake()
}
