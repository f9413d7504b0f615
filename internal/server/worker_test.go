package server

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iamNilotpal/pelikan/internal/metrics"
	"github.com/iamNilotpal/pelikan/internal/queue"
	"github.com/iamNilotpal/pelikan/internal/session"
	"github.com/iamNilotpal/pelikan/pkg/errors"
)

// lineProtocol is a minimal newline-delimited protocol standing in for
// a real internal/protocol adapter, mirroring internal/session's own
// test double.
type lineProtocol struct{}

func (lineProtocol) ParseRequest(buf []byte) (string, int, error) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		return "", 0, errors.NewProtocolError(nil, errors.ErrorCodeParseWouldBlock, "incomplete request")
	}
	return string(buf[:idx]), idx + 1, nil
}

func (lineProtocol) ComposeResponse(req, resp string, out []byte) (int, []byte) {
	return 0, []byte(resp + "\n")
}

func (lineProtocol) Hangup(req string) bool { return req == "quit" }

type echoExecutor struct{}

func (echoExecutor) Execute(req string) string { return "echo:" + req }

func newTestLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

func testMetrics() *EventMetrics {
	reg := metrics.NewRegistry()
	return NewWorkerMetrics(reg, "test")
}

func dialLoopback(t *testing.T) (server, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptCh <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server = <-acceptCh
	require.NotNil(t, server)
	return server, client
}

func TestWorker_HandlesSessionRoundTrip(t *testing.T) {
	signalQueue := queue.New[Signal](nil)
	w, err := NewWorker[string, string](0, echoExecutor{}, nil, signalQueue, testMetrics(), newTestLogger())
	require.NoError(t, err)

	sessionQueue := queue.New[*session.Session[string, string]](w.Waker())
	w.sessionQueue = sessionQueue

	serverConn, clientConn := dialLoopback(t)
	defer clientConn.Close()

	sess := session.New[string, string](serverConn, lineProtocol{}, session.Config{InitSize: 256, MaxSize: 4096}, false)
	require.NoError(t, sessionQueue.TrySend(sess))
	sessionQueue.Wake()

	go w.Run()

	_, err = clientConn.Write([]byte("hello\n"))
	require.NoError(t, err)

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := clientConn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "echo:hello\n", string(buf[:n]))

	require.NoError(t, signalQueue.TrySend(SignalShutdown))
	signalQueue.Wake()
}

func TestWorker_ClosesSessionOnHangup(t *testing.T) {
	signalQueue := queue.New[Signal](nil)
	w, err := NewWorker[string, string](0, echoExecutor{}, nil, signalQueue, testMetrics(), newTestLogger())
	require.NoError(t, err)

	sessionQueue := queue.New[*session.Session[string, string]](w.Waker())
	w.sessionQueue = sessionQueue

	serverConn, clientConn := dialLoopback(t)

	sess := session.New[string, string](serverConn, lineProtocol{}, session.Config{InitSize: 256, MaxSize: 4096}, false)
	require.NoError(t, sessionQueue.TrySend(sess))
	sessionQueue.Wake()

	go w.Run()

	clientConn.Close() // triggers EOF / hangup on the server side

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, signalQueue.TrySend(SignalShutdown))
	signalQueue.Wake()
}
