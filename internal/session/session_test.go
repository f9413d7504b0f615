package session

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pelikan/internal/poll"
	"github.com/iamNilotpal/pelikan/pkg/errors"
)

// lineProtocol is a minimal newline-delimited test protocol standing in
// for a real internal/protocol adapter.
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

func testConfig() Config { return Config{InitSize: 64, MaxSize: 4096} }

func TestSession_FillReceiveSend(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := New[string, string](server, lineProtocol{}, testConfig(), false)
	require.Equal(t, StateEstablished, s.State())

	go func() { client.Write([]byte("ping\n")) }()

	_, err := s.Fill()
	require.NoError(t, err)

	req, err := s.Receive()
	require.NoError(t, err)
	require.Equal(t, "ping", req)

	s.Send(req, "pong")
	require.Equal(t, 5, s.WritePending())

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := client.Read(buf)
		done <- buf[:n]
	}()

	require.NoError(t, s.Flush())
	select {
	case got := <-done:
		require.Equal(t, "pong\n", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flushed response")
	}
}

func TestSession_ReceiveWouldBlockOnPartialLine(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := New[string, string](server, lineProtocol{}, testConfig(), false)

	go func() { client.Write([]byte("pi")) }()
	_, err := s.Fill()
	require.NoError(t, err)

	_, err = s.Receive()
	pe, ok := errors.AsProtocolError(err)
	require.True(t, ok)
	require.Equal(t, errors.ErrorCodeParseWouldBlock, pe.Code())

	go func() { client.Write([]byte("ng\n")) }()
	_, err = s.Fill()
	require.NoError(t, err)

	req, err := s.Receive()
	require.NoError(t, err)
	require.Equal(t, "ping", req)
}

func TestSession_Pipelining(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := New[string, string](server, lineProtocol{}, testConfig(), false)

	go func() { client.Write([]byte("a\nb\n")) }()
	_, err := s.Fill()
	require.NoError(t, err)

	req, err := s.Receive()
	require.NoError(t, err)
	require.Equal(t, "a", req)
	require.Greater(t, s.Remaining(), 0)

	req, err = s.Receive()
	require.NoError(t, err)
	require.Equal(t, "b", req)
	require.Equal(t, 0, s.Remaining())
}

func TestSession_HangupOnQuit(t *testing.T) {
	s := &lineProtocol{}
	require.True(t, s.Hangup("quit"))
	require.False(t, s.Hangup("ping"))
}

func TestSession_InterestReflectsPendingWrites(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	s := New[string, string](server, lineProtocol{}, testConfig(), false)
	require.Equal(t, poll.Readable, s.Interest())

	s.Send("x", "y")
	require.Equal(t, poll.Readable|poll.Writable, s.Interest())
}

func TestFuncProtocol_DelegatesToWrappedFuncs(t *testing.T) {
	p := FuncProtocol[string, string]{
		ParseRequestFunc:    func(buf []byte) (string, int, error) { return lineProtocol{}.ParseRequest(buf) },
		ComposeResponseFunc: func(req, resp string, out []byte) (int, []byte) { return lineProtocol{}.ComposeResponse(req, resp, out) },
		HangupFunc:          func(req string) bool { return lineProtocol{}.Hangup(req) },
	}

	req, consumed, err := p.ParseRequest([]byte("hi\n"))
	require.NoError(t, err)
	require.Equal(t, "hi", req)
	require.Equal(t, 3, consumed)

	_, extra := p.ComposeResponse("hi", "bye", nil)
	require.Equal(t, "bye\n", string(extra))

	require.True(t, p.Hangup("quit"))
	require.False(t, p.Hangup("hi"))
}
