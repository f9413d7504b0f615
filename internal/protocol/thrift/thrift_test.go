package thrift

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pelikan/pkg/errors"
)

func TestParseRequest_FramesBody(t *testing.T) {
	body := []byte("COFFEE")
	buf := ComposeRequest(Message{Data: body})

	msg, n, err := ParseRequest(buf, 1024)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, body, msg.Data)
}

func TestParseRequest_Incomplete(t *testing.T) {
	buf := ComposeRequest(Message{Data: []byte("COFFEE")})
	_, _, err := ParseRequest(buf[:len(buf)-2], 1024)
	pe, ok := errors.AsProtocolError(err)
	require.True(t, ok)
	require.Equal(t, errors.ErrorCodeParseWouldBlock, pe.Code())
}

func TestParseRequest_RejectsOversizedFrame(t *testing.T) {
	buf := ComposeRequest(Message{Data: make([]byte, 100)})
	_, _, err := ParseRequest(buf, 10)
	pe, ok := errors.AsProtocolError(err)
	require.True(t, ok)
	require.Equal(t, errors.ErrorCodeParseInvalid, pe.Code())
}

func TestComposeResponse_MatchesRequestFraming(t *testing.T) {
	req := Message{Data: []byte("ping")}
	_, composed := ComposeResponse(req, Message{Data: []byte("pong")}, nil)

	msg, n, err := ParseResponse(composed, 1024)
	require.NoError(t, err)
	require.Equal(t, len(composed), n)
	require.Equal(t, "pong", string(msg.Data))
}

func TestAdapter_SatisfiesSessionProtocolShape(t *testing.T) {
	a := Adapter{MaxSize: 1024}
	buf := ComposeRequest(Message{Data: []byte("x")})
	msg, n, err := a.ParseRequest(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	_, composed := a.ComposeResponse(msg, msg, nil)
	require.Equal(t, buf, composed)
	require.False(t, a.Hangup(msg))
}

func TestHangup_AlwaysFalse(t *testing.T) {
	require.False(t, Hangup(Message{}))
}
