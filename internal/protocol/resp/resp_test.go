package resp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pelikan/internal/engine"
	"github.com/iamNilotpal/pelikan/pkg/errors"
	"github.com/iamNilotpal/pelikan/pkg/logger"
	"github.com/iamNilotpal/pelikan/pkg/options"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	opts := options.NewDefaultOptions()
	opts.ExpireInterval = time.Hour
	opts.SegmentOptions.Size = options.MinSegmentSize
	opts.SegmentOptions.HeapSize = options.MinSegmentSize * 4
	e, err := engine.New(context.Background(), &engine.Config{Options: &opts, Logger: logger.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestParseRequest_MultiBulkGet(t *testing.T) {
	req, n, err := ParseRequest([]byte("*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n"))
	require.NoError(t, err)
	require.Equal(t, 22, n)
	require.Equal(t, "GET", req.Command)
	require.Equal(t, [][]byte{[]byte("foo")}, req.Args)
}

func TestParseRequest_MultiBulkIncomplete(t *testing.T) {
	_, _, err := ParseRequest([]byte("*2\r\n$3\r\nGET\r\n$3\r\nfo"))
	pe, ok := errors.AsProtocolError(err)
	require.True(t, ok)
	require.Equal(t, errors.ErrorCodeParseWouldBlock, pe.Code())
}

func TestParseRequest_InlineForm(t *testing.T) {
	req, n, err := ParseRequest([]byte("GET foo\r\n"))
	require.NoError(t, err)
	require.Equal(t, 9, n)
	require.Equal(t, "GET", req.Command)
	require.Equal(t, [][]byte{[]byte("foo")}, req.Args)
}

func TestParseRequest_InlineQuoted(t *testing.T) {
	req, _, err := ParseRequest([]byte("SET foo \"hello world\"\r\n"))
	require.NoError(t, err)
	require.Equal(t, "SET", req.Command)
	require.Equal(t, "hello world", string(req.Args[1]))
}

func TestParseRequest_CanonicalIntegerRejectsLeadingZero(t *testing.T) {
	_, _, err := ParseRequest([]byte("*3\r\n$3\r\nSET\r\n$1\r\na\r\n$2\r\n01\r\n"))
	_, isProto := errors.AsProtocolError(err)
	require.True(t, isProto)
}

func TestParseRequest_SetOptionsExclusiveNXXX(t *testing.T) {
	_, _, err := ParseRequest([]byte("SET foo bar NX XX\r\n"))
	pe, ok := errors.AsProtocolError(err)
	require.True(t, ok)
	require.Equal(t, errors.ErrorCodeParseInvalid, pe.Code())
}

func TestParseRequest_RejectsOversizedMultiBulkLength(t *testing.T) {
	_, _, err := ParseRequest([]byte("*9223372036854775807\r\n"))
	pe, ok := errors.AsProtocolError(err)
	require.True(t, ok)
	require.Equal(t, errors.ErrorCodeParseInvalid, pe.Code())
}

func TestParseRequest_RejectsOversizedBulkLength(t *testing.T) {
	_, _, err := ParseRequest([]byte("*1\r\n$9223372036854775807\r\nx\r\n"))
	pe, ok := errors.AsProtocolError(err)
	require.True(t, ok)
	require.Equal(t, errors.ErrorCodeParseInvalid, pe.Code())
}

func TestExecute_SetThenGet(t *testing.T) {
	eng := newTestEngine(t)

	setReq, _, err := ParseRequest([]byte("SET foo bar\r\n"))
	require.NoError(t, err)
	setResp := Execute(setReq, eng)
	require.Equal(t, KindSimpleString, setResp.Kind)
	require.Equal(t, "OK", setResp.Str)

	getReq, _, err := ParseRequest([]byte("GET foo\r\n"))
	require.NoError(t, err)
	getResp := Execute(getReq, eng)
	require.Equal(t, KindBulkString, getResp.Kind)
	require.Equal(t, "bar", string(getResp.Bulk))

	_, composed := ComposeResponse(getReq, getResp, nil)
	require.Equal(t, "$3\r\nbar\r\n", string(composed))
}

func TestExecute_GetMissingReturnsNullBulk(t *testing.T) {
	eng := newTestEngine(t)
	req, _, _ := ParseRequest([]byte("GET missing\r\n"))
	resp := Execute(req, eng)
	require.Equal(t, KindNullBulkString, resp.Kind)
	_, composed := ComposeResponse(req, resp, nil)
	require.Equal(t, "$-1\r\n", string(composed))
}

func TestExecute_SetNXFailsWhenKeyExists(t *testing.T) {
	eng := newTestEngine(t)
	first, _, _ := ParseRequest([]byte("SET foo bar\r\n"))
	Execute(first, eng)

	nx, _, _ := ParseRequest([]byte("SET foo baz NX\r\n"))
	resp := Execute(nx, eng)
	require.Equal(t, KindNullBulkString, resp.Kind)
}

func TestExecute_Del(t *testing.T) {
	eng := newTestEngine(t)
	set, _, _ := ParseRequest([]byte("SET foo bar\r\n"))
	Execute(set, eng)

	del, _, _ := ParseRequest([]byte("*3\r\n$3\r\nDEL\r\n$3\r\nfoo\r\n$3\r\nnox\r\n"))
	resp := Execute(del, eng)
	require.Equal(t, KindInteger, resp.Kind)
	require.EqualValues(t, 1, resp.Int)
}

func TestExecute_Incr(t *testing.T) {
	eng := newTestEngine(t)
	set, _, _ := ParseRequest([]byte("SET counter 41\r\n"))
	Execute(set, eng)

	incr, _, _ := ParseRequest([]byte("INCR counter\r\n"))
	resp := Execute(incr, eng)
	require.Equal(t, KindInteger, resp.Kind)
	require.EqualValues(t, 42, resp.Int)
}

func TestExecute_UnsupportedCommand(t *testing.T) {
	eng := newTestEngine(t)
	req, _, _ := ParseRequest([]byte("HSET h f v\r\n"))
	resp := Execute(req, eng)
	require.Equal(t, KindError, resp.Kind)
	_, composed := ComposeResponse(req, resp, nil)
	require.Equal(t, "-ERR unsupported command: hset\r\n", string(composed))
}

func TestHangup_AlwaysFalse(t *testing.T) {
	require.False(t, Hangup(Request{}))
}
