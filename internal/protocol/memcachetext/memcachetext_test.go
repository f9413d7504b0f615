package memcachetext

import (
	"context"
	"fmt"
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

func TestParseRequest_Get(t *testing.T) {
	req, n, err := ParseRequest([]byte("get foo bar\r\n"))
	require.NoError(t, err)
	require.Equal(t, 13, n)
	require.Equal(t, CmdGet, req.Command)
	require.Equal(t, [][]byte{[]byte("foo"), []byte("bar")}, req.Keys)
}

func TestParseRequest_SetWaitsForFullDataBlock(t *testing.T) {
	_, _, err := ParseRequest([]byte("set foo 0 0 5\r\nhel"))
	pe, ok := errors.AsProtocolError(err)
	require.True(t, ok)
	require.Equal(t, errors.ErrorCodeParseWouldBlock, pe.Code())

	req, n, err := ParseRequest([]byte("set foo 0 0 5\r\nhello\r\n"))
	require.NoError(t, err)
	require.Equal(t, 22, n)
	require.Equal(t, "hello", string(req.Value))
}

func TestParseRequest_CasIncludesToken(t *testing.T) {
	req, _, err := ParseRequest([]byte("cas foo 0 0 5 42\r\nhello\r\n"))
	require.NoError(t, err)
	require.Equal(t, uint64(42), req.CAS)
}

func TestParseRequest_Delete(t *testing.T) {
	req, n, err := ParseRequest([]byte("delete foo\r\n"))
	require.NoError(t, err)
	require.Equal(t, 12, n)
	require.Equal(t, CmdDelete, req.Command)
}

func TestParseRequest_FlushAllWithDelay(t *testing.T) {
	req, _, err := ParseRequest([]byte("flush_all 30\r\n"))
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, req.Delay)
}

func TestParseRequest_RejectsOversizedKey(t *testing.T) {
	longKey := make([]byte, MaxKeyLen+1)
	for i := range longKey {
		longKey[i] = 'a'
	}
	_, _, err := ParseRequest(append(append([]byte("get "), longKey...), []byte("\r\n")...))
	pe, ok := errors.AsProtocolError(err)
	require.True(t, ok)
	require.Equal(t, errors.ErrorCodeParseInvalid, pe.Code())
}

func TestParseRequest_RejectsOversizedByteCount(t *testing.T) {
	_, _, err := ParseRequest([]byte("set foo 0 0 9223372036854775807\r\n"))
	pe, ok := errors.AsProtocolError(err)
	require.True(t, ok)
	require.Equal(t, errors.ErrorCodeParseInvalid, pe.Code())
}

func TestExecuteComposeRoundTrip_SetThenGet(t *testing.T) {
	eng := newTestEngine(t)

	setReq, _, err := ParseRequest([]byte("set foo 5 100 3\r\nbar\r\n"))
	require.NoError(t, err)
	setResp := Execute(setReq, eng)
	_, composed := ComposeResponse(setReq, setResp, nil)
	require.Equal(t, "STORED\r\n", string(composed))

	getReq, _, err := ParseRequest([]byte("get foo\r\n"))
	require.NoError(t, err)
	getResp := Execute(getReq, eng)
	_, composed = ComposeResponse(getReq, getResp, nil)
	require.Equal(t, "VALUE foo 5 3\r\nbar\r\nEND\r\n", string(composed))
}

func TestExecuteGets_IncludesCAS(t *testing.T) {
	eng := newTestEngine(t)
	setReq, _, _ := ParseRequest([]byte("set foo 0 100 3\r\nbar\r\n"))
	Execute(setReq, eng)

	getsReq, _, err := ParseRequest([]byte("gets foo\r\n"))
	require.NoError(t, err)
	resp := Execute(getsReq, eng)
	require.Len(t, resp.Items, 1)
	require.NotZero(t, resp.Items[0].CAS)
}

func TestExecuteDelete_NotFound(t *testing.T) {
	eng := newTestEngine(t)
	req, _, _ := ParseRequest([]byte("delete missing\r\n"))
	resp := Execute(req, eng)
	require.Equal(t, errors.StatusNotFound, resp.Status)
}

func TestExecuteAdd_NegativeExptimeExpiresImmediately(t *testing.T) {
	eng := newTestEngine(t)

	addReq, _, err := ParseRequest([]byte("add foo 0 -1 3\r\nbar\r\n"))
	require.NoError(t, err)
	resp := Execute(addReq, eng)
	require.Equal(t, errors.StatusStored, resp.Status)

	getReq, _, _ := ParseRequest([]byte("get foo\r\n"))
	getResp := Execute(getReq, eng)
	require.Empty(t, getResp.Items)
}

func TestExecuteCas_NegativeExptimeExpiresImmediately(t *testing.T) {
	eng := newTestEngine(t)
	setReq, _, _ := ParseRequest([]byte("set foo 0 100 3\r\nbar\r\n"))
	Execute(setReq, eng)

	getsReq, _, _ := ParseRequest([]byte("gets foo\r\n"))
	cas := Execute(getsReq, eng).Items[0].CAS

	casReq, _, err := ParseRequest([]byte(fmt.Sprintf("cas foo 0 -1 3 %d\r\nbaz\r\n", cas)))
	require.NoError(t, err)
	resp := Execute(casReq, eng)
	require.Equal(t, errors.StatusStored, resp.Status)

	getReq, _, _ := ParseRequest([]byte("get foo\r\n"))
	getResp := Execute(getReq, eng)
	require.Empty(t, getResp.Items)
}

func TestExecuteIncr_NotFound(t *testing.T) {
	eng := newTestEngine(t)
	req, _, _ := ParseRequest([]byte("incr missing 1\r\n"))
	resp := Execute(req, eng)
	_, composed := ComposeResponse(req, resp, nil)
	require.Equal(t, "NOT_FOUND\r\n", string(composed))
}

func TestHangup_OnlyQuit(t *testing.T) {
	req, _, _ := ParseRequest([]byte("quit\r\n"))
	require.True(t, Hangup(req))

	req, _, _ = ParseRequest([]byte("get foo\r\n"))
	require.False(t, Hangup(req))
}
