package memcachebinary

import (
	"context"
	"encoding/binary"
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

func buildSetRequest(key, value string, flags, ttl uint32, opaque uint32) []byte {
	extras := make([]byte, 8)
	binary.BigEndian.PutUint32(extras[0:4], flags)
	binary.BigEndian.PutUint32(extras[4:8], ttl)

	totalBody := len(extras) + len(key) + len(value)
	header := make([]byte, HeaderLen)
	header[0] = magicRequest
	header[1] = byte(OpSet)
	binary.BigEndian.PutUint16(header[2:4], uint16(len(key)))
	header[4] = byte(len(extras))
	binary.BigEndian.PutUint32(header[8:12], uint32(totalBody))
	binary.BigEndian.PutUint32(header[12:16], opaque)

	out := append(header, extras...)
	out = append(out, key...)
	out = append(out, value...)
	return out
}

func buildGetRequest(key string, opaque uint32) []byte {
	header := make([]byte, HeaderLen)
	header[0] = magicRequest
	header[1] = byte(OpGet)
	binary.BigEndian.PutUint16(header[2:4], uint16(len(key)))
	binary.BigEndian.PutUint32(header[8:12], uint32(len(key)))
	binary.BigEndian.PutUint32(header[12:16], opaque)
	return append(header, key...)
}

func TestParseRequest_SetRoundTrip(t *testing.T) {
	buf := buildSetRequest("foo", "bar", 7, 0, 42)
	req, n, err := ParseRequest(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, OpSet, req.Opcode)
	require.Equal(t, "foo", string(req.Key))
	require.Equal(t, "bar", string(req.Value))
	require.Equal(t, uint32(7), req.Flags)
	require.Equal(t, uint32(42), req.Opaque)
}

func TestParseRequest_IncompleteHeader(t *testing.T) {
	_, _, err := ParseRequest([]byte{0x80, 0x00})
	pe, ok := errors.AsProtocolError(err)
	require.True(t, ok)
	require.Equal(t, errors.ErrorCodeParseWouldBlock, pe.Code())
}

func TestParseRequest_IncompleteBody(t *testing.T) {
	buf := buildSetRequest("foo", "bar", 0, 0, 0)
	_, _, err := ParseRequest(buf[:len(buf)-2])
	pe, ok := errors.AsProtocolError(err)
	require.True(t, ok)
	require.Equal(t, errors.ErrorCodeParseWouldBlock, pe.Code())
}

func TestParseRequest_RejectsBadMagic(t *testing.T) {
	buf := buildGetRequest("foo", 0)
	buf[0] = 0x00
	_, _, err := ParseRequest(buf)
	pe, ok := errors.AsProtocolError(err)
	require.True(t, ok)
	require.Equal(t, errors.ErrorCodeParseInvalid, pe.Code())
}

func TestExecuteComposeRoundTrip_SetThenGet(t *testing.T) {
	eng := newTestEngine(t)

	setReq, _, err := ParseRequest(buildSetRequest("foo", "bar", 0, 100, 1))
	require.NoError(t, err)
	setResp := Execute(setReq, eng)
	require.Equal(t, StatusNoError, setResp.Status)

	_, composed := ComposeResponse(setReq, setResp, nil)
	require.Equal(t, HeaderLen, len(composed))
	require.Equal(t, byte(magicResponse), composed[0])
	require.Equal(t, uint16(StatusNoError), binary.BigEndian.Uint16(composed[6:8]))

	getReq, _, err := ParseRequest(buildGetRequest("foo", 2))
	require.NoError(t, err)
	getResp := Execute(getReq, eng)
	require.Equal(t, StatusNoError, getResp.Status)
	require.Equal(t, "bar", string(getResp.Value))

	_, composed = ComposeResponse(getReq, getResp, nil)
	require.Equal(t, "bar", string(composed[HeaderLen:]))
}

func TestExecute_GetMissingReturnsKeyNotFound(t *testing.T) {
	eng := newTestEngine(t)
	req, _, err := ParseRequest(buildGetRequest("missing", 0))
	require.NoError(t, err)
	resp := Execute(req, eng)
	require.Equal(t, StatusKeyNotFound, resp.Status)
}

func TestExecute_IncrEncodesUint64BigEndian(t *testing.T) {
	eng := newTestEngine(t)
	Execute(mustParse(t, buildSetRequest("counter", "41", 0, 100, 0)), eng)

	extras := make([]byte, 20)
	binary.BigEndian.PutUint64(extras[0:8], 1)
	header := make([]byte, HeaderLen)
	header[0] = magicRequest
	header[1] = byte(OpIncr)
	binary.BigEndian.PutUint16(header[2:4], 7)
	header[4] = 20
	binary.BigEndian.PutUint32(header[8:12], uint32(20+7))
	buf := append(header, extras...)
	buf = append(buf, []byte("counter")...)

	req, _, err := ParseRequest(buf)
	require.NoError(t, err)
	resp := Execute(req, eng)
	require.Equal(t, StatusNoError, resp.Status)
	require.Equal(t, uint64(42), binary.BigEndian.Uint64(resp.Value))
}

func mustParse(t *testing.T, buf []byte) Request {
	t.Helper()
	req, _, err := ParseRequest(buf)
	require.NoError(t, err)
	return req
}

func TestHangup_AlwaysFalse(t *testing.T) {
	require.False(t, Hangup(Request{}))
}
