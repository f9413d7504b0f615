// Package ping implements the simplest wire protocol (spec §4.11): an
// inline "PING\r\n" request answered with "PONG\r\n", used as a pure
// throughput benchmarking protocol (original_source proxy/ping,
// server/pingserver) and supported end-to-end as a first-class protocol
// choice in cmd/ configuration.
package ping

import (
	"bytes"

	"github.com/iamNilotpal/pelikan/pkg/errors"
)

// Request is the sole message this protocol ever parses.
type Request struct{}

// Response is the sole message this protocol ever composes.
type Response struct{}

var (
	requestLine  = []byte("PING\r\n")
	responseLine = []byte("PONG\r\n")
)

const protocolName = "ping"

// ParseRequest recognizes a complete "PING\r\n" line, per
// internal/session.Protocol.
func ParseRequest(buf []byte) (Request, int, error) {
	idx := bytes.Index(buf, []byte("\r\n"))
	if idx < 0 {
		if len(buf) >= len(requestLine) {
			return Request{}, 0, errors.NewProtocolError(
				nil, errors.ErrorCodeParseInvalid, "line exceeds ping request length without terminator",
			).WithProtocol(protocolName)
		}
		return Request{}, 0, errors.NewProtocolError(
			nil, errors.ErrorCodeParseWouldBlock, "incomplete ping request",
		).WithProtocol(protocolName)
	}
	if !bytes.Equal(buf[:idx], []byte("PING")) {
		return Request{}, 0, errors.NewProtocolError(
			nil, errors.ErrorCodeParseInvalid, "expected PING",
		).WithProtocol(protocolName).WithCommand(string(buf[:idx]))
	}
	return Request{}, idx + 2, nil
}

// Execute answers any Request with Response{}; ping never touches the
// storage engine.
func Execute(Request) Response { return Response{} }

// ComposeResponse writes "PONG\r\n" into the session's write buffer.
func ComposeResponse(_ Request, _ Response, out []byte) (int, []byte) {
	return 0, responseLine
}

// Hangup is always false: ping sessions stay open until the client
// disconnects.
func Hangup(Request) bool { return false }
