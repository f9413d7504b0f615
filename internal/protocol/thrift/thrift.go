// Package thrift implements opaque Thrift framing (spec §4.11, spec's
// non-goal excludes interpreting the Thrift payload itself): a 4-byte
// big-endian length prefix followed by that many bytes of opaque body,
// grounded on original_source/src/protocol/thrift/src/lib.rs. In the
// proxy it is the backend-forwarding path: frames are relayed
// byte-for-byte to an upstream and the reply relayed back unparsed. The
// cache server can also speak it directly, where with no payload to
// interpret the only operation left is bouncing the frame back — useful
// as a framing-correctness and throughput check.
package thrift

import (
	"encoding/binary"

	"github.com/iamNilotpal/pelikan/pkg/errors"
)

const protocolName = "thrift"

// HeaderLen is the size of the length prefix.
const HeaderLen = 4

// Message is one opaque, length-framed Thrift payload.
type Message struct {
	Data []byte
}

func parseErr(msg string) error {
	return errors.NewProtocolError(nil, errors.ErrorCodeParseInvalid, msg).WithProtocol(protocolName)
}

func wouldBlock() error {
	return errors.NewProtocolError(nil, errors.ErrorCodeParseWouldBlock, "incomplete frame").WithProtocol(protocolName)
}

// ParseRequest consumes one length-prefixed frame from buf, per
// internal/session.Protocol. maxSize bounds a single frame so a bogus
// length field can't stall the session on an unbounded read.
func ParseRequest(buf []byte, maxSize int) (Message, int, error) {
	if len(buf) < HeaderLen {
		return Message{}, 0, wouldBlock()
	}
	dataLen := binary.BigEndian.Uint32(buf[:HeaderLen])
	framedLen := HeaderLen + int(dataLen)
	if framedLen <= HeaderLen || framedLen > maxSize {
		return Message{}, 0, parseErr("frame length out of bounds")
	}
	if len(buf) < framedLen {
		return Message{}, 0, wouldBlock()
	}
	data := append([]byte(nil), buf[HeaderLen:framedLen]...)
	return Message{Data: data}, framedLen, nil
}

// ParseResponse parses a backend's reply the same way a request is
// parsed — the framing is identical in both directions.
func ParseResponse(buf []byte, maxSize int) (Message, int, error) {
	return ParseRequest(buf, maxSize)
}

// ComposeResponse re-frames msg for the client: a 4-byte big-endian
// length followed by its opaque bytes.
func ComposeResponse(_ Message, resp Message, _ []byte) (int, []byte) {
	out := make([]byte, HeaderLen, HeaderLen+len(resp.Data))
	binary.BigEndian.PutUint32(out, uint32(len(resp.Data)))
	out = append(out, resp.Data...)
	return 0, out
}

// ComposeRequest re-frames msg for the backend connection, identical in
// shape to ComposeResponse.
func ComposeRequest(msg Message) []byte {
	out := make([]byte, HeaderLen, HeaderLen+len(msg.Data))
	binary.BigEndian.PutUint32(out, uint32(len(msg.Data)))
	out = append(out, msg.Data...)
	return out
}

// Hangup: Thrift framing carries no protocol-level close signal.
func Hangup(Message) bool { return false }

// Adapter binds a max frame size so Protocol satisfies
// internal/session.Protocol[Message, Message], whose ParseRequest takes
// no side parameters.
type Adapter struct {
	MaxSize int
}

func (a Adapter) ParseRequest(buf []byte) (Message, int, error) {
	return ParseRequest(buf, a.MaxSize)
}

func (a Adapter) ComposeResponse(req Message, resp Message, out []byte) (int, []byte) {
	return ComposeResponse(req, resp, out)
}

func (a Adapter) Hangup(req Message) bool { return Hangup(req) }

// ComposeRequest and ParseResponse let Adapter also satisfy
// internal/proxy.Protocol[Message, Message], so the proxy can use
// Thrift as both its frontend and backend wire format — the
// pass-through framing needs no conversion between the two.
func (a Adapter) ComposeRequest(msg Message) []byte { return ComposeRequest(msg) }

func (a Adapter) ParseResponse(buf []byte) (Message, int, error) {
	return ParseResponse(buf, a.MaxSize)
}
