// Package session implements the Session abstraction of spec §4.6: a
// byte stream (plain TCP or TLS) paired with a read buffer, a write
// buffer, and a small handshake/established/closing state, driven by a
// protocol's parse/compose routines (spec §4.11, internal/protocol).
package session

import (
	"io"
	"net"

	"github.com/iamNilotpal/pelikan/internal/poll"
	"github.com/iamNilotpal/pelikan/pkg/errors"
)

// State is a session's position in the state machine of spec §4.9.1.
type State int

const (
	StateHandshaking State = iota
	StateEstablished
	StateClosing
	StateClosed
)

// Protocol is the four-routine contract every wire adapter under
// internal/protocol implements (spec §4.11), parameterized over the
// request/response types that protocol speaks.
type Protocol[Req, Resp any] interface {
	// ParseRequest consumes a request from buf, returning how many
	// bytes were consumed. errors.ErrorCodeParseWouldBlock means buf
	// does not yet hold a complete request.
	ParseRequest(buf []byte) (req Req, consumed int, err error)
	// ComposeResponse renders resp (produced for req) into the session's
	// write buffer, returning bytes written.
	ComposeResponse(req Req, resp Resp, out []byte) (int, []byte)
	// Hangup reports whether the wire protocol considers this request
	// terminal (e.g. memcache text "quit") — the response should be
	// flushed and the session then closed.
	Hangup(req Req) bool
}

// FuncProtocol adapts a protocol package's free ParseRequest/
// ComposeResponse/Hangup functions into a Protocol[Req, Resp], for the
// common case (every adapter under internal/protocol except thrift,
// whose ParseRequest needs an extra max-frame-size argument and so
// defines its own Adapter type instead) where the three routines need
// no extra state.
type FuncProtocol[Req, Resp any] struct {
	ParseRequestFunc    func(buf []byte) (Req, int, error)
	ComposeResponseFunc func(req Req, resp Resp, out []byte) (int, []byte)
	HangupFunc          func(req Req) bool
}

func (p FuncProtocol[Req, Resp]) ParseRequest(buf []byte) (Req, int, error) {
	return p.ParseRequestFunc(buf)
}

func (p FuncProtocol[Req, Resp]) ComposeResponse(req Req, resp Resp, out []byte) (int, []byte) {
	return p.ComposeResponseFunc(req, resp, out)
}

func (p FuncProtocol[Req, Resp]) Hangup(req Req) bool { return p.HangupFunc(req) }

// Session pairs a net.Conn with buffered, non-blocking reads and
// writes, driven by a Protocol. One Session belongs to exactly one
// event-loop thread at a time (spec §5: "owned by exactly one worker at
// a time; transferred, not aliased").
type Session[Req, Resp any] struct {
	conn     net.Conn
	protocol Protocol[Req, Resp]

	rbuf *Buffer
	wbuf *WriteBuffer

	state State
	token poll.Token

	// tls reports whether this connection requires a handshake before
	// Established; plain TCP sessions start Established directly.
	tls bool
}

// Config sizes a Session's buffers (spec §6.3's `buf` section).
type Config struct {
	InitSize uint32
	MaxSize  uint32
}

// New wraps conn in a Session using protocol for parsing/composing.
// isTLS controls whether the session starts in StateHandshaking (the
// caller drives the handshake itself via a *tls.Conn's Handshake, then
// calls MarkEstablished) or StateEstablished immediately.
func New[Req, Resp any](conn net.Conn, protocol Protocol[Req, Resp], cfg Config, isTLS bool) *Session[Req, Resp] {
	s := &Session[Req, Resp]{
		conn:     conn,
		protocol: protocol,
		rbuf:     NewBuffer(cfg.InitSize, cfg.MaxSize),
		wbuf:     &WriteBuffer{},
		tls:      isTLS,
	}
	if isTLS {
		s.state = StateHandshaking
	} else {
		s.state = StateEstablished
	}
	return s
}

// State returns the session's current state.
func (s *Session[Req, Resp]) State() State { return s.state }

// MarkEstablished transitions a handshaking session to Established.
func (s *Session[Req, Resp]) MarkEstablished() { s.state = StateEstablished }

// MarkClosing transitions the session to Closing, e.g. after a parse
// error or a protocol-mandated hangup.
func (s *Session[Req, Resp]) MarkClosing() { s.state = StateClosing }

// Token returns the poll token this session is registered under.
func (s *Session[Req, Resp]) Token() poll.Token { return s.token }

// SetToken records the poll token this session is registered under.
func (s *Session[Req, Resp]) SetToken(t poll.Token) { s.token = t }

// Fill reads into the read buffer's spare capacity, reporting bytes
// read. Zero bytes with a nil error means hangup (spec §4.6): the EOF
// case is translated into an error here so callers have one failure
// path to check.
func (s *Session[Req, Resp]) Fill() (int, error) {
	if s.rbuf.Full() {
		return 0, errors.NewProtocolError(nil, errors.ErrorCodeParseInvalid, "read buffer exceeded max size")
	}
	n, err := s.conn.Read(s.rbuf.Spare())
	if err != nil {
		if err == io.EOF {
			return 0, errors.NewProtocolError(nil, errors.ErrorCodeIO, "connection hung up")
		}
		if isWouldBlock(err) {
			return 0, nil
		}
		return 0, errors.NewProtocolError(err, errors.ErrorCodeIO, "read failed")
	}
	if n == 0 {
		return 0, errors.NewProtocolError(nil, errors.ErrorCodeIO, "connection hung up")
	}
	s.rbuf.Produced(n)
	return n, nil
}

// Flush writes from the write buffer until the stream would block or
// the buffer drains. WritePending reports the remaining bytes.
func (s *Session[Req, Resp]) Flush() error {
	for s.wbuf.Len() > 0 {
		n, err := s.conn.Write(s.wbuf.Pending())
		if n > 0 {
			s.wbuf.Advance(n)
		}
		if err != nil {
			if isWouldBlock(err) {
				return nil
			}
			return errors.NewProtocolError(err, errors.ErrorCodeIO, "write failed")
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

// WritePending reports how many composed-but-unflushed bytes remain.
func (s *Session[Req, Resp]) WritePending() int { return s.wbuf.Len() }

// Remaining reports how many unparsed bytes are still buffered after a
// Receive — a non-zero value means another request may already be
// available without another Fill (pipelining, spec §4.10.1).
func (s *Session[Req, Resp]) Remaining() int { return s.rbuf.Remaining() }

// Receive invokes the protocol parser over the buffered bytes. On
// success it advances the read cursor by the parser's consumed count
// and returns the request. A WouldBlock error means the buffer doesn't
// yet hold a complete request and must not be treated as a failure.
func (s *Session[Req, Resp]) Receive() (Req, error) {
	req, consumed, err := s.protocol.ParseRequest(s.rbuf.Unread())
	if err != nil {
		var zero Req
		return zero, err
	}
	s.rbuf.Consume(consumed)
	return req, nil
}

// Send composes resp (produced for req) into the write buffer.
func (s *Session[Req, Resp]) Send(req Req, resp Resp) {
	var scratch [512]byte
	n, extra := s.protocol.ComposeResponse(req, resp, scratch[:0])
	if n > 0 {
		s.wbuf.Append(scratch[:n])
	}
	if len(extra) > 0 {
		s.wbuf.Append(extra)
	}
}

// Interest returns the readiness set this session currently wants:
// always Readable, plus Writable whenever output is
// pending (spec §4.6).
func (s *Session[Req, Resp]) Interest() poll.Interest {
	interest := poll.Readable
	if s.wbuf.Len() > 0 {
		interest |= poll.Writable
	}
	return interest
}

// Conn exposes the underlying net.Conn, e.g. for registering with Poll.
func (s *Session[Req, Resp]) Conn() net.Conn { return s.conn }

// Close closes the underlying connection.
func (s *Session[Req, Resp]) Close() error {
	s.state = StateClosed
	return s.conn.Close()
}

func isWouldBlock(err error) bool {
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}
