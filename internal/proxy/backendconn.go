package proxy

import (
	"net"
	"syscall"

	"github.com/iamNilotpal/pelikan/internal/poll"
	"github.com/iamNilotpal/pelikan/internal/session"
	"github.com/iamNilotpal/pelikan/pkg/errors"
)

// Protocol is the upstream-facing half of spec §4.11's four-routine
// contract: a BackendWorker composes a request onto the wire and parses
// a response off it, the reverse of internal/session.Protocol's
// server-facing ComposeResponse/ParseRequest pair. Every
// internal/protocol adapter that can act as a proxy backend (resp,
// memcachetext, memcachebinary, thrift) supplies both halves from the
// same package-level parse/compose functions.
type Protocol[Req, Resp any] interface {
	ComposeRequest(req Req) []byte
	ParseResponse(buf []byte) (Resp, int, error)
}

// conn is one persistent, buffered upstream connection owned by a
// BackendWorker. It reuses internal/session's Buffer/WriteBuffer (the
// same growable-ring algorithm a client-facing Session uses) rather
// than a second copy, since the only thing that differs here is which
// direction bytes are parsed and composed.
type conn[Req, Resp any] struct {
	c        net.Conn
	addr     string
	protocol Protocol[Req, Resp]

	rbuf *session.Buffer
	wbuf *session.WriteBuffer

	token poll.Token
}

func dial(addr string, cfg session.Config) (*session.Buffer, *session.WriteBuffer, net.Conn, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, nil, nil, err
	}
	return session.NewBuffer(cfg.InitSize, cfg.MaxSize), &session.WriteBuffer{}, c, nil
}

func newConn[Req, Resp any](addr string, protocol Protocol[Req, Resp], cfg session.Config) (*conn[Req, Resp], error) {
	rbuf, wbuf, c, err := dial(addr, cfg)
	if err != nil {
		return nil, err
	}
	return &conn[Req, Resp]{c: c, addr: addr, protocol: protocol, rbuf: rbuf, wbuf: wbuf}, nil
}

// FD exposes the descriptor for Poll registration.
func (bc *conn[Req, Resp]) FD() (int, error) {
	sc, ok := bc.c.(syscall.Conn)
	if !ok {
		return 0, errors.NewProtocolError(nil, errors.ErrorCodeIO, "backend connection does not support raw descriptor access")
	}
	return session.ConnFD(sc)
}

// send composes req and queues it for Flush; it never blocks on the
// network itself (spec §4.10.1: "call send(request) ... which writes
// into its buffer").
func (bc *conn[Req, Resp]) send(req Req) {
	bc.wbuf.Append(bc.protocol.ComposeRequest(req))
}

// fill reads into the read buffer's spare capacity, translating EOF the
// same way internal/session.Session.Fill does.
func (bc *conn[Req, Resp]) fill() (int, error) {
	if bc.rbuf.Full() {
		return 0, errors.NewProtocolError(nil, errors.ErrorCodeParseInvalid, "backend read buffer exceeded max size")
	}
	n, err := bc.c.Read(bc.rbuf.Spare())
	if err != nil {
		if isWouldBlock(err) {
			return 0, nil
		}
		return 0, errors.NewProtocolError(err, errors.ErrorCodeIO, "backend read failed")
	}
	if n == 0 {
		return 0, errors.NewProtocolError(nil, errors.ErrorCodeIO, "backend connection hung up")
	}
	bc.rbuf.Produced(n)
	return n, nil
}

// receive parses at most one response from whatever is already
// buffered (spec §4.10.1: "attempt exactly one receive()").
func (bc *conn[Req, Resp]) receive() (Resp, error) {
	resp, consumed, err := bc.protocol.ParseResponse(bc.rbuf.Unread())
	if err != nil {
		var zero Resp
		return zero, err
	}
	bc.rbuf.Consume(consumed)
	return resp, nil
}

// flush writes whatever is pending until the socket would block or the
// buffer drains.
func (bc *conn[Req, Resp]) flush() error {
	for bc.wbuf.Len() > 0 {
		n, err := bc.c.Write(bc.wbuf.Pending())
		if n > 0 {
			bc.wbuf.Advance(n)
		}
		if err != nil {
			if isWouldBlock(err) {
				return nil
			}
			return errors.NewProtocolError(err, errors.ErrorCodeIO, "backend write failed")
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

func (bc *conn[Req, Resp]) interest() poll.Interest {
	interest := poll.Readable
	if bc.wbuf.Len() > 0 {
		interest |= poll.Writable
	}
	return interest
}

func (bc *conn[Req, Resp]) close() { bc.c.Close() }

func isWouldBlock(err error) bool {
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}
