package server

import (
	"crypto/tls"
	"net"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/iamNilotpal/pelikan/internal/queue"
	"github.com/iamNilotpal/pelikan/internal/session"
)

// workerHandoff is what the Listener distributes sessions to: a queue
// plus the waker that nudges the worker owning it.
type workerHandoff[Req, Resp any] struct {
	queue *queue.Queue[*session.Session[Req, Resp]]
}

// Listener owns the accepting socket and, if configured, the TLS
// context (spec §4.9). It hands off each accepted connection to a
// worker chosen round-robin.
type Listener[Req, Resp any] struct {
	ln         net.Listener
	tlsConfig  *tls.Config
	protocol   session.Protocol[Req, Resp]
	sessionCfg session.Config

	handoffs []workerHandoff[Req, Resp]
	next     atomic.Uint64

	logger *zap.SugaredLogger
}

// NewListener binds addr and prepares a round-robin distributor over
// the given per-worker session queues. tlsConfig may be nil for plain
// TCP.
func NewListener[Req, Resp any](
	addr string,
	tlsConfig *tls.Config,
	protocol session.Protocol[Req, Resp],
	sessionCfg session.Config,
	workerQueues []*queue.Queue[*session.Session[Req, Resp]],
	logger *zap.SugaredLogger,
) (*Listener[Req, Resp], error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	handoffs := make([]workerHandoff[Req, Resp], len(workerQueues))
	for i, q := range workerQueues {
		handoffs[i] = workerHandoff[Req, Resp]{queue: q}
	}
	return &Listener[Req, Resp]{
		ln:         ln,
		tlsConfig:  tlsConfig,
		protocol:   protocol,
		sessionCfg: sessionCfg,
		handoffs:   handoffs,
		logger:     logger,
	}, nil
}

// Addr returns the bound listening address.
func (l *Listener[Req, Resp]) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener[Req, Resp]) Close() error { return l.ln.Close() }

// Run accepts connections until the listener is closed. Each connection
// is handed, via its worker's session queue, to the next worker in
// round-robin order (spec §4.9: "pick a worker via round-robin").
//
// The TLS handshake runs synchronously here rather than as a separate
// non-blocking state the worker polls for: Go's crypto/tls exposes no
// way to drive a handshake incrementally across poll wakeups the way
// the Rust reference's Negotiated state does, so a slow TLS client
// delays only the listener's next accept, never a worker's event loop.
func (l *Listener[Req, Resp]) Run() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return err
		}

		isTLS := l.tlsConfig != nil
		if isTLS {
			tconn := tls.Server(conn, l.tlsConfig)
			if err := tconn.Handshake(); err != nil {
				l.logger.Warnw("tls handshake failed", "remote", conn.RemoteAddr(), "error", err)
				tconn.Close()
				continue
			}
			conn = tconn
		}

		sess := session.New(conn, l.protocol, l.sessionCfg, isTLS)
		if isTLS {
			sess.MarkEstablished()
		}

		idx := l.next.Add(1) % uint64(len(l.handoffs))
		target := l.handoffs[idx]
		if err := target.queue.TrySend(sess); err != nil {
			l.logger.Warnw("worker session queue full, dropping connection", "remote", conn.RemoteAddr())
			sess.Close()
			continue
		}
		target.queue.Wake()
	}
}
