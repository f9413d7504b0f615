package proxy

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/iamNilotpal/pelikan/internal/poll"
	"github.com/iamNilotpal/pelikan/internal/queue"
	"github.com/iamNilotpal/pelikan/internal/server"
	"github.com/iamNilotpal/pelikan/internal/session"
	"github.com/iamNilotpal/pelikan/pkg/errors"
)

// maxReconnectAttempts bounds how many times BackendWorker retries a
// lost upstream connection inline before giving up for this pass (spec
// §4.10.3: "re-establish ... best effort, bounded-retry"). Each retry
// uses net.Dial, which re-resolves the endpoint's DNS name itself, so
// no separate re-resolution step is needed.
const maxReconnectAttempts = 3

// BackendWorker owns a pool of persistent upstream connections and
// forwards requests from one or more FrontendWorkers to whichever
// connection is free, per spec §4.10's proxy runtime: "backend workers
// maintain a pool of persistent connections to upstream endpoints, and
// two queues shuttle requests and responses." Grounded on
// original_source/src/core/proxy/src/backend.rs's BackendWorker, with
// its free_queue/pending/backlog triad reproduced as free/pending/
// backlog below.
type BackendWorker[Req, Resp any] struct {
	id int

	poll     poll.Poll
	waker    poll.Waker
	protocol Protocol[Req, Resp]

	sessionCfg session.Config
	endpoints  []string
	nextEndpt  int
	timeout    time.Duration

	conns     map[poll.Token]*conn[Req, Resp]
	nextToken int

	free    []poll.Token
	pending map[poll.Token]pendingEntry
	backlog []backendWorkItem[Req]

	inbound  []*queue.Queue[backendWorkItem[Req]]
	outbound []*queue.Queue[frontendResult[Resp]]

	signalQueue *queue.Queue[server.Signal]

	metrics *EventMetrics
	logger  *zap.SugaredLogger
}

// NewBackendWorker dials cfg.PoolSize connections round-robin across
// cfg.Endpoints and returns the worker plus one inbound queue per
// frontend worker it will serve (bind each with BindOutbound once the
// matching FrontendWorker exists).
func NewBackendWorker[Req, Resp any](
	id int,
	endpoints []string,
	poolSize int,
	timeout time.Duration,
	protocol Protocol[Req, Resp],
	sessionCfg session.Config,
	frontendCount int,
	signalQueue *queue.Queue[server.Signal],
	metrics *EventMetrics,
	logger *zap.SugaredLogger,
) (*BackendWorker[Req, Resp], []*queue.Queue[backendWorkItem[Req]], error) {
	if len(endpoints) == 0 {
		return nil, nil, fmt.Errorf("backend worker %d: no upstream endpoints configured", id)
	}

	p, err := poll.New()
	if err != nil {
		return nil, nil, err
	}
	w, err := poll.NewWaker(p)
	if err != nil {
		p.Close()
		return nil, nil, err
	}

	bw := &BackendWorker[Req, Resp]{
		id:          id,
		poll:        p,
		waker:       w,
		protocol:    protocol,
		sessionCfg:  sessionCfg,
		endpoints:   endpoints,
		timeout:     timeout,
		conns:       make(map[poll.Token]*conn[Req, Resp]),
		pending:     make(map[poll.Token]pendingEntry),
		signalQueue: signalQueue,
		metrics:     metrics,
		logger:      logger,
	}

	for i := 0; i < poolSize; i++ {
		if _, err := bw.connect(); err != nil {
			logger.Warnw("initial backend connection failed", "backend", id, "error", err)
		}
	}

	bw.inbound = make([]*queue.Queue[backendWorkItem[Req]], frontendCount)
	for i := range bw.inbound {
		bw.inbound[i] = queue.New[backendWorkItem[Req]](w)
	}
	bw.outbound = make([]*queue.Queue[frontendResult[Resp]], frontendCount)
	return bw, bw.inbound, nil
}

// BindOutbound records the queue this worker sends frontendID's
// results through.
func (bw *BackendWorker[Req, Resp]) BindOutbound(frontendID int, q *queue.Queue[frontendResult[Resp]]) {
	bw.outbound[frontendID] = q
}

// Waker is what FrontendWorkers call after enqueueing work.
func (bw *BackendWorker[Req, Resp]) Waker() poll.Waker { return bw.waker }

// connect dials the next endpoint (round-robin) and registers it under
// a fresh token, pushing it onto the free deque.
func (bw *BackendWorker[Req, Resp]) connect() (poll.Token, error) {
	addr := bw.endpoints[bw.nextEndpt%len(bw.endpoints)]
	bw.nextEndpt++

	c, err := newConn(addr, bw.protocol, bw.sessionCfg)
	if err != nil {
		return 0, err
	}
	token := poll.Token(bw.nextToken)
	bw.nextToken++
	c.token = token

	fd, err := c.FD()
	if err != nil {
		c.close()
		return 0, err
	}
	if err := bw.poll.Register(fd, token, poll.Readable); err != nil {
		c.close()
		return 0, err
	}
	bw.conns[token] = c
	bw.free = append(bw.free, token)
	return token, nil
}

// reconnect retries dialing addr up to maxReconnectAttempts times,
// replacing the lost connection at a freshly registered token. Run
// synchronously: each attempt uses bw.timeout as its dial deadline, so
// a fully-down upstream stalls this worker's loop for at most
// maxReconnectAttempts*timeout, the same bounded-blocking trade-off
// already accepted for Listener's inline TLS handshake.
func (bw *BackendWorker[Req, Resp]) reconnect(addr string) (poll.Token, error) {
	var lastErr error
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		c, err := net.DialTimeout("tcp", addr, bw.timeout)
		if err != nil {
			lastErr = err
			continue
		}
		wrapped := &conn[Req, Resp]{
			c:        c,
			addr:     addr,
			protocol: bw.protocol,
			rbuf:     session.NewBuffer(bw.sessionCfg.InitSize, bw.sessionCfg.MaxSize),
			wbuf:     &session.WriteBuffer{},
		}
		token := poll.Token(bw.nextToken)
		bw.nextToken++
		wrapped.token = token

		fd, err := wrapped.FD()
		if err != nil {
			wrapped.close()
			lastErr = err
			continue
		}
		if err := bw.poll.Register(fd, token, poll.Readable); err != nil {
			wrapped.close()
			lastErr = err
			continue
		}
		bw.conns[token] = wrapped
		return token, nil
	}
	return 0, fmt.Errorf("backend %d: reconnect to %s failed after %d attempts: %w", bw.id, addr, maxReconnectAttempts, lastErr)
}

// Run drives the event loop until a SignalShutdown arrives.
func (bw *BackendWorker[Req, Resp]) Run() {
	events := make([]poll.Event, 0, MaxEventsPerWait)
	for {
		var err error
		events, err = bw.poll.Wait(events[:0], bw.timeout)
		if err != nil {
			bw.logger.Errorw("backend poll wait failed", "backend", bw.id, "error", err)
			continue
		}
		bw.metrics.RecordBatch(len(events))

		for _, ev := range events {
			if ev.Token == poll.WakerToken {
				if bw.drainControl() {
					return
				}
				continue
			}
			bw.handle(ev)
		}
	}
}

func (bw *BackendWorker[Req, Resp]) drainControl() bool {
	bw.waker.Reset()

	for _, q := range bw.inbound {
		var items []backendWorkItem[Req]
		q.TryRecvAll(&items)
		for _, item := range items {
			bw.dispatch(item)
		}
	}

	var signals []server.Signal
	bw.signalQueue.TryRecvAll(&signals)
	for _, sig := range signals {
		if sig == server.SignalShutdown {
			return true
		}
	}
	return false
}

// dispatch hands item to a free connection, or appends it to the
// backlog if none is free (spec §4.10.1: "If no connection is free,
// enqueue into a local backlog").
func (bw *BackendWorker[Req, Resp]) dispatch(item backendWorkItem[Req]) {
	if len(bw.free) == 0 {
		bw.backlog = append(bw.backlog, item)
		return
	}
	token := bw.free[0]
	bw.free = bw.free[1:]
	bw.sendOn(token, item)
}

func (bw *BackendWorker[Req, Resp]) sendOn(token poll.Token, item backendWorkItem[Req]) {
	c, ok := bw.conns[token]
	if !ok {
		return
	}
	c.send(item.req)
	bw.pending[token] = pendingEntry{frontendID: item.frontendID, frontendTok: item.frontendTok}
	bw.reregister(c)
}

func (bw *BackendWorker[Req, Resp]) handle(ev poll.Event) {
	c, ok := bw.conns[ev.Token]
	if !ok {
		return
	}

	bw.metrics.Total.Increment()
	if ev.Error {
		bw.metrics.Error.Increment()
		bw.fail(ev.Token)
		return
	}

	if ev.Writable {
		bw.metrics.Write.Increment()
		if err := c.flush(); err != nil {
			bw.fail(ev.Token)
			return
		}
		bw.reregister(c)
	}

	if ev.Readable {
		bw.metrics.Read.Increment()
		if err := bw.read(ev.Token); err != nil {
			bw.fail(ev.Token)
		}
	}
}

// read fills the connection and attempts exactly one parse (spec
// §4.10.1). A successfully parsed response is routed back to the
// originating frontend worker, and the connection is freed to service
// either the backlog or the next dispatch.
func (bw *BackendWorker[Req, Resp]) read(token poll.Token) error {
	c := bw.conns[token]
	if _, err := c.fill(); err != nil {
		return err
	}

	resp, err := c.receive()
	if err != nil {
		if isParseWouldBlock(err) {
			return nil
		}
		return err
	}

	entry, ok := bw.pending[token]
	if !ok {
		// Corrupted bookkeeping: a response arrived on a connection
		// with no recorded requester. Drop it rather than panic.
		bw.logger.Errorw("backend response with no pending entry", "backend", bw.id, "token", token)
		return nil
	}
	delete(bw.pending, token)

	if len(bw.backlog) > 0 {
		next := bw.backlog[0]
		bw.backlog = bw.backlog[1:]
		bw.sendOn(token, next)
	} else {
		bw.free = append(bw.free, token)
	}

	if out := bw.outbound[entry.frontendID]; out != nil {
		out.TrySend(frontendResult[Resp]{resp: resp, frontendTok: entry.frontendTok})
		out.Wake()
	}
	return nil
}

// fail closes token's connection, reports a backend error to whichever
// frontend request was pending on it (if any), and attempts to
// re-establish the upstream connection (spec §4.10.3).
func (bw *BackendWorker[Req, Resp]) fail(token poll.Token) {
	c, ok := bw.conns[token]
	if !ok {
		return
	}
	bw.poll.Deregister(mustFD(c))
	addr := c.addr
	c.close()
	delete(bw.conns, token)
	bw.removeFree(token)

	if entry, ok := bw.pending[token]; ok {
		delete(bw.pending, token)
		if out := bw.outbound[entry.frontendID]; out != nil {
			backendErr := errors.NewProxyError(nil, errors.ErrorCodeBackendUnavailable, "upstream connection lost").
				WithBackendToken(int(token)).WithEndpoint(addr)
			out.TrySend(frontendResult[Resp]{frontendTok: entry.frontendTok, err: backendErr})
			out.Wake()
		}
	}

	newToken, err := bw.reconnect(addr)
	if err != nil {
		bw.logger.Warnw("backend reconnect failed", "backend", bw.id, "endpoint", addr, "error", err)
		return
	}
	if len(bw.backlog) > 0 {
		next := bw.backlog[0]
		bw.backlog = bw.backlog[1:]
		bw.sendOn(newToken, next)
	} else {
		bw.free = append(bw.free, newToken)
	}
}

func (bw *BackendWorker[Req, Resp]) removeFree(token poll.Token) {
	for i, t := range bw.free {
		if t == token {
			bw.free = append(bw.free[:i], bw.free[i+1:]...)
			return
		}
	}
}

func (bw *BackendWorker[Req, Resp]) reregister(c *conn[Req, Resp]) {
	fd, err := c.FD()
	if err != nil {
		return
	}
	bw.poll.Reregister(fd, c.token, c.interest())
}

func mustFD[Req, Resp any](c *conn[Req, Resp]) int {
	fd, err := c.FD()
	if err != nil {
		return -1
	}
	return fd
}

func isParseWouldBlock(err error) bool {
	pe, ok := errors.AsProtocolError(err)
	return ok && pe.Code() == errors.ErrorCodeParseWouldBlock
}
