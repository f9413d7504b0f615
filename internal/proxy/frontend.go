package proxy

import (
	"time"

	"go.uber.org/zap"

	"github.com/iamNilotpal/pelikan/internal/poll"
	"github.com/iamNilotpal/pelikan/internal/queue"
	"github.com/iamNilotpal/pelikan/internal/server"
	"github.com/iamNilotpal/pelikan/internal/session"
)

// FrontendWorker is the proxy's client-facing event loop (spec §4.10):
// it parses a client request, converts it into the backend's request
// type, and forwards it to a BackendWorker instead of executing
// anything locally — the proxy "has no storage." Per session it allows
// at most one outstanding backend request at a time (spec §4.10.2:
// "the frontend issues at most one outstanding backend request per
// client session and defers further reads until its response
// arrives"), the same pending-map technique internal/server's
// MultiWorker uses to keep per-session ordering without a mutex.
type FrontendWorker[FReq, FResp, BReq, BResp any] struct {
	id int

	poll     poll.Poll
	waker    poll.Waker
	protocol session.Protocol[FReq, FResp]

	sessionQueue *queue.Queue[*session.Session[FReq, FResp]]
	signalQueue  *queue.Queue[server.Signal]
	timeout      time.Duration

	toBackend   []*queue.Queue[backendWorkItem[BReq]]
	nextBackend int
	fromBackend *queue.Queue[frontendResult[BResp]]

	sessions   map[poll.Token]*session.Session[FReq, FResp]
	pendingReq map[poll.Token]FReq
	nextToken  int

	convertReq  func(FReq) BReq
	convertResp func(BResp) FResp
	convertErr  func(error) FResp

	metrics *EventMetrics
	logger  *zap.SugaredLogger
}

// NewFrontendWorker builds a FrontendWorker that fans requests out to
// toBackend (one queue per BackendWorker, chosen round-robin per
// request) and reads results back from its own fromBackend queue,
// which every BackendWorker's BindOutbound is pointed at for this
// worker's id.
func NewFrontendWorker[FReq, FResp, BReq, BResp any](
	id int,
	protocol session.Protocol[FReq, FResp],
	timeout time.Duration,
	signalQueue *queue.Queue[server.Signal],
	toBackend []*queue.Queue[backendWorkItem[BReq]],
	convertReq func(FReq) BReq,
	convertResp func(BResp) FResp,
	convertErr func(error) FResp,
	metrics *EventMetrics,
	logger *zap.SugaredLogger,
) (*FrontendWorker[FReq, FResp, BReq, BResp], *queue.Queue[frontendResult[BResp]], error) {
	p, err := poll.New()
	if err != nil {
		return nil, nil, err
	}
	w, err := poll.NewWaker(p)
	if err != nil {
		p.Close()
		return nil, nil, err
	}

	fw := &FrontendWorker[FReq, FResp, BReq, BResp]{
		id:          id,
		poll:        p,
		waker:       w,
		protocol:    protocol,
		timeout:     timeout,
		signalQueue: signalQueue,
		toBackend:   toBackend,
		sessions:    make(map[poll.Token]*session.Session[FReq, FResp]),
		pendingReq:  make(map[poll.Token]FReq),
		convertReq:  convertReq,
		convertResp: convertResp,
		convertErr:  convertErr,
		metrics:     metrics,
		logger:      logger,
	}
	fw.fromBackend = queue.New[frontendResult[BResp]](w)
	return fw, fw.fromBackend, nil
}

// Waker returns the waker the proxy's Listener calls after handing off
// a new client session.
func (fw *FrontendWorker[FReq, FResp, BReq, BResp]) Waker() poll.Waker { return fw.waker }

func (fw *FrontendWorker[FReq, FResp, BReq, BResp]) Run() {
	events := make([]poll.Event, 0, MaxEventsPerWait)
	for {
		var err error
		events, err = fw.poll.Wait(events[:0], fw.timeout)
		if err != nil {
			fw.logger.Errorw("frontend poll wait failed", "frontend", fw.id, "error", err)
			continue
		}
		fw.metrics.RecordBatch(len(events))

		for _, ev := range events {
			if ev.Token == poll.WakerToken {
				if fw.drainControl() {
					return
				}
				continue
			}
			fw.handle(ev)
		}
	}
}

func (fw *FrontendWorker[FReq, FResp, BReq, BResp]) drainControl() bool {
	fw.waker.Reset()

	var incoming []*session.Session[FReq, FResp]
	fw.sessionQueue.TryRecvAll(&incoming)
	for _, sess := range incoming {
		fw.register(sess)
	}

	var results []frontendResult[BResp]
	fw.fromBackend.TryRecvAll(&results)
	for _, res := range results {
		fw.deliver(res)
	}

	var signals []server.Signal
	fw.signalQueue.TryRecvAll(&signals)
	for _, sig := range signals {
		if sig == server.SignalShutdown {
			return true
		}
	}
	return false
}

func (fw *FrontendWorker[FReq, FResp, BReq, BResp]) register(sess *session.Session[FReq, FResp]) {
	token := poll.Token(fw.nextToken)
	fw.nextToken++
	sess.SetToken(token)
	fw.sessions[token] = sess

	fd, err := sess.FD()
	if err != nil {
		sess.Close()
		delete(fw.sessions, token)
		return
	}
	if err := fw.poll.Register(fd, token, sess.Interest()); err != nil {
		sess.Close()
		delete(fw.sessions, token)
	}
}

// deliver routes one backend result (or failure) back to the client
// session it belongs to, handles protocol-mandated hangup, and —
// matching spec §4.10.1's pipelining note — attempts to parse and
// forward another already-buffered request immediately.
func (fw *FrontendWorker[FReq, FResp, BReq, BResp]) deliver(res frontendResult[BResp]) {
	sess, ok := fw.sessions[res.frontendTok]
	if !ok {
		return // session closed while its request was in flight
	}
	origReq, ok := fw.pendingReq[res.frontendTok]
	if !ok {
		return
	}
	delete(fw.pendingReq, res.frontendTok)

	var resp FResp
	if res.err != nil {
		resp = fw.convertErr(res.err)
	} else {
		resp = fw.convertResp(res.resp)
	}
	sess.Send(origReq, resp)

	if fw.protocol.Hangup(origReq) {
		fw.close(sess)
		return
	}
	if sess.WritePending() > 0 {
		fw.reregister(sess)
	}
	if sess.Remaining() > 0 {
		fw.receiveAndForward(sess)
	}
}

func (fw *FrontendWorker[FReq, FResp, BReq, BResp]) handle(ev poll.Event) {
	sess, ok := fw.sessions[ev.Token]
	if !ok {
		return
	}

	fw.metrics.Total.Increment()
	if ev.Error {
		fw.metrics.Error.Increment()
		fw.close(sess)
		return
	}

	if ev.Writable {
		fw.metrics.Write.Increment()
		if err := sess.Flush(); err != nil {
			fw.close(sess)
			return
		}
	}

	if ev.Readable && !fw.hasPending(sess.Token()) {
		fw.metrics.Read.Increment()
		if _, err := sess.Fill(); err != nil {
			fw.close(sess)
			return
		}
		fw.receiveAndForward(sess)
	}
}

func (fw *FrontendWorker[FReq, FResp, BReq, BResp]) hasPending(token poll.Token) bool {
	_, ok := fw.pendingReq[token]
	return ok
}

// receiveAndForward parses at most one request already buffered for
// sess and forwards it to the next backend worker, round-robin (spec
// §4.10.1 frontend loop: parse, convert, try_send; do not respond yet).
func (fw *FrontendWorker[FReq, FResp, BReq, BResp]) receiveAndForward(sess *session.Session[FReq, FResp]) {
	req, err := sess.Receive()
	if err != nil {
		if isParseWouldBlock(err) {
			return
		}
		fw.close(sess)
		return
	}

	idx := fw.nextBackend % len(fw.toBackend)
	fw.nextBackend++
	item := backendWorkItem[BReq]{req: fw.convertReq(req), frontendID: fw.id, frontendTok: sess.Token()}
	if err := fw.toBackend[idx].TrySend(item); err != nil {
		fw.logger.Warnw("backend queue full, dropping session", "frontend", fw.id)
		fw.close(sess)
		return
	}
	fw.toBackend[idx].Wake()
	fw.pendingReq[sess.Token()] = req
}

func (fw *FrontendWorker[FReq, FResp, BReq, BResp]) reregister(sess *session.Session[FReq, FResp]) {
	fd, err := sess.FD()
	if err != nil {
		fw.close(sess)
		return
	}
	if err := fw.poll.Reregister(fd, sess.Token(), sess.Interest()); err != nil {
		fw.close(sess)
	}
}

func (fw *FrontendWorker[FReq, FResp, BReq, BResp]) close(sess *session.Session[FReq, FResp]) {
	if fd, err := sess.FD(); err == nil {
		fw.poll.Deregister(fd)
	}
	delete(fw.sessions, sess.Token())
	delete(fw.pendingReq, sess.Token())
	sess.Close()
}
