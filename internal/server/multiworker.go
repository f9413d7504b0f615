package server

import (
	"go.uber.org/zap"

	"github.com/iamNilotpal/pelikan/internal/poll"
	"github.com/iamNilotpal/pelikan/internal/queue"
	"github.com/iamNilotpal/pelikan/internal/session"
)

// MultiWorker is one worker thread of the multi-worker topology (spec
// §4.9): it parses requests and forwards them to the StorageWorker
// rather than executing them in-thread, then composes and flushes
// whatever responses the StorageWorker has sent back since the last
// wake. Sessions with a request awaiting a storage response are not
// polled for read again until that response lands, preserving
// per-session request ordering.
type MultiWorker[Req, Resp any] struct {
	id int

	poll  poll.Poll
	waker poll.Waker

	sessionQueue *queue.Queue[*session.Session[Req, Resp]]
	signalQueue  *queue.Queue[Signal]

	toStorage   *queue.Queue[workItem[Req]]
	fromStorage *queue.Queue[resultItem[Req, Resp]]

	sessions  map[poll.Token]*session.Session[Req, Resp]
	pending   map[poll.Token]bool // awaiting a storage response
	nextToken int

	metrics *EventMetrics
	logger  *zap.SugaredLogger
}

// NewMultiWorker builds a MultiWorker that sends work through toStorage
// (already paired with the StorageWorker's own waker at construction)
// and reads results from fromStorage.
func NewMultiWorker[Req, Resp any](
	id int,
	sessionQueue *queue.Queue[*session.Session[Req, Resp]],
	signalQueue *queue.Queue[Signal],
	toStorage *queue.Queue[workItem[Req]],
	metrics *EventMetrics,
	logger *zap.SugaredLogger,
) (*MultiWorker[Req, Resp], *queue.Queue[resultItem[Req, Resp]], error) {
	p, err := poll.New()
	if err != nil {
		return nil, nil, err
	}
	w, err := poll.NewWaker(p)
	if err != nil {
		p.Close()
		return nil, nil, err
	}
	mw := &MultiWorker[Req, Resp]{
		id:           id,
		poll:         p,
		waker:        w,
		sessionQueue: sessionQueue,
		signalQueue:  signalQueue,
		toStorage:    toStorage,
		sessions:     make(map[poll.Token]*session.Session[Req, Resp]),
		pending:      make(map[poll.Token]bool),
		metrics:      metrics,
		logger:       logger,
	}
	mw.fromStorage = queue.New[resultItem[Req, Resp]](w)
	return mw, mw.fromStorage, nil
}

// Waker returns the waker the Listener calls after handing off a new
// session.
func (mw *MultiWorker[Req, Resp]) Waker() poll.Waker { return mw.waker }

func (mw *MultiWorker[Req, Resp]) Run() {
	events := make([]poll.Event, 0, MaxEventsPerWait)
	for {
		var err error
		events, err = mw.poll.Wait(events[:0], pollTimeout)
		if err != nil {
			mw.logger.Errorw("worker poll wait failed", "worker", mw.id, "error", err)
			continue
		}
		mw.metrics.RecordBatch(len(events))

		for _, ev := range events {
			if ev.Token == poll.WakerToken {
				if mw.drainControl() {
					return
				}
				continue
			}
			mw.handle(ev)
		}
	}
}

func (mw *MultiWorker[Req, Resp]) drainControl() bool {
	mw.waker.Reset()

	var incoming []*session.Session[Req, Resp]
	mw.sessionQueue.TryRecvAll(&incoming)
	for _, sess := range incoming {
		mw.register(sess)
	}

	var results []resultItem[Req, Resp]
	mw.fromStorage.TryRecvAll(&results)
	for _, res := range results {
		mw.deliver(res)
	}

	var signals []Signal
	mw.signalQueue.TryRecvAll(&signals)
	for _, sig := range signals {
		if sig == SignalShutdown {
			return true
		}
	}
	return false
}

func (mw *MultiWorker[Req, Resp]) register(sess *session.Session[Req, Resp]) {
	token := poll.Token(mw.nextToken)
	mw.nextToken++
	sess.SetToken(token)
	mw.sessions[token] = sess

	fd, err := sess.FD()
	if err != nil {
		sess.Close()
		delete(mw.sessions, token)
		return
	}
	if err := mw.poll.Register(fd, token, sess.Interest()); err != nil {
		sess.Close()
		delete(mw.sessions, token)
	}
}

func (mw *MultiWorker[Req, Resp]) deliver(res resultItem[Req, Resp]) {
	sess, ok := mw.sessions[res.token]
	if !ok {
		return // session closed while its request was in flight
	}
	sess.Send(res.req, res.resp)
	delete(mw.pending, res.token)
	mw.reregister(sess)
}

func (mw *MultiWorker[Req, Resp]) handle(ev poll.Event) {
	sess, ok := mw.sessions[ev.Token]
	if !ok {
		return
	}

	mw.metrics.Total.Increment()
	if ev.Error {
		mw.metrics.Error.Increment()
		mw.close(sess)
		return
	}

	if ev.Writable {
		mw.metrics.Write.Increment()
		if err := sess.Flush(); err != nil {
			mw.close(sess)
			return
		}
	}

	if ev.Readable && !mw.pending[ev.Token] {
		mw.metrics.Read.Increment()
		mw.read(sess)
	}
}

// read fills the buffer and forwards at most one parsed request to
// storage, then stops polling this session for read until the response
// arrives (spec §4.9.2: responses are emitted in request order).
func (mw *MultiWorker[Req, Resp]) read(sess *session.Session[Req, Resp]) {
	if _, err := sess.Fill(); err != nil {
		mw.close(sess)
		return
	}
	req, err := sess.Receive()
	if err != nil {
		if isWouldBlock(err) {
			return
		}
		mw.close(sess)
		return
	}
	if err := mw.toStorage.TrySend(workItem[Req]{req: req, token: sess.Token()}); err != nil {
		mw.logger.Errorw("storage queue full, dropping request", "worker", mw.id)
		return
	}
	mw.toStorage.Wake()
	mw.pending[sess.Token()] = true
}

func (mw *MultiWorker[Req, Resp]) reregister(sess *session.Session[Req, Resp]) {
	fd, err := sess.FD()
	if err != nil {
		mw.close(sess)
		return
	}
	if err := mw.poll.Reregister(fd, sess.Token(), sess.Interest()); err != nil {
		mw.close(sess)
	}
}

func (mw *MultiWorker[Req, Resp]) close(sess *session.Session[Req, Resp]) {
	if fd, err := sess.FD(); err == nil {
		mw.poll.Deregister(fd)
	}
	delete(mw.sessions, sess.Token())
	delete(mw.pending, sess.Token())
	sess.Close()
}
