package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/iamNilotpal/pelikan/internal/poll"
	"github.com/iamNilotpal/pelikan/internal/queue"
	"github.com/iamNilotpal/pelikan/internal/session"
	"github.com/iamNilotpal/pelikan/pkg/errors"
)

// Executor runs req to completion and returns the response to compose,
// one call per parsed request. The single-worker topology's Worker
// calls it directly (in-thread); the multi-worker topology's
// StorageWorker calls it instead, off the worker threads entirely
// (spec §4.9: "this isolates storage mutation to one thread").
type Executor[Req, Resp any] interface {
	Execute(req Req) Resp
}

// pollTimeout bounds how long a thread's Poll.Wait blocks before
// looping back to recheck its signal queue, so shutdown is never stuck
// behind an idle poll with no registered events.
const pollTimeout = 200 * time.Millisecond

// Worker runs the single-worker topology's event loop (spec §4.9):
// sessions are parsed, executed directly against storage, composed, and
// flushed without leaving the worker thread. One session = one poll
// token; sessions arrive through sessionQueue from the Listener.
type Worker[Req, Resp any] struct {
	id int

	poll  poll.Poll
	waker poll.Waker

	sessionQueue *queue.Queue[*session.Session[Req, Resp]]
	signalQueue  *queue.Queue[Signal]

	exec Executor[Req, Resp]

	sessions  map[poll.Token]*session.Session[Req, Resp]
	nextToken int

	metrics *EventMetrics
	logger  *zap.SugaredLogger
}

// NewWorker builds a Worker with its own Poll and Waker, recording its
// event counts in the already-registered metrics.
func NewWorker[Req, Resp any](
	id int,
	exec Executor[Req, Resp],
	sessionQueue *queue.Queue[*session.Session[Req, Resp]],
	signalQueue *queue.Queue[Signal],
	metrics *EventMetrics,
	logger *zap.SugaredLogger,
) (*Worker[Req, Resp], error) {
	p, err := poll.New()
	if err != nil {
		return nil, err
	}
	w, err := poll.NewWaker(p)
	if err != nil {
		p.Close()
		return nil, err
	}
	return &Worker[Req, Resp]{
		id:           id,
		poll:         p,
		waker:        w,
		sessionQueue: sessionQueue,
		signalQueue:  signalQueue,
		exec:         exec,
		sessions:     make(map[poll.Token]*session.Session[Req, Resp]),
		metrics:      metrics,
		logger:       logger,
	}, nil
}

// Waker returns the waker the Listener calls to nudge this worker after
// handing off a new session.
func (w *Worker[Req, Resp]) Waker() poll.Waker { return w.waker }

// Run drives the event loop until a SignalShutdown arrives on
// signalQueue or the poll itself errors unrecoverably.
func (w *Worker[Req, Resp]) Run() {
	events := make([]poll.Event, 0, MaxEventsPerWait)
	for {
		var err error
		events, err = w.poll.Wait(events[:0], pollTimeout)
		if err != nil {
			w.logger.Errorw("worker poll wait failed", "worker", w.id, "error", err)
			continue
		}
		w.metrics.RecordBatch(len(events))

		for _, ev := range events {
			if ev.Token == poll.WakerToken {
				if w.drainControl() {
					return
				}
				continue
			}
			w.handle(ev)
		}
	}
}

// drainControl processes newly handed-off sessions and pending signals;
// it returns true if a shutdown signal was seen.
func (w *Worker[Req, Resp]) drainControl() bool {
	w.waker.Reset()

	var incoming []*session.Session[Req, Resp]
	w.sessionQueue.TryRecvAll(&incoming)
	for _, sess := range incoming {
		w.register(sess)
	}

	var signals []Signal
	w.signalQueue.TryRecvAll(&signals)
	for _, sig := range signals {
		if sig == SignalShutdown {
			return true
		}
	}
	return false
}

func (w *Worker[Req, Resp]) register(sess *session.Session[Req, Resp]) {
	token := poll.Token(w.nextToken)
	w.nextToken++
	sess.SetToken(token)
	w.sessions[token] = sess

	fd, err := sess.FD()
	if err != nil {
		w.logger.Errorw("failed to extract session fd", "worker", w.id, "error", err)
		sess.Close()
		delete(w.sessions, token)
		return
	}
	if err := w.poll.Register(fd, token, sess.Interest()); err != nil {
		w.logger.Errorw("failed to register session", "worker", w.id, "error", err)
		sess.Close()
		delete(w.sessions, token)
	}
}

func (w *Worker[Req, Resp]) handle(ev poll.Event) {
	sess, ok := w.sessions[ev.Token]
	if !ok {
		return
	}

	w.metrics.Total.Increment()
	if ev.Error {
		w.metrics.Error.Increment()
		w.close(sess)
		return
	}

	if ev.Writable {
		w.metrics.Write.Increment()
		if err := sess.Flush(); err != nil {
			logSessionError(w.logger, w.id, "flush", err)
			w.close(sess)
			return
		}
	}

	if ev.Readable {
		w.metrics.Read.Increment()
		if !w.readAndExecute(sess) {
			return // session was closed
		}
	}

	w.reregister(sess)
}

// readAndExecute fills the session's read buffer and executes every
// complete request already buffered, pipelining within one session
// (spec §4.10.1: within a session, requests are sequential but several
// may already be buffered). Returns false if the session was closed.
func (w *Worker[Req, Resp]) readAndExecute(sess *session.Session[Req, Resp]) bool {
	if _, err := sess.Fill(); err != nil {
		logSessionError(w.logger, w.id, "fill", err)
		w.close(sess)
		return false
	}

	for {
		req, err := sess.Receive()
		if err != nil {
			if isWouldBlock(err) {
				break
			}
			logSessionError(w.logger, w.id, "receive", err)
			w.close(sess)
			return false
		}
		resp := w.exec.Execute(req)
		sess.Send(req, resp)
		if sess.Remaining() == 0 {
			break
		}
	}

	if err := sess.Flush(); err != nil {
		logSessionError(w.logger, w.id, "flush", err)
		w.close(sess)
		return false
	}
	return true
}

func (w *Worker[Req, Resp]) reregister(sess *session.Session[Req, Resp]) {
	fd, err := sess.FD()
	if err != nil {
		w.close(sess)
		return
	}
	if err := w.poll.Reregister(fd, sess.Token(), sess.Interest()); err != nil {
		w.close(sess)
	}
}

func (w *Worker[Req, Resp]) close(sess *session.Session[Req, Resp]) {
	if fd, err := sess.FD(); err == nil {
		w.poll.Deregister(fd)
	}
	delete(w.sessions, sess.Token())
	sess.Close()
}

func isWouldBlock(err error) bool {
	pe, ok := errors.AsProtocolError(err)
	return ok && pe.Code() == errors.ErrorCodeParseWouldBlock
}

// logSessionError records a session-ending I/O failure with whatever
// structured context the error carries (errors.GetErrorCode/
// GetErrorDetails fall back to ErrorCodeInternal/an empty map for plain
// errors, so this works for net.OpError too, not just *errors.*Error).
// Storage and index failures close a session the same way a protocol
// error does, but they indicate engine trouble rather than a
// misbehaving client, so they're logged at Error; validation failures
// are logged at Warn and everything else (protocol errors, peer
// resets, ...) at Debug.
func logSessionError(log *zap.SugaredLogger, workerID int, op string, err error) {
	fields := []any{"worker", workerID, "op", op, "code", errors.GetErrorCode(err), "error", err}
	for k, v := range errors.GetErrorDetails(err) {
		fields = append(fields, k, v)
	}
	if errors.IsStorageError(err) || errors.IsIndexError(err) {
		log.Errorw("session i/o failed", fields...)
		return
	}
	if errors.IsValidationError(err) {
		log.Warnw("session i/o failed", fields...)
		return
	}
	log.Debugw("session i/o failed", fields...)
}
