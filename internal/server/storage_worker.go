package server

import (
	"go.uber.org/zap"

	"github.com/iamNilotpal/pelikan/internal/poll"
	"github.com/iamNilotpal/pelikan/internal/queue"
)

// workItem carries one parsed request from a MultiWorker to the
// StorageWorker, tagged with enough to route the response back.
type workItem[Req any] struct {
	req   Req
	token poll.Token
}

// resultItem carries one executed response back from the StorageWorker
// to the MultiWorker that forwarded the request.
type resultItem[Req, Resp any] struct {
	req   Req
	resp  Resp
	token poll.Token
}

// StorageWorker is the multi-worker topology's single storage thread
// (spec §4.9: "this isolates storage mutation to one thread,
// eliminating locks"). It owns one inbound queue per MultiWorker and
// one outbound queue back to that same worker.
type StorageWorker[Req, Resp any] struct {
	exec Executor[Req, Resp]

	inbound  []*queue.Queue[workItem[Req]]
	outbound []*queue.Queue[resultItem[Req, Resp]]

	signalQueue *queue.Queue[Signal]
	waker       poll.Waker
	poll        poll.Poll

	metrics *EventMetrics
	logger  *zap.SugaredLogger
}

// NewStorageWorker builds a StorageWorker servicing workerCount
// MultiWorkers, each with its own inbound/outbound queue pair.
func NewStorageWorker[Req, Resp any](
	exec Executor[Req, Resp],
	workerCount int,
	signalQueue *queue.Queue[Signal],
	metrics *EventMetrics,
	logger *zap.SugaredLogger,
) (*StorageWorker[Req, Resp], []*queue.Queue[workItem[Req]], error) {
	p, err := poll.New()
	if err != nil {
		return nil, nil, err
	}
	w, err := poll.NewWaker(p)
	if err != nil {
		p.Close()
		return nil, nil, err
	}

	sw := &StorageWorker[Req, Resp]{
		exec:        exec,
		signalQueue: signalQueue,
		waker:       w,
		poll:        p,
		metrics:     metrics,
		logger:      logger,
	}
	sw.inbound = make([]*queue.Queue[workItem[Req]], workerCount)
	sw.outbound = make([]*queue.Queue[resultItem[Req, Resp]], workerCount)
	for i := range sw.inbound {
		sw.inbound[i] = queue.New[workItem[Req]](w)
	}
	return sw, sw.inbound, nil
}

// BindOutbound records the queue the StorageWorker pushes workerID's
// results through; called once per worker after construction since the
// worker's own waker must exist first.
func (sw *StorageWorker[Req, Resp]) BindOutbound(workerID int, q *queue.Queue[resultItem[Req, Resp]]) {
	sw.outbound[workerID] = q
}

// Waker is what MultiWorkers call to nudge the storage thread after
// enqueueing work.
func (sw *StorageWorker[Req, Resp]) Waker() poll.Waker { return sw.waker }

// Run drains every worker's inbound queue in round-robin order,
// executing each request and routing the result to the matching
// outbound queue, until a SignalShutdown arrives.
func (sw *StorageWorker[Req, Resp]) Run() {
	events := make([]poll.Event, 0, 4)
	for {
		var err error
		events, err = sw.poll.Wait(events[:0], pollTimeout)
		if err != nil {
			sw.logger.Errorw("storage poll wait failed", "error", err)
			continue
		}
		sw.metrics.RecordBatch(len(events))
		sw.waker.Reset()

		var signals []Signal
		sw.signalQueue.TryRecvAll(&signals)
		for _, sig := range signals {
			if sig == SignalShutdown {
				return
			}
		}

		for i, q := range sw.inbound {
			var items []workItem[Req]
			q.TryRecvAll(&items)
			for _, item := range items {
				resp := sw.exec.Execute(item.req)
				sw.outbound[i].TrySend(resultItem[Req, Resp]{req: item.req, resp: resp, token: item.token})
				sw.outbound[i].Wake()
			}
		}
	}
}
