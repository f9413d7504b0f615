package server

import (
	"context"
	"crypto/tls"
	"fmt"

	"go.uber.org/zap"

	"github.com/iamNilotpal/pelikan/internal/config"
	"github.com/iamNilotpal/pelikan/internal/metrics"
	"github.com/iamNilotpal/pelikan/internal/queue"
	"github.com/iamNilotpal/pelikan/internal/session"
)

// Server wires a Listener, one Admin, and either the single-worker or
// multi-worker+storage topology together (spec §4.9: "threads > 1
// selects the multi-worker topology, isolating storage mutation to a
// single thread"), picked from cfg.Worker.Threads the way the Rust
// reference's WorkersBuilder::build does.
type Server[Req, Resp any] struct {
	cfg    *config.Config
	logger *zap.SugaredLogger

	listener *Listener[Req, Resp]
	admin    *Admin

	runWorkers func()
}

// New builds a Server for protocol, executing requests via exec. When
// cfg.Worker.Threads == 1 this is the single-worker topology (exec runs
// in-thread); otherwise exec runs on a single StorageWorker shared by
// cfg.Worker.Threads MultiWorkers.
func New[Req, Resp any](
	cfg *config.Config,
	exec Executor[Req, Resp],
	protocol session.Protocol[Req, Resp],
	reg *metrics.Registry,
	logger *zap.SugaredLogger,
) (*Server[Req, Resp], error) {
	sessionCfg := session.Config{InitSize: cfg.Seg.BufOptions.InitSize, MaxSize: cfg.Seg.BufOptions.MaxSize}

	var tlsConfig *tls.Config
	if cfg.Server.UseTLS {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.Certificate, cfg.TLS.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("loading tls keypair: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	threads := cfg.Worker.Threads
	if threads < 1 {
		threads = 1
	}

	adminSignal := queue.New[Signal](nil)
	signalQueues := []SignalSink{adminSignal}

	var workerQueues []*queue.Queue[*session.Session[Req, Resp]]
	var runners []func()

	if threads == 1 {
		workerMetrics := NewWorkerMetrics(reg, "worker_0")
		w, err := NewWorker(0, exec, nil, adminSignal, workerMetrics, logger)
		if err != nil {
			return nil, fmt.Errorf("creating worker: %w", err)
		}
		sq := queue.New[*session.Session[Req, Resp]](w.Waker())
		w.sessionQueue = sq
		workerQueues = append(workerQueues, sq)
		runners = append(runners, w.Run)
	} else {
		storageMetrics := NewWorkerMetrics(reg, "storage")
		storageSignal := queue.New[Signal](nil)
		signalQueues = append(signalQueues, storageSignal)

		sw, inbound, err := NewStorageWorker(exec, threads, storageSignal, storageMetrics, logger)
		if err != nil {
			return nil, fmt.Errorf("creating storage worker: %w", err)
		}

		mws := make([]*MultiWorker[Req, Resp], threads)
		for i := 0; i < threads; i++ {
			workerMetrics := NewWorkerMetrics(reg, fmt.Sprintf("worker_%d", i))
			mw, outbound, err := NewMultiWorker(i, nil, adminSignal, inbound[i], workerMetrics, logger)
			if err != nil {
				return nil, fmt.Errorf("creating multiworker %d: %w", i, err)
			}
			sw.BindOutbound(i, outbound)
			sq := queue.New[*session.Session[Req, Resp]](mw.Waker())
			mw.sessionQueue = sq
			workerQueues = append(workerQueues, sq)
			mws[i] = mw
		}

		runners = append(runners, sw.Run)
		for _, mw := range mws {
			runners = append(runners, mw.Run)
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	ln, err := NewListener(addr, tlsConfig, protocol, sessionCfg, workerQueues, logger)
	if err != nil {
		return nil, fmt.Errorf("binding listener: %w", err)
	}

	adminAddr := fmt.Sprintf("%s:%d", cfg.Admin.Host, cfg.Admin.Port)
	admin := NewAdmin(adminAddr, reg, "pelikan", signalQueues, logger)

	return &Server[Req, Resp]{
		cfg:      cfg,
		logger:   logger,
		listener: ln,
		admin:    admin,
		runWorkers: func() {
			for _, run := range runners {
				go run()
			}
		},
	}, nil
}

// Start launches every worker/storage thread, the listener, and the
// admin endpoint, and blocks until ctx is cancelled, a SIGINT/SIGTERM/
// SIGQUIT arrives, or the listener errors.
func (s *Server[Req, Resp]) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.runWorkers()
	s.admin.WatchSignals(cancel)

	errCh := make(chan error, 1)
	go func() {
		if err := s.listener.Run(); err != nil {
			errCh <- err
		}
	}()

	adminErrCh := make(chan error, 1)
	go func() {
		adminErrCh <- s.admin.Run(runCtx)
	}()

	select {
	case <-runCtx.Done():
		s.listener.Close()
		s.admin.Broadcast(SignalShutdown)
		<-adminErrCh
		return nil
	case err := <-errCh:
		cancel()
		<-adminErrCh
		return err
	case err := <-adminErrCh:
		return err
	}
}
