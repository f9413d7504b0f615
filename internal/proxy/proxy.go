package proxy

import (
	"context"
	"crypto/tls"
	"fmt"

	"go.uber.org/zap"

	"github.com/iamNilotpal/pelikan/internal/config"
	"github.com/iamNilotpal/pelikan/internal/metrics"
	"github.com/iamNilotpal/pelikan/internal/queue"
	"github.com/iamNilotpal/pelikan/internal/server"
	"github.com/iamNilotpal/pelikan/internal/session"
)

// Proxy wires a Listener, one Admin, cfg.Proxy.Frontend.Threads
// FrontendWorkers and cfg.Proxy.Backend.Threads BackendWorkers together
// (spec §4.10: "the proxy exposes the same server edge (admin +
// listener + frontend workers)" over a backend pool with no local
// storage). Generalizes internal/server.Server's topology construction
// from a single worker role to the frontend/backend pair.
type Proxy[FReq, FResp, BReq, BResp any] struct {
	logger *zap.SugaredLogger

	listener *server.Listener[FReq, FResp]
	admin    *server.Admin

	runWorkers func()
}

// New builds a Proxy translating FReq/FResp client requests into
// BReq/BResp upstream requests via convertReq/convertResp/convertErr,
// the Go stand-in for the Rust reference's From<T> conversions between
// BackendRequest and FrontendRequest (spec §4.10.1).
func New[FReq, FResp, BReq, BResp any](
	cfg *config.Config,
	frontendProtocol session.Protocol[FReq, FResp],
	backendProtocol Protocol[BReq, BResp],
	convertReq func(FReq) BReq,
	convertResp func(BResp) FResp,
	convertErr func(error) FResp,
	reg *metrics.Registry,
	logger *zap.SugaredLogger,
) (*Proxy[FReq, FResp, BReq, BResp], error) {
	sessionCfg := session.Config{InitSize: cfg.Seg.BufOptions.InitSize, MaxSize: cfg.Seg.BufOptions.MaxSize}

	var tlsConfig *tls.Config
	if cfg.Proxy.Listener.UseTLS {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.Certificate, cfg.TLS.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("loading tls keypair: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	frontendThreads := cfg.Proxy.Frontend.Threads
	if frontendThreads < 1 {
		frontendThreads = 1
	}
	backendThreads := cfg.Proxy.Backend.Threads
	if backendThreads < 1 {
		backendThreads = 1
	}

	adminSignal := queue.New[server.Signal](nil)
	signalQueues := []server.SignalSink{adminSignal}

	backendWorkers := make([]*BackendWorker[BReq, BResp], backendThreads)
	backendInbound := make([][]*queue.Queue[backendWorkItem[BReq]], backendThreads)
	for i := 0; i < backendThreads; i++ {
		backendSignal := queue.New[server.Signal](nil)
		signalQueues = append(signalQueues, backendSignal)

		backendMetrics := NewEventMetrics(reg, fmt.Sprintf("backend_%d", i))
		bw, inbound, err := NewBackendWorker(
			i, cfg.Proxy.Backend.Endpoints, cfg.Proxy.Backend.PoolSize, cfg.Proxy.Backend.Timeout,
			backendProtocol, sessionCfg, frontendThreads, backendSignal, backendMetrics, logger,
		)
		if err != nil {
			return nil, fmt.Errorf("creating backend worker %d: %w", i, err)
		}
		backendWorkers[i] = bw
		backendInbound[i] = inbound
	}

	var sessionQueues []*queue.Queue[*session.Session[FReq, FResp]]
	var runners []func()

	for i := 0; i < frontendThreads; i++ {
		frontendSignal := queue.New[server.Signal](nil)
		signalQueues = append(signalQueues, frontendSignal)

		fwToBackend := make([]*queue.Queue[backendWorkItem[BReq]], backendThreads)
		for b, inbound := range backendInbound {
			fwToBackend[b] = inbound[i]
		}

		frontendMetrics := NewEventMetrics(reg, fmt.Sprintf("frontend_%d", i))
		fw, fromBackend, err := NewFrontendWorker(
			i, frontendProtocol, cfg.Proxy.Frontend.Timeout, frontendSignal, fwToBackend,
			convertReq, convertResp, convertErr, frontendMetrics, logger,
		)
		if err != nil {
			return nil, fmt.Errorf("creating frontend worker %d: %w", i, err)
		}

		for _, bw := range backendWorkers {
			bw.BindOutbound(i, fromBackend)
		}

		sq := queue.New[*session.Session[FReq, FResp]](fw.Waker())
		fw.sessionQueue = sq
		sessionQueues = append(sessionQueues, sq)
		runners = append(runners, fw.Run)
	}
	for _, bw := range backendWorkers {
		runners = append(runners, bw.Run)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Proxy.Listener.Host, cfg.Proxy.Listener.Port)
	ln, err := server.NewListener(addr, tlsConfig, frontendProtocol, sessionCfg, sessionQueues, logger)
	if err != nil {
		return nil, fmt.Errorf("binding proxy listener: %w", err)
	}

	adminAddr := fmt.Sprintf("%s:%d", cfg.Admin.Host, cfg.Admin.Port)
	admin := server.NewAdmin(adminAddr, reg, "pelikan_proxy", signalQueues, logger)

	return &Proxy[FReq, FResp, BReq, BResp]{
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

// Start launches every frontend/backend thread, the listener, and the
// admin endpoint, and blocks until ctx is cancelled, a SIGINT/SIGTERM/
// SIGQUIT arrives, or the listener errors — the same shutdown join
// internal/server.Server.Start performs.
func (p *Proxy[FReq, FResp, BReq, BResp]) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.runWorkers()
	p.admin.WatchSignals(cancel)

	errCh := make(chan error, 1)
	go func() {
		if err := p.listener.Run(); err != nil {
			errCh <- err
		}
	}()

	adminErrCh := make(chan error, 1)
	go func() {
		adminErrCh <- p.admin.Run(runCtx)
	}()

	select {
	case <-runCtx.Done():
		p.listener.Close()
		p.admin.Broadcast(server.SignalShutdown)
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
