package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iamNilotpal/pelikan/internal/metrics"
)

// Admin is the process's administrative HTTP endpoint (spec's
// `admin` config group: host, port, timeout, nevent, use_tls) and its
// SIGINT/SIGTERM/SIGQUIT handling. Wire protocol grammars for admin are
// a named Non-goal of the base spec ("reimplementers may choose
// idiomatic local equivalents"); this is that local equivalent, in the
// same shape as the Rust reference's warp-based `/metrics`, `/vars`,
// `/metrics.json` routes (original_source
// server/pingserver/src/tokio/admin.rs), rebuilt on net/http and
// promhttp since those are the ecosystem's standard stand-ins for
// warp in a Go codebase.
type Admin struct {
	srv          *http.Server
	registry     *metrics.Registry
	signalQueues []SignalSink
	logger       *zap.SugaredLogger
}

// SignalSink is the subset of queue.Queue[Signal] Admin needs to
// broadcast a shutdown, named as its own interface so this file doesn't
// need the generic Req/Resp parameters the rest of the package
// carries. Exported so internal/proxy, which shares this Admin and
// Signal type for its own threads (spec §4.10: "the proxy exposes the
// same server edge"), can build its own []SignalSink slice.
type SignalSink interface {
	TrySend(Signal) error
	Wake() error
}

// NewAdmin builds the admin HTTP server bound to addr, exposing
// Prometheus-format metrics at /metrics and a plaintext summary at
// /vars. namespace prefixes every exported metric name.
func NewAdmin(addr string, registry *metrics.Registry, namespace string, signalQueues []SignalSink, logger *zap.SugaredLogger) *Admin {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewCollector(registry, namespace))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/vars", func(w http.ResponseWriter, r *http.Request) {
		snap := registry.Snapshot()
		for name, v := range snap.Counters {
			fmt.Fprintf(w, "%s: %d\n", name, v)
		}
		for name, v := range snap.Gauges {
			fmt.Fprintf(w, "%s: %d\n", name, v)
		}
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, Version)
	})

	return &Admin{
		srv:          &http.Server{Addr: addr, Handler: mux},
		registry:     registry,
		signalQueues: signalQueues,
		logger:       logger,
	}
}

// Version is the admin /version response; overridden at build time via
// -ldflags in the real binary, left as a plain constant here since
// version stamping is outside this package's concern.
var Version = "dev"

// Run serves admin HTTP until ctx is cancelled, then shuts down
// gracefully.
func (a *Admin) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// WatchSignals broadcasts SignalShutdown to every thread's signal queue
// on SIGINT/SIGTERM/SIGQUIT, and cancels cancel so Run (and the rest of
// the process) can unwind (spec §4.9.3: "Admin broadcasts Shutdown on
// the signal queues ... the parent joins all worker, storage, listener,
// and admin threads").
func (a *Admin) WatchSignals(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-sigCh
		a.logger.Infow("received signal, broadcasting shutdown", "signal", sig)
		a.Broadcast(SignalShutdown)
		cancel()
	}()
}

// Broadcast sends sig to every registered thread signal queue.
func (a *Admin) Broadcast(sig Signal) {
	for _, q := range a.signalQueues {
		if err := q.TrySend(sig); err != nil {
			a.logger.Warnw("signal queue full, dropping broadcast", "error", err)
			continue
		}
		q.Wake()
	}
}
