// Command pelikan-server runs the cache server: one of the wire
// protocol adapters under internal/protocol, fronting an
// internal/engine.Engine, driven by internal/server's single- or
// multi-worker runtime depending on the loaded configuration (spec
// §6.4).
package main

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/iamNilotpal/pelikan/internal/config"
	"github.com/iamNilotpal/pelikan/internal/engine"
	"github.com/iamNilotpal/pelikan/internal/metrics"
	"github.com/iamNilotpal/pelikan/internal/protocol/memcachebinary"
	"github.com/iamNilotpal/pelikan/internal/protocol/memcachetext"
	"github.com/iamNilotpal/pelikan/internal/protocol/ping"
	"github.com/iamNilotpal/pelikan/internal/protocol/resp"
	"github.com/iamNilotpal/pelikan/internal/protocol/thrift"
	"github.com/iamNilotpal/pelikan/internal/server"
	"github.com/iamNilotpal/pelikan/internal/session"
	"github.com/iamNilotpal/pelikan/pkg/logger"
)

// Exit codes per spec §6.4.
const (
	exitOK       = 0
	exitLaunch   = 1
	exitInternal = 101

	versionString = "pelikan-server 0.1.0"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "internal error: %v\n", r)
			code = exitInternal
		}
	}()

	fs := flag.NewFlagSet("pelikan-server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	showStats := fs.Bool("stats", false, "list all metric names and types, then exit")
	showConfig := fs.Bool("config", false, "dump the effective configuration, then exit")
	showVersion := fs.Bool("version", false, "print the version, then exit")
	if err := fs.Parse(args); err != nil {
		return exitLaunch
	}

	if *showVersion {
		fmt.Fprintln(stdout, versionString)
		return exitOK
	}

	positional := fs.Args()
	if len(positional) < 1 {
		fmt.Fprintln(stderr, "usage: pelikan-server CONFIG")
		return exitLaunch
	}

	cfg, err := config.Load(positional[0], false)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return exitLaunch
	}

	if *showConfig {
		fmt.Fprintf(stdout, "%+v\n", cfg)
		return exitOK
	}

	log := logger.New("pelikan-server")
	reg := metrics.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := engine.New(ctx, &engine.Config{Options: cfg.Seg, Logger: log})
	if err != nil {
		fmt.Fprintf(stderr, "engine init error: %v\n", err)
		return exitLaunch
	}
	defer eng.Close()

	if *showStats {
		for _, name := range reg.Names() {
			fmt.Fprintln(stdout, name)
		}
		return exitOK
	}

	if err := startServer(ctx, cfg, eng, reg, log); err != nil {
		fmt.Fprintf(stderr, "server error: %v\n", err)
		return exitLaunch
	}
	return exitOK
}

// startServer builds the protocol-specific Executor + session.Protocol
// pair selected by cfg.Protocol (validated by config.Validate to be one
// of the five known names) and runs internal/server.Server to
// completion. Each branch instantiates server.New with concrete type
// arguments since Go's generics need Req/Resp fixed at compile time,
// unlike a trait-object dispatch.
func startServer(
	ctx context.Context, cfg *config.Config, eng *engine.Engine, reg *metrics.Registry, log *zap.SugaredLogger,
) error {
	switch cfg.Protocol {
	case "memcachetext":
		return runTyped(ctx, cfg, reg, log, memcacheTextExecutor{eng}, session.FuncProtocol[memcachetext.Request, memcachetext.Response]{
			ParseRequestFunc:    memcachetext.ParseRequest,
			ComposeResponseFunc: memcachetext.ComposeResponse,
			HangupFunc:          memcachetext.Hangup,
		})
	case "memcachebinary":
		return runTyped(ctx, cfg, reg, log, memcacheBinaryExecutor{eng}, session.FuncProtocol[memcachebinary.Request, memcachebinary.Response]{
			ParseRequestFunc:    memcachebinary.ParseRequest,
			ComposeResponseFunc: memcachebinary.ComposeResponse,
			HangupFunc:          memcachebinary.Hangup,
		})
	case "resp":
		return runTyped(ctx, cfg, reg, log, respExecutor{eng}, session.FuncProtocol[resp.Request, resp.Response]{
			ParseRequestFunc:    resp.ParseRequest,
			ComposeResponseFunc: resp.ComposeResponse,
			HangupFunc:          resp.Hangup,
		})
	case "thrift":
		adapter := thrift.Adapter{MaxSize: int(cfg.Seg.BufOptions.MaxSize)}
		return runTyped(ctx, cfg, reg, log, thriftExecutor{}, adapter)
	case "ping":
		return runTyped(ctx, cfg, reg, log, pingExecutor{}, session.FuncProtocol[ping.Request, ping.Response]{
			ParseRequestFunc:    ping.ParseRequest,
			ComposeResponseFunc: ping.ComposeResponse,
			HangupFunc:          ping.Hangup,
		})
	default:
		return fmt.Errorf("unknown protocol %q", cfg.Protocol)
	}
}

func runTyped[Req, Resp any](
	ctx context.Context, cfg *config.Config, reg *metrics.Registry, log *zap.SugaredLogger,
	exec server.Executor[Req, Resp], proto session.Protocol[Req, Resp],
) error {
	srv, err := server.New[Req, Resp](cfg, exec, proto, reg, log)
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}

type memcacheTextExecutor struct{ eng *engine.Engine }

func (e memcacheTextExecutor) Execute(req memcachetext.Request) memcachetext.Response {
	return memcachetext.Execute(req, e.eng)
}

type memcacheBinaryExecutor struct{ eng *engine.Engine }

func (e memcacheBinaryExecutor) Execute(req memcachebinary.Request) memcachebinary.Response {
	return memcachebinary.Execute(req, e.eng)
}

type respExecutor struct{ eng *engine.Engine }

func (e respExecutor) Execute(req resp.Request) resp.Response {
	return resp.Execute(req, e.eng)
}

type pingExecutor struct{}

func (pingExecutor) Execute(req ping.Request) ping.Response { return ping.Execute(req) }

// thriftExecutor has nothing to execute against: spec.md's non-goals
// explicitly keep the Thrift payload opaque, so the only operation
// left is bouncing the framed message back unchanged, same as a
// pure-throughput protocol would.
type thriftExecutor struct{}

func (thriftExecutor) Execute(req thrift.Message) thrift.Message { return req }
