// Command pelikan-proxy runs the stateless forwarding proxy: a
// client-facing internal/proxy.Proxy that converts each request into a
// backend request and shuttles it to a pool of upstream connections
// instead of executing it locally (spec §4.10).
package main

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/iamNilotpal/pelikan/internal/config"
	"github.com/iamNilotpal/pelikan/internal/metrics"
	"github.com/iamNilotpal/pelikan/internal/protocol/thrift"
	"github.com/iamNilotpal/pelikan/internal/proxy"
	"github.com/iamNilotpal/pelikan/pkg/logger"
)

// Exit codes per spec §6.4.
const (
	exitOK       = 0
	exitLaunch   = 1
	exitInternal = 101

	versionString = "pelikan-proxy 0.1.0"
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

	fs := flag.NewFlagSet("pelikan-proxy", flag.ContinueOnError)
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
		fmt.Fprintln(stderr, "usage: pelikan-proxy CONFIG")
		return exitLaunch
	}

	cfg, err := config.Load(positional[0], true)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return exitLaunch
	}

	if *showConfig {
		fmt.Fprintf(stdout, "%+v\n", cfg)
		return exitOK
	}

	log := logger.New("pelikan-proxy")
	reg := metrics.NewRegistry()

	if *showStats {
		for _, name := range reg.Names() {
			fmt.Fprintln(stdout, name)
		}
		return exitOK
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := startProxy(ctx, cfg, reg, log); err != nil {
		fmt.Fprintf(stderr, "proxy error: %v\n", err)
		return exitLaunch
	}
	return exitOK
}

// startProxy wires the Thrift adapter as both the client-facing and
// upstream-facing protocol (spec §4.10.1: the backend request "may be
// the same type" as the frontend's). Thrift's opaque framing needs no
// conversion between the two, so convertReq/convertResp are the
// identity and convertErr only has to turn a backend failure into a
// frame whose body is the error's text.
func startProxy(ctx context.Context, cfg *config.Config, reg *metrics.Registry, log *zap.SugaredLogger) error {
	adapter := thrift.Adapter{MaxSize: int(cfg.Seg.BufOptions.MaxSize)}

	p, err := proxy.New(
		cfg,
		adapter,
		adapter,
		func(req thrift.Message) thrift.Message { return req },
		func(resp thrift.Message) thrift.Message { return resp },
		func(err error) thrift.Message { return thrift.Message{Data: []byte(err.Error())} },
		reg,
		log,
	)
	if err != nil {
		return err
	}
	return p.Start(ctx)
}
