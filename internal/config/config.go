// Package config loads and validates the process-wide configuration
// surface of spec §6.3: the `seg`/`buf` engine sizing already modeled
// by pkg/options, plus the admin/server/worker/proxy/tls/klog/sockio/tcp
// sections every runtime component reads at startup. It generalizes the
// teacher's `pkg/options` functional-options/defaults pattern to a
// single root Config loaded from a TOML file via `BurntSushi/toml`
// (spec §6.3 explicitly allows TOML; not in the retrieval pack, named
// here as the standard Go TOML decoder — see DESIGN.md).
package config

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/iamNilotpal/pelikan/pkg/errors"
	"github.com/iamNilotpal/pelikan/pkg/options"
)

// ListenerConfig is the shape shared by every TCP-accepting role
// (admin, server, proxy.listener): an address and the poll knobs that
// govern its event loop.
type ListenerConfig struct {
	Host    string        `toml:"host"`
	Port    int           `toml:"port"`
	Timeout time.Duration `toml:"timeout"`
	NEvent  int           `toml:"nevent"`
	UseTLS  bool          `toml:"use_tls"`
}

// WorkerConfig sizes a pool of worker threads sharing poll knobs.
type WorkerConfig struct {
	Threads int           `toml:"threads"`
	Timeout time.Duration `toml:"timeout"`
	NEvent  int           `toml:"nevent"`
}

// ProxyBackendConfig additionally carries the upstream connection pool
// size and endpoint list (spec §6.3's `proxy.backend`).
type ProxyBackendConfig struct {
	Threads   int           `toml:"threads"`
	Timeout   time.Duration `toml:"timeout"`
	NEvent    int           `toml:"nevent"`
	PoolSize  int           `toml:"poolsize"`
	Endpoints []string      `toml:"endpoints"`
}

// ProxyConfig groups the proxy-only sections.
type ProxyConfig struct {
	Listener ListenerConfig     `toml:"listener"`
	Frontend WorkerConfig       `toml:"frontend"`
	Backend  ProxyBackendConfig `toml:"backend"`
}

// TLSConfig names the PEM-encoded material for TLS-enabled listeners.
type TLSConfig struct {
	Certificate      string `toml:"certificate"`
	CertificateChain string `toml:"certificate_chain"`
	PrivateKey       string `toml:"private_key"`
	CAFile           string `toml:"ca_file"`
}

// KlogConfig, DebugConfig, SockIOConfig, TCPConfig, and TimeConfig are
// the thin OS-option wrappers spec §6.3 lists as "standard knobs".
type KlogConfig struct {
	File string `toml:"file"`
}

type DebugConfig struct {
	LogLevel string `toml:"log_level"`
}

type SockIOConfig struct {
	Backlog int `toml:"backlog"`
}

type TCPConfig struct {
	NoDelay bool `toml:"nodelay"`
}

type TimeConfig struct {
	Timezone string `toml:"timezone"`
}

// Config is the full process-wide configuration surface for either
// binary (pelikan-server reads Admin/Server/Worker/Seg/Buf/TLS; pelikan-proxy
// reads Admin/Proxy/TLS). Fields unused by a given binary are simply
// ignored.
type Config struct {
	// Protocol selects the wire adapter pelikan-server speaks: one of
	// "memcachetext", "memcachebinary", "resp", "thrift", "ping" (spec
	// §4.11). Ignored by pelikan-proxy, which always speaks Thrift on
	// both its frontend and backend side.
	Protocol string `toml:"protocol"`

	Admin  ListenerConfig `toml:"admin"`
	Server ListenerConfig `toml:"server"`
	Worker WorkerConfig   `toml:"worker"`
	Proxy  ProxyConfig    `toml:"proxy"`
	TLS    TLSConfig      `toml:"tls"`

	Klog  KlogConfig   `toml:"klog"`
	Debug DebugConfig  `toml:"debug"`
	Sock  SockIOConfig `toml:"sockio"`
	TCP   TCPConfig    `toml:"tcp"`
	Time  TimeConfig   `toml:"time"`

	Seg *options.Options `toml:"-"`

	// SegRaw/BufRaw receive the `[seg]`/`[buf]` tables directly since
	// options.Options' own toml tags are nested one level differently
	// (it models DataDir/ExpireInterval alongside them); Load flattens
	// the parsed tables into a fresh options.Options below.
	SegRaw map[string]any `toml:"seg"`
	BufRaw map[string]any `toml:"buf"`
}

// Defaults returns the documented default configuration (spec §6.3:
// listener 0.0.0.0:12321/12322, 100ms timeouts, nevent 1024, one
// thread per role).
func Defaults(isProxy bool) Config {
	port := 12321
	if isProxy {
		port = 12322
	}
	listener := ListenerConfig{Host: "0.0.0.0", Port: port, Timeout: 100 * time.Millisecond, NEvent: 1024}
	worker := WorkerConfig{Threads: 1, Timeout: 100 * time.Millisecond, NEvent: 1024}

	cfg := Config{
		Protocol: "memcachetext",
		Admin:    ListenerConfig{Host: "0.0.0.0", Port: 9999, Timeout: 100 * time.Millisecond, NEvent: 1024},
		Server:   listener,
		Worker:   worker,
		Proxy: ProxyConfig{
			Listener: ListenerConfig{Host: "0.0.0.0", Port: 12322, Timeout: 100 * time.Millisecond, NEvent: 1024},
			Frontend: worker,
			Backend: ProxyBackendConfig{
				Threads: 1, Timeout: 200 * time.Millisecond, NEvent: 1024, PoolSize: 1,
			},
		},
	}
	opts := options.NewDefaultOptions()
	cfg.Seg = &opts
	return cfg
}

// Load reads and parses a TOML configuration file at path, overlaying
// it onto Defaults. A missing or malformed file is a *errors.ConfigError
// (spec §6.4 exit code 1 on configuration error).
func Load(path string, isProxy bool) (*Config, error) {
	cfg := Defaults(isProxy)

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, errors.NewConfigError(
			err, errors.ErrorCodeConfigNotFound, "failed to read configuration file",
		).WithPath(path)
	}

	if cfg.SegRaw != nil {
		applySegOverrides(cfg.Seg, cfg.SegRaw)
	}
	if cfg.BufRaw != nil {
		applyBufOverrides(cfg.Seg, cfg.BufRaw)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded configuration for internally-inconsistent
// values a TOML decode alone wouldn't catch (spec §6.4: configuration
// errors exit 1).
func (c *Config) Validate() error {
	if c.Worker.Threads < 1 {
		return errors.NewConfigError(
			nil, errors.ErrorCodeConfigInvalid, "worker.threads must be at least 1",
		).WithSection("worker").WithOption("threads")
	}
	if c.Seg != nil && c.Seg.SegmentOptions.Size > c.Seg.SegmentOptions.HeapSize {
		return errors.NewConfigError(
			nil, errors.ErrorCodeConfigInvalid, "seg.segment_size cannot exceed seg.heap_size",
		).WithSection("seg").WithOption("segment_size")
	}
	switch c.Protocol {
	case "memcachetext", "memcachebinary", "resp", "thrift", "ping":
	default:
		return errors.NewConfigError(
			nil, errors.ErrorCodeConfigInvalid, "protocol must be one of memcachetext, memcachebinary, resp, thrift, ping",
		).WithSection("").WithOption("protocol")
	}
	return nil
}

func applySegOverrides(opts *options.Options, raw map[string]any) {
	if v, ok := raw["heap_size"]; ok {
		opts.SegmentOptions.HeapSize = toUint64(v)
	}
	if v, ok := raw["segment_size"]; ok {
		opts.SegmentOptions.Size = toUint64(v)
	}
	if v, ok := raw["hash_power"]; ok {
		opts.SegmentOptions.HashPower = uint8(toUint64(v))
	}
	if v, ok := raw["overflow_factor"]; ok {
		if f, ok := v.(float64); ok {
			opts.SegmentOptions.OverflowFactor = f
		}
	}
	if v, ok := raw["eviction"]; ok {
		if s, ok := v.(string); ok {
			opts.SegmentOptions.Eviction = options.EvictionPolicy(s)
		}
	}
	if v, ok := raw["datapool_path"]; ok {
		if s, ok := v.(string); ok {
			opts.SegmentOptions.Directory = s
		}
	}
	if v, ok := raw["datapool_size"]; ok {
		opts.SegmentOptions.DatapoolSize = toUint64(v)
	}
	if v, ok := raw["restore"]; ok {
		if b, ok := v.(bool); ok {
			opts.SegmentOptions.Restore = b
		}
	}
}

func applyBufOverrides(opts *options.Options, raw map[string]any) {
	if v, ok := raw["init_size"]; ok {
		opts.BufOptions.InitSize = uint32(toUint64(v))
	}
	if v, ok := raw["max_size"]; ok {
		opts.BufOptions.MaxSize = uint32(toUint64(v))
	}
}

func toUint64(v any) uint64 {
	switch n := v.(type) {
	case int64:
		return uint64(n)
	case int:
		return uint64(n)
	case uint64:
		return n
	default:
		return 0
	}
}
