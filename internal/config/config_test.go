package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pelikan/pkg/errors"
)

func writeTOML(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pelikan.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoad_DefaultsAppliedWhenSectionsMissing(t *testing.T) {
	path := writeTOML(t, `
[server]
port = 12321
`)
	cfg, err := Load(path, false)
	require.NoError(t, err)
	require.Equal(t, 12321, cfg.Server.Port)
	require.Equal(t, 1, cfg.Worker.Threads)
	require.NotNil(t, cfg.Seg)
}

func TestLoad_SegOverridesApply(t *testing.T) {
	path := writeTOML(t, `
[seg]
heap_size = 2097152
segment_size = 1048576
eviction = "fifo"
`)
	cfg, err := Load(path, false)
	require.NoError(t, err)
	require.Equal(t, uint64(2097152), cfg.Seg.SegmentOptions.HeapSize)
	require.Equal(t, uint64(1048576), cfg.Seg.SegmentOptions.Size)
	require.EqualValues(t, "fifo", cfg.Seg.SegmentOptions.Eviction)
}

func TestLoad_MissingFileReturnsConfigError(t *testing.T) {
	_, err := Load("/nonexistent/path.toml", false)
	require.Error(t, err)
	ce, ok := errors.AsConfigError(err)
	require.True(t, ok)
	require.Equal(t, errors.ErrorCodeConfigNotFound, ce.Code())
}

func TestValidate_RejectsZeroWorkerThreads(t *testing.T) {
	cfg := Defaults(false)
	cfg.Worker.Threads = 0
	err := cfg.Validate()
	require.Error(t, err)
	ce, ok := errors.AsConfigError(err)
	require.True(t, ok)
	require.Equal(t, errors.ErrorCodeConfigInvalid, ce.Code())
}

func TestValidate_RejectsSegmentSizeExceedingHeap(t *testing.T) {
	cfg := Defaults(false)
	cfg.Seg.SegmentOptions.Size = cfg.Seg.SegmentOptions.HeapSize + 1
	err := cfg.Validate()
	require.Error(t, err)
}

func TestDefaults_ProxyUsesProxyPort(t *testing.T) {
	cfg := Defaults(true)
	require.Equal(t, 12322, cfg.Server.Port)
}

func TestValidate_RejectsUnknownProtocol(t *testing.T) {
	cfg := Defaults(false)
	cfg.Protocol = "xml-rpc"
	err := cfg.Validate()
	require.Error(t, err)
	ce, ok := errors.AsConfigError(err)
	require.True(t, ok)
	require.Equal(t, errors.ErrorCodeConfigInvalid, ce.Code())
}

func TestValidate_AcceptsEveryKnownProtocol(t *testing.T) {
	for _, p := range []string{"memcachetext", "memcachebinary", "resp", "thrift", "ping"} {
		cfg := Defaults(false)
		cfg.Protocol = p
		require.NoError(t, cfg.Validate(), "protocol %q should be valid", p)
	}
}
