package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pelikan/internal/metrics"
)

type fakeSignalSink struct {
	sent  []Signal
	woken int
	full  bool
}

func (f *fakeSignalSink) TrySend(sig Signal) error {
	if f.full {
		return errFullSink{}
	}
	f.sent = append(f.sent, sig)
	return nil
}

func (f *fakeSignalSink) Wake() error {
	f.woken++
	return nil
}

type errFullSink struct{}

func (errFullSink) Error() string { return "full" }

func TestAdmin_VarsServesSnapshot(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.NewCounter("requests_total", "count of requests").Add(42)

	admin := NewAdmin("127.0.0.1:0", reg, "pelikan", nil, newTestLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/vars", nil)
	admin.srv.Handler.ServeHTTP(rec, req)

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "requests_total: 42")
}

func TestAdmin_MetricsServesPrometheusFormat(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.NewCounter("hits", "cache hits").Add(7)

	admin := NewAdmin("127.0.0.1:0", reg, "pelikan", nil, newTestLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	admin.srv.Handler.ServeHTTP(rec, req)

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "pelikan_hits")
}

func TestAdmin_VersionEndpoint(t *testing.T) {
	reg := metrics.NewRegistry()
	admin := NewAdmin("127.0.0.1:0", reg, "pelikan", nil, newTestLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	admin.srv.Handler.ServeHTTP(rec, req)

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	require.Contains(t, string(body), Version)
}

func TestAdmin_BroadcastSendsToEverySink(t *testing.T) {
	sink1 := &fakeSignalSink{}
	sink2 := &fakeSignalSink{}

	admin := &Admin{signalQueues: []SignalSink{sink1, sink2}, logger: newTestLogger()}
	admin.Broadcast(SignalShutdown)

	require.Equal(t, []Signal{SignalShutdown}, sink1.sent)
	require.Equal(t, []Signal{SignalShutdown}, sink2.sent)
	require.Equal(t, 1, sink1.woken)
	require.Equal(t, 1, sink2.woken)
}

func TestAdmin_BroadcastSkipsFullQueueWithoutFailing(t *testing.T) {
	full := &fakeSignalSink{full: true}
	ok := &fakeSignalSink{}

	admin := &Admin{signalQueues: []SignalSink{full, ok}, logger: newTestLogger()}
	admin.Broadcast(SignalShutdown)

	require.Empty(t, full.sent)
	require.Equal(t, 0, full.woken)
	require.Equal(t, []Signal{SignalShutdown}, ok.sent)
}

func TestAdmin_RunStopsOnContextCancel(t *testing.T) {
	reg := metrics.NewRegistry()
	admin := NewAdmin("127.0.0.1:0", reg, "pelikan", nil, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- admin.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("admin.Run did not stop after context cancellation")
	}
}
