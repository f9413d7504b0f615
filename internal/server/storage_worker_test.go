package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iamNilotpal/pelikan/internal/poll"
	"github.com/iamNilotpal/pelikan/internal/queue"
)

func TestStorageWorker_ServicesEachWorkerQueueIndependently(t *testing.T) {
	signalQueue := queue.New[Signal](nil)
	sw, inbound, err := NewStorageWorker[string, string](echoExecutor{}, 2, signalQueue, testMetrics(), newTestLogger())
	require.NoError(t, err)

	out0 := queue.New[resultItem[string, string]](&noopWaker{})
	out1 := queue.New[resultItem[string, string]](&noopWaker{})
	sw.BindOutbound(0, out0)
	sw.BindOutbound(1, out1)

	require.NoError(t, inbound[0].TrySend(workItem[string]{req: "a", token: poll.Token(1)}))
	require.NoError(t, inbound[1].TrySend(workItem[string]{req: "b", token: poll.Token(2)}))
	inbound[0].Wake()
	inbound[1].Wake()

	go sw.Run()

	require.Eventually(t, func() bool {
		return out0.Len() == 1 && out1.Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	res0, ok := out0.TryRecv()
	require.True(t, ok)
	require.Equal(t, "echo:a", res0.resp)
	require.Equal(t, poll.Token(1), res0.token)

	res1, ok := out1.TryRecv()
	require.True(t, ok)
	require.Equal(t, "echo:b", res1.resp)
	require.Equal(t, poll.Token(2), res1.token)

	require.NoError(t, signalQueue.TrySend(SignalShutdown))
	signalQueue.Wake()
}

func TestStorageWorker_StopsOnShutdownSignal(t *testing.T) {
	signalQueue := queue.New[Signal](nil)
	sw, _, err := NewStorageWorker[string, string](echoExecutor{}, 1, signalQueue, testMetrics(), newTestLogger())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		sw.Run()
		close(done)
	}()

	require.NoError(t, signalQueue.TrySend(SignalShutdown))
	signalQueue.Wake()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("storage worker did not stop after shutdown signal")
	}
}
