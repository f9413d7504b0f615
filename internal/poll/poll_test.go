package poll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoll_WakerUnblocksWait(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	w, err := NewWaker(p)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Wake())

	events, err := p.Wait(make([]Event, 0, 8), 2*time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	found := false
	for _, ev := range events {
		if ev.Token == WakerToken {
			found = true
		}
	}
	require.True(t, found)
	require.NoError(t, w.Reset())
}

func TestPoll_WaitTimesOutWithoutEvents(t *testing.T) {
	p, err := New()
	require.NoError(t, err)
	defer p.Close()

	events, err := p.Wait(make([]Event, 0, 8), 50*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, events)
}
