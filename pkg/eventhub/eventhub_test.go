package eventhub

import (
	"testing"

	"github.com/lightdaemon/lightd/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateChannelIsIdempotent(t *testing.T) {
	h := New()
	a := h.GetOrCreateChannel("c-1")
	b := h.GetOrCreateChannel("c-1")
	require.Same(t, a, b)
}

func TestConsoleBroadcastsToSubscribers(t *testing.T) {
	h := New()
	ch := h.GetOrCreateChannel("c-1")
	_, events, _ := ch.Subscribe()

	h.Console("c-1", "hello world")

	evt := <-events
	require.Equal(t, EventConsoleOutput, evt.Kind)
	require.Equal(t, []string{"hello world"}, evt.Args)
}

func TestStartPatternTransitionsToRunning(t *testing.T) {
	h := New()
	ch := h.GetOrCreateChannel("c-1")
	ch.SetState(types.RuntimeStarting)
	ch.SetStartPattern("Server started")
	_, events, _ := ch.Subscribe()

	h.Console("c-1", "Server started on port 25565")

	first := <-events
	require.Equal(t, EventLifecycle, first.Kind)
	require.Equal(t, []string{"running"}, first.Args)
	require.Equal(t, types.RuntimeRunning, ch.State())
}

func TestStatsChangeDetectionSuppressesRedundant(t *testing.T) {
	h := New()
	ch := h.GetOrCreateChannel("c-1")
	_, events, _ := ch.Subscribe()

	base := types.ContainerStats{MemoryBytes: 100, CPUAbsolute: 1.0, State: "running"}
	h.Stats("c-1", base)
	<-events // first sample always sends

	h.Stats("c-1", base) // identical, should not send

	select {
	case evt := <-events:
		t.Fatalf("expected no further event, got %+v", evt)
	default:
	}

	changed := base
	changed.MemoryBytes += 2_000_000
	h.Stats("c-1", changed)
	evt := <-events
	require.Equal(t, EventStats, evt.Kind)
}

func TestLaggedSubscriberDetached(t *testing.T) {
	h := New()
	ch := h.GetOrCreateChannel("c-1")
	_, _, lagged := ch.Subscribe()

	for i := 0; i < broadcastCapacity+1; i++ {
		h.Console("c-1", "line")
	}

	select {
	case <-lagged:
	default:
		t.Fatal("expected subscriber to be marked lagged after overflowing its buffer")
	}
}

func TestLogRingBufferEvictsOldest(t *testing.T) {
	h := New()
	h.GetOrCreateChannel("c-1")
	for i := 0; i < logRingCapacity+10; i++ {
		h.Console("c-1", "line")
	}
	ch := h.GetChannel("c-1")
	require.Len(t, ch.getLogs(logRingCapacity+100), logRingCapacity)
}
