// ABOUTME: Tests for the session Hub
// ABOUTME: Covers group isolation, multi-device fan-out, coalescing, cleanup and metrics

package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func waitSignal(t *testing.T, s *Session) {
	t.Helper()
	select {
	case _, ok := <-s.Signals():
		require.True(t, ok, "signal channel closed")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signal")
	}
}

func assertNoSignal(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Signals():
		t.Fatal("unexpected signal")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHub_SignalReachesEveryDeviceOfUser(t *testing.T) {
	h := New(nil)
	defer h.Close()

	phone := h.Join(t.Context(), 1)
	laptop := h.Join(t.Context(), 1)

	n := h.Signal(1)

	assert.Equal(t, 2, n)
	waitSignal(t, phone)
	waitSignal(t, laptop)
}

func TestHub_GroupsAreIsolated(t *testing.T) {
	h := New(nil)
	defer h.Close()

	bob := h.Join(t.Context(), 1)
	alice := h.Join(t.Context(), 2)

	h.Signal(2)

	waitSignal(t, alice)
	assertNoSignal(t, bob)
}

func TestHub_SignalBothEndpoints(t *testing.T) {
	h := New(nil)
	defer h.Close()

	bob := h.Join(t.Context(), 1)
	alice := h.Join(t.Context(), 2)
	carol := h.Join(t.Context(), 3)

	assert.Equal(t, 2, h.Signal(1, 2))

	waitSignal(t, bob)
	waitSignal(t, alice)
	assertNoSignal(t, carol)
}

func TestHub_DuplicateUsersSignalOnce(t *testing.T) {
	h := New(nil)
	defer h.Close()

	h.Join(t.Context(), 1)

	assert.Equal(t, 1, h.Signal(1, 1, 1))
}

func TestHub_SignalsCoalesce(t *testing.T) {
	h := New(nil)
	defer h.Close()

	s := h.Join(t.Context(), 1)

	for range 10 {
		h.Signal(1)
	}

	waitSignal(t, s)
	assertNoSignal(t, s)
}

func TestHub_SignalWithNoSessionsIsNoop(t *testing.T) {
	h := New(nil)
	defer h.Close()

	assert.Equal(t, 0, h.Signal(42))
}

func TestHub_LeaveClosesChannelAndDropsEmptyGroup(t *testing.T) {
	h := New(nil)
	defer h.Close()

	s := h.Join(t.Context(), 1)
	require.Equal(t, 1, h.Count(1))

	h.Leave(s)

	_, ok := <-s.Signals()
	assert.False(t, ok)
	assert.Equal(t, 0, h.Count(1))
	assert.Equal(t, Stats{}, h.Stats())

	// second leave is harmless
	h.Leave(s)
	assert.Equal(t, 0, h.Signal(1))
}

func TestHub_ContextCancelLeaves(t *testing.T) {
	h := New(nil)
	defer h.Close()

	ctx, cancel := context.WithCancel(t.Context())
	s := h.Join(ctx, 1)
	other := h.Join(t.Context(), 1)

	cancel()

	require.Eventually(t, func() bool {
		return h.Count(1) == 1
	}, time.Second, 5*time.Millisecond)

	_, ok := <-s.Signals()
	assert.False(t, ok)

	h.Signal(1)
	waitSignal(t, other)
}

func TestHub_Stats(t *testing.T) {
	h := New(nil)
	defer h.Close()

	h.Join(t.Context(), 1)
	h.Join(t.Context(), 1)
	h.Join(t.Context(), 2)

	assert.Equal(t, Stats{Sessions: 3, Users: 2}, h.Stats())
}

func TestHub_CloseClosesAllSessions(t *testing.T) {
	h := New(nil)

	a := h.Join(t.Context(), 1)
	b := h.Join(t.Context(), 2)

	h.Close()

	_, ok := <-a.Signals()
	assert.False(t, ok)
	_, ok = <-b.Signals()
	assert.False(t, ok)
	assert.Equal(t, Stats{}, h.Stats())
}

func TestHub_ConcurrentJoinSignalLeave(t *testing.T) {
	h := New(nil)
	defer h.Close()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			s := h.Join(t.Context(), userID)
			h.Signal(userID, userID+1)
			h.Leave(s)
		}(int64(i % 5))
	}

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				h.Signal(0, 1, 2, 3, 4)
			}
		}
	}()

	wg.Wait()
	close(stop)
	assert.Equal(t, Stats{}, h.Stats())
}

func TestHub_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	h := New(nil, WithMeterProvider(mp))
	defer h.Close()

	s := h.Join(t.Context(), 1)
	h.Join(t.Context(), 1)
	h.Join(t.Context(), 2)
	h.Signal(1, 2)
	h.Leave(s)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))

	values := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", m.Name)
			for _, dp := range sum.DataPoints {
				values[m.Name] += dp.Value
			}
		}
	}

	assert.Equal(t, int64(2), values["microbe.hub.sessions"])
	assert.Equal(t, int64(3), values["microbe.hub.signals"])
}
