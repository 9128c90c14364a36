package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CryptoExplor/nexus-counter-app/core/events"
	"github.com/CryptoExplor/nexus-counter-app/rpc"
)

func TestSchedulerRefreshFillsView(t *testing.T) {
	backend := newFakeBackend()
	backend.count = 7
	backend.board = []rpc.LeaderboardEntryResult{{Address: sessionAddr(1).Hex(), Count: 7}}
	backend.stats = rpc.UserStatsResult{Increments: 7, CooldownSeconds: 30}

	view := NewView()
	scheduler := NewScheduler(backend, view, time.Minute, nil)
	require.True(t, scheduler.Refresh(context.Background(), sessionAddr(1)))

	snap := view.Snapshot()
	require.True(t, snap.CountKnown)
	require.Equal(t, uint64(7), snap.Count)
	require.True(t, snap.BoardKnown)
	require.True(t, snap.StatsKnown)
	require.True(t, snap.FeeKnown)
	require.Greater(t, snap.CooldownRemaining, time.Duration(0))
}

func TestSchedulerDegradesOnlyFailedWidgets(t *testing.T) {
	backend := newFakeBackend()
	backend.count = 5
	view := NewView()
	scheduler := NewScheduler(backend, view, time.Minute, nil)
	require.True(t, scheduler.Refresh(context.Background(), sessionAddr(1)))

	backend.mu.Lock()
	backend.boardErr = errors.New("boom")
	backend.mu.Unlock()
	require.True(t, scheduler.Refresh(context.Background(), sessionAddr(1)))

	snap := view.Snapshot()
	require.False(t, snap.BoardKnown)
	require.True(t, snap.CountKnown, "other widgets keep their last good value")
	require.Equal(t, uint64(5), snap.Count)

	// The next successful cycle recovers the widget.
	backend.mu.Lock()
	backend.boardErr = nil
	backend.mu.Unlock()
	require.True(t, scheduler.Refresh(context.Background(), sessionAddr(1)))
	require.True(t, view.Snapshot().BoardKnown)
}

func TestSchedulerCoalescesOverlappingRefreshes(t *testing.T) {
	backend := newFakeBackend()
	gate := make(chan struct{})
	backend.countGate = gate

	view := NewView()
	scheduler := NewScheduler(backend, view, time.Minute, nil)

	var wg sync.WaitGroup
	var first bool
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = scheduler.Refresh(context.Background(), sessionAddr(1))
	}()

	// Wait for the first refresh to block inside the count read, then verify
	// the overlapping call is rejected rather than queued.
	require.Eventually(t, func() bool {
		return scheduler.inFlight.Load()
	}, time.Second, 5*time.Millisecond)
	require.False(t, scheduler.Refresh(context.Background(), sessionAddr(1)))

	close(gate)
	wg.Wait()
	require.True(t, first)
	require.True(t, scheduler.Refresh(context.Background(), sessionAddr(1)))
}

func TestSchedulerAwaitEventReturnsOnStreamAdvance(t *testing.T) {
	backend := newFakeBackend()
	view := NewView()
	scheduler := NewScheduler(backend, view, time.Minute, nil)

	done := make(chan struct{})
	go func() {
		scheduler.AwaitEventOrResync(context.Background(), sessionAddr(1), 0, 5*time.Second)
		close(done)
	}()

	view.ApplyEvent(streamEvent(t, 1, events.CounterChanged{User: sessionAddr(1), Delta: 1, NewCount: 1}), sessionAddr(1))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("await did not observe the stream advancing")
	}
}

func TestSchedulerAwaitEventFallsBackToResync(t *testing.T) {
	backend := newFakeBackend()
	backend.count = 9
	view := NewView()
	scheduler := NewScheduler(backend, view, time.Minute, nil)

	scheduler.AwaitEventOrResync(context.Background(), sessionAddr(1), 0, 50*time.Millisecond)

	snap := view.Snapshot()
	require.True(t, snap.CountKnown, "window expiry must force a poll")
	require.Equal(t, uint64(9), snap.Count)
}
