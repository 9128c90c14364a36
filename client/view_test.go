package client

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CryptoExplor/nexus-counter-app/core"
	"github.com/CryptoExplor/nexus-counter-app/core/events"
	"github.com/CryptoExplor/nexus-counter-app/rpc"
)

func streamEvent(t *testing.T, seq uint64, evt events.Event) core.StreamEvent {
	t.Helper()
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	return core.StreamEvent{Sequence: seq, Type: evt.EventType(), Data: data}
}

func TestViewApplyEventIsIdempotent(t *testing.T) {
	view := NewView()
	self := sessionAddr(1)
	view.SetStats(rpc.UserStatsResult{Increments: 4})

	evt := streamEvent(t, 1, events.CounterChanged{User: self, Delta: 1, NewCount: 5})
	view.ApplyEvent(evt, self)
	view.ApplyEvent(evt, self) // duplicate delivery

	snap := view.Snapshot()
	require.Equal(t, uint64(5), snap.Count)
	require.True(t, snap.CountKnown)
	require.Equal(t, uint64(1), snap.LastEventSeq)
}

func TestViewOwnStatsComeOnlyFromPolls(t *testing.T) {
	view := NewView()
	self := sessionAddr(1)
	view.SetStats(rpc.UserStatsResult{Increments: 4})

	// Push events update the counter by latest value but never fold deltas
	// into the stats widget; a reordered or dropped event would skew it.
	view.ApplyEvent(streamEvent(t, 2, events.CounterChanged{User: self, Delta: 1, NewCount: 6}), self)

	snap := view.Snapshot()
	require.Equal(t, uint64(6), snap.Count)
	require.Equal(t, uint64(4), snap.Stats.Increments)
	require.Equal(t, uint64(0), snap.Stats.Decrements)

	view.SetStats(rpc.UserStatsResult{Increments: 5})
	require.Equal(t, uint64(5), view.Snapshot().Stats.Increments)
}

func TestViewStaleEventIsSkipped(t *testing.T) {
	view := NewView()
	self := sessionAddr(1)

	view.ApplyEvent(streamEvent(t, 5, events.CounterChanged{User: self, Delta: 1, NewCount: 9}), self)
	view.ApplyEvent(streamEvent(t, 3, events.CounterChanged{User: self, Delta: 1, NewCount: 2}), self)

	snap := view.Snapshot()
	require.Equal(t, uint64(9), snap.Count, "older sequence must not overwrite newer state")
	require.Equal(t, uint64(5), snap.LastEventSeq)
}

func TestViewOtherUsersDoNotTouchOwnStats(t *testing.T) {
	view := NewView()
	self := sessionAddr(1)
	other := sessionAddr(2)
	view.SetStats(rpc.UserStatsResult{Increments: 4})

	view.ApplyEvent(streamEvent(t, 1, events.CounterChanged{User: other, Delta: 1, NewCount: 10}), self)

	snap := view.Snapshot()
	require.Equal(t, uint64(10), snap.Count)
	require.Equal(t, uint64(4), snap.Stats.Increments)
}

func TestViewResetAndFeeEvents(t *testing.T) {
	view := NewView()
	self := sessionAddr(1)

	view.ApplyEvent(streamEvent(t, 1, events.CounterReset{NewValue: 42}), self)
	snap := view.Snapshot()
	require.Equal(t, uint64(42), snap.Count)
	require.True(t, snap.CountKnown)

	view.ApplyEvent(streamEvent(t, 2, events.FeeUpdated{NewFee: big.NewInt(77)}), self)
	snap = view.Snapshot()
	require.True(t, snap.FeeKnown)
	require.Equal(t, 0, snap.Fee.Cmp(big.NewInt(77)))
}

func TestViewBadgeEventOnlyRaisesTier(t *testing.T) {
	view := NewView()
	self := sessionAddr(1)
	view.SetStats(rpc.UserStatsResult{BadgeTier: 3})

	view.ApplyEvent(streamEvent(t, 1, events.BadgeAssigned{User: self, TokenID: 1, Tier: 2}), self)
	require.Equal(t, uint8(3), view.Snapshot().Stats.BadgeTier)

	view.ApplyEvent(streamEvent(t, 2, events.BadgeAssigned{User: self, TokenID: 1, Tier: 4}), self)
	require.Equal(t, uint8(4), view.Snapshot().Stats.BadgeTier)
}

func TestViewDegradePerWidget(t *testing.T) {
	view := NewView()
	view.SetCount(3)
	view.SetBoard([]rpc.LeaderboardEntryResult{{Address: sessionAddr(1).Hex(), Count: 3}})

	view.Degrade("count")

	snap := view.Snapshot()
	require.False(t, snap.CountKnown)
	require.True(t, snap.BoardKnown, "one failed read degrades only its own widget")
}

func TestViewReset(t *testing.T) {
	view := NewView()
	self := sessionAddr(1)
	view.SetCount(3)
	view.SetFee(big.NewInt(5))
	view.ApplyEvent(streamEvent(t, 9, events.CounterReset{NewValue: 1}), self)

	view.Reset()

	snap := view.Snapshot()
	require.False(t, snap.CountKnown)
	require.False(t, snap.FeeKnown)
	require.Equal(t, uint64(0), snap.LastEventSeq)
}
