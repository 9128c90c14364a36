package core

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/CryptoExplor/nexus-counter-app/core/counter"
	"github.com/CryptoExplor/nexus-counter-app/storage"
)

func testAddr(index byte) common.Address {
	var out common.Address
	out[19] = index
	return out
}

func openTestNode(t *testing.T) *Node {
	t.Helper()
	params := counter.DefaultParams()
	params.FeeWei = big.NewInt(0)
	params.Cooldown = 0
	node, err := NewNode(storage.NewMemDB(), 1337, testAddr(1), params, nil)
	require.NoError(t, err)
	return node
}

func TestNodeIncrementDecrement(t *testing.T) {
	node := openTestNode(t)
	user := testAddr(2)

	first, err := node.Increment(user, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), first.NewCount)
	require.NotEqual(t, common.Hash{}, first.Hash)

	second, err := node.Increment(user, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(2), second.NewCount)
	require.NotEqual(t, first.Hash, second.Hash)

	down, err := node.Decrement(user, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), down.NewCount)
	require.Equal(t, uint64(1), node.Count())

	stats, ok := node.UserStatsOf(user)
	require.True(t, ok)
	require.Equal(t, uint64(2), stats.Increments)
	require.Equal(t, uint64(1), stats.Decrements)

	board := node.Leaderboard()
	require.Len(t, board, 1)
	require.Equal(t, user, board[0].Address)
	require.Equal(t, uint64(2), board[0].Score)
	require.Equal(t, []common.Address{user}, node.TopAddresses())
	require.Equal(t, []uint64{2}, node.TopCounts())
}

func TestNodeRejectionsEmitNothing(t *testing.T) {
	node := openTestNode(t)
	updates, cancel, backlog, err := node.Subscribe(context.Background(), "")
	require.NoError(t, err)
	defer cancel()
	require.Empty(t, backlog)

	_, err = node.Decrement(testAddr(2), nil)
	require.ErrorIs(t, err, counter.ErrCounterAtZero)
	require.Equal(t, uint64(0), node.Count())

	select {
	case evt := <-updates:
		t.Fatalf("rejected call published event %+v", evt)
	default:
	}
}

func TestNodeCooldownUsesClock(t *testing.T) {
	params := counter.DefaultParams()
	params.FeeWei = big.NewInt(0)
	params.Cooldown = time.Hour
	node, err := NewNode(storage.NewMemDB(), 1337, testAddr(1), params, nil)
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0).UTC()
	node.SetClock(func() time.Time { return now })
	user := testAddr(2)

	_, err = node.Increment(user, nil)
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	_, err = node.Increment(user, nil)
	require.ErrorIs(t, err, counter.ErrCooldownActive)
	require.Equal(t, 30*time.Minute, node.CooldownRemainingFor(user))

	now = now.Add(30 * time.Minute)
	_, err = node.Increment(user, nil)
	require.NoError(t, err)
	require.Equal(t, time.Hour, node.CooldownRemainingFor(user))
}

func TestNodeAdminOps(t *testing.T) {
	node := openTestNode(t)
	owner := testAddr(1)
	user := testAddr(2)

	_, err := node.SetFee(user, big.NewInt(7))
	require.ErrorIs(t, err, counter.ErrNotOwner)

	_, err = node.SetFee(owner, big.NewInt(7))
	require.NoError(t, err)
	require.Equal(t, 0, node.Fee().Cmp(big.NewInt(7)))

	_, err = node.Increment(user, nil)
	require.ErrorIs(t, err, counter.ErrFeeMismatch)
	_, err = node.Increment(user, big.NewInt(7))
	require.NoError(t, err)

	_, err = node.ResetCounter(owner, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(100), node.Count())

	thresholds := [counter.TierCount]uint64{1, 2, 3, 4, 5, 6, 7}
	_, err = node.SetBadgeThresholds(owner, thresholds)
	require.NoError(t, err)
	require.Equal(t, thresholds, node.Params().Thresholds)
}

func TestNodePersistsAcrossRestart(t *testing.T) {
	db := storage.NewMemDB()
	params := counter.DefaultParams()
	params.FeeWei = big.NewInt(0)
	params.Cooldown = 0

	node1, err := NewNode(db, 1337, testAddr(1), params, nil)
	require.NoError(t, err)
	_, err = node1.Increment(testAddr(2), nil)
	require.NoError(t, err)

	node2, err := NewNode(db, 1337, common.Address{}, counter.DefaultParams(), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), node2.Count())
	require.Equal(t, testAddr(1), node2.Owner())
}

func TestSubscribeBacklogAndCancel(t *testing.T) {
	node := openTestNode(t)
	user := testAddr(2)

	_, err := node.Increment(user, nil)
	require.NoError(t, err)
	_, err = node.Increment(user, nil)
	require.NoError(t, err)

	// A cursor resumes after the given sequence.
	updates, cancel, backlog, err := node.Subscribe(context.Background(), "1")
	require.NoError(t, err)
	require.NotEmpty(t, backlog)
	for _, evt := range backlog {
		require.Greater(t, evt.Sequence, uint64(1))
	}

	_, err = node.Increment(user, nil)
	require.NoError(t, err)

	select {
	case evt := <-updates:
		require.Equal(t, "counter.changed", evt.Type)
		require.NotEmpty(t, evt.Cursor)
	case <-time.After(time.Second):
		t.Fatal("no live event delivered")
	}

	cancel()
	_, open := <-updates
	require.False(t, open)

	_, _, _, err = node.Subscribe(context.Background(), "not-a-cursor")
	require.Error(t, err)
}
