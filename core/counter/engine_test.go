package counter

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CryptoExplor/nexus-counter-app/core/events"
)

// memState is an in-memory State used to exercise the engine in isolation.
type memState struct {
	counter   uint64
	stats     map[common.Address]UserStats
	board     []Entry
	badges    map[common.Address]Badge
	nextToken uint64
	params    Params
	owner     common.Address
	events    []events.Event
}

func newMemState(owner common.Address, params Params) *memState {
	return &memState{
		stats:  make(map[common.Address]UserStats),
		badges: make(map[common.Address]Badge),
		params: params,
		owner:  owner,
	}
}

func (m *memState) Counter() uint64     { return m.counter }
func (m *memState) SetCounter(v uint64) { m.counter = v }

func (m *memState) UserStats(addr common.Address) (UserStats, bool) {
	stats, ok := m.stats[addr]
	return stats, ok
}

func (m *memState) PutUserStats(addr common.Address, stats UserStats) { m.stats[addr] = stats }

func (m *memState) Leaderboard() []Entry        { return m.board }
func (m *memState) SetLeaderboard(board []Entry) { m.board = board }

func (m *memState) Badge(addr common.Address) (Badge, bool) {
	badge, ok := m.badges[addr]
	return badge, ok
}

func (m *memState) PutBadge(badge Badge) { m.badges[badge.Owner] = badge }

func (m *memState) NextBadgeTokenID() uint64 {
	m.nextToken++
	return m.nextToken
}

func (m *memState) Params() Params          { return m.params }
func (m *memState) SetParams(params Params) { m.params = params }
func (m *memState) Owner() common.Address   { return m.owner }

func (m *memState) AppendEvent(evt events.Event) { m.events = append(m.events, evt) }

func openParams() Params {
	params := DefaultParams()
	params.FeeWei = big.NewInt(0)
	params.Cooldown = 0
	return params
}

func TestIncrementHappyPath(t *testing.T) {
	engine := NewEngine()
	st := newMemState(addr(1), openParams())
	now := time.Unix(1_700_000_000, 0)

	receipt, err := engine.Increment(st, addr(2), nil, now)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if receipt.NewCount != 1 {
		t.Fatalf("expected count 1, got %d", receipt.NewCount)
	}
	if receipt.Stats.Increments != 1 {
		t.Fatalf("expected 1 increment, got %d", receipt.Stats.Increments)
	}
	if !receipt.Stats.LastActionTime.Equal(now) {
		t.Fatalf("last action time not recorded: %v", receipt.Stats.LastActionTime)
	}
	if len(st.board) != 1 || st.board[0].Address != addr(2) {
		t.Fatalf("leaderboard not updated: %+v", st.board)
	}
	if len(st.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(st.events))
	}
	changed, ok := st.events[0].(events.CounterChanged)
	if !ok {
		t.Fatalf("unexpected event type %T", st.events[0])
	}
	if changed.NewCount != 1 || changed.Delta != 1 || changed.User != addr(2) {
		t.Fatalf("unexpected event payload: %+v", changed)
	}
}

func TestFeeMismatchLeavesStateUntouched(t *testing.T) {
	engine := NewEngine()
	params := openParams()
	params.FeeWei = big.NewInt(100)
	st := newMemState(addr(1), params)
	now := time.Unix(1_700_000_000, 0)

	for _, payment := range []*big.Int{nil, big.NewInt(99), big.NewInt(101)} {
		if _, err := engine.Increment(st, addr(2), payment, now); !errors.Is(err, ErrFeeMismatch) {
			t.Fatalf("payment %v: expected ErrFeeMismatch, got %v", payment, err)
		}
	}
	if st.counter != 0 || len(st.stats) != 0 || len(st.board) != 0 || len(st.events) != 0 {
		t.Fatal("rejected call mutated state")
	}

	if _, err := engine.Increment(st, addr(2), big.NewInt(100), now); err != nil {
		t.Fatalf("exact fee should pass: %v", err)
	}
}

func TestCooldownBoundaryIsAllowed(t *testing.T) {
	engine := NewEngine()
	params := openParams()
	params.Cooldown = time.Hour
	st := newMemState(addr(1), params)
	start := time.Unix(1_700_000_000, 0)

	if _, err := engine.Increment(st, addr(2), nil, start); err != nil {
		t.Fatalf("first action: %v", err)
	}
	if _, err := engine.Increment(st, addr(2), nil, start.Add(59*time.Minute)); !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("expected ErrCooldownActive, got %v", err)
	}
	if st.counter != 1 {
		t.Fatalf("rejected call changed counter to %d", st.counter)
	}
	// The instant the cooldown elapses is itself allowed.
	if _, err := engine.Increment(st, addr(2), nil, start.Add(time.Hour)); err != nil {
		t.Fatalf("boundary action: %v", err)
	}
	// A different caller is never gated by someone else's cooldown.
	if _, err := engine.Increment(st, addr(3), nil, start.Add(time.Minute)); err != nil {
		t.Fatalf("independent caller: %v", err)
	}
}

func TestDecrementAtZero(t *testing.T) {
	engine := NewEngine()
	st := newMemState(addr(1), openParams())
	now := time.Unix(1_700_000_000, 0)

	if _, err := engine.Decrement(st, addr(2), nil, now); !errors.Is(err, ErrCounterAtZero) {
		t.Fatalf("expected ErrCounterAtZero, got %v", err)
	}
	if len(st.stats) != 0 || len(st.events) != 0 {
		t.Fatal("rejected decrement mutated state")
	}

	if _, err := engine.Increment(st, addr(2), nil, now); err != nil {
		t.Fatalf("increment: %v", err)
	}
	receipt, err := engine.Decrement(st, addr(2), nil, now)
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if receipt.NewCount != 0 {
		t.Fatalf("expected count 0, got %d", receipt.NewCount)
	}
	if receipt.Stats.Decrements != 1 || receipt.Stats.Increments != 1 {
		t.Fatalf("unexpected stats: %+v", receipt.Stats)
	}
}

func TestDecrementsDoNotAdvanceTier(t *testing.T) {
	engine := NewEngine()
	params := openParams()
	params.Thresholds = [TierCount]uint64{2, 4, 6, 8, 10, 12, 14}
	st := newMemState(addr(1), params)
	now := time.Unix(1_700_000_000, 0)

	if _, err := engine.Increment(st, addr(2), nil, now); err != nil {
		t.Fatalf("increment: %v", err)
	}
	for i := 0; i < 1; i++ {
		if _, err := engine.Decrement(st, addr(2), nil, now); err != nil {
			t.Fatalf("decrement: %v", err)
		}
	}
	stats, _ := st.UserStats(addr(2))
	if stats.BadgeTier != 0 {
		t.Fatalf("one increment should not reach tier 1, got %d", stats.BadgeTier)
	}
	// The leaderboard score tracks lifetime increments, not the counter.
	if st.board[0].Score != 1 {
		t.Fatalf("expected board score 1, got %d", st.board[0].Score)
	}
}

func TestBadgeMintedExactlyOnce(t *testing.T) {
	engine := NewEngine()
	params := openParams()
	params.Thresholds = [TierCount]uint64{2, 3, 50, 100, 250, 500, 1000}
	st := newMemState(addr(1), params)
	now := time.Unix(1_700_000_000, 0)

	first, err := engine.Increment(st, addr(2), nil, now)
	if err != nil {
		t.Fatalf("increment 1: %v", err)
	}
	if first.TierChanged || first.Minted {
		t.Fatalf("no tier should be earned yet: %+v", first)
	}

	second, err := engine.Increment(st, addr(2), nil, now)
	if err != nil {
		t.Fatalf("increment 2: %v", err)
	}
	if !second.TierChanged || !second.Minted {
		t.Fatalf("crossing the first threshold should mint: %+v", second)
	}
	if second.Tier != 1 || second.TokenID != 1 {
		t.Fatalf("unexpected mint receipt: %+v", second)
	}

	third, err := engine.Increment(st, addr(2), nil, now)
	if err != nil {
		t.Fatalf("increment 3: %v", err)
	}
	if !third.TierChanged || third.Minted {
		t.Fatalf("tier upgrades must reuse the existing token: %+v", third)
	}
	if third.Tier != 2 || third.TokenID != 1 {
		t.Fatalf("unexpected upgrade receipt: %+v", third)
	}

	badge, ok := st.Badge(addr(2))
	if !ok {
		t.Fatal("badge missing")
	}
	if badge.TokenID != 1 || badge.Tier != 2 || badge.Owner != addr(2) {
		t.Fatalf("unexpected badge: %+v", badge)
	}
}

func TestRaisedThresholdsNeverDowngrade(t *testing.T) {
	engine := NewEngine()
	owner := addr(1)
	params := openParams()
	params.Thresholds = [TierCount]uint64{2, 10, 50, 100, 250, 500, 1000}
	st := newMemState(owner, params)
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 2; i++ {
		if _, err := engine.Increment(st, addr(2), nil, now); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	stats, _ := st.UserStats(addr(2))
	if stats.BadgeTier != 1 {
		t.Fatalf("expected tier 1, got %d", stats.BadgeTier)
	}

	raised := [TierCount]uint64{100, 200, 300, 400, 500, 600, 700}
	if err := engine.SetBadgeThresholds(st, owner, raised); err != nil {
		t.Fatalf("set thresholds: %v", err)
	}

	receipt, err := engine.Increment(st, addr(2), nil, now)
	if err != nil {
		t.Fatalf("increment after raise: %v", err)
	}
	if receipt.TierChanged {
		t.Fatal("raised thresholds must not change an earned tier")
	}
	if receipt.Tier != 1 {
		t.Fatalf("earned tier must persist, got %d", receipt.Tier)
	}
	badge, _ := st.Badge(addr(2))
	if badge.Tier != 1 {
		t.Fatalf("badge tier downgraded to %d", badge.Tier)
	}
}

func TestAdminRequiresOwner(t *testing.T) {
	engine := NewEngine()
	owner := addr(1)
	st := newMemState(owner, openParams())

	if err := engine.ResetCounter(st, addr(2), 7); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := engine.SetFee(st, addr(2), big.NewInt(1)); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := engine.SetBadgeThresholds(st, addr(2), DefaultParams().Thresholds); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if st.counter != 0 || len(st.events) != 0 {
		t.Fatal("rejected admin call mutated state")
	}

	if err := engine.ResetCounter(st, owner, 7); err != nil {
		t.Fatalf("owner reset: %v", err)
	}
	if st.counter != 7 {
		t.Fatalf("expected counter 7, got %d", st.counter)
	}
	reset, ok := st.events[len(st.events)-1].(events.CounterReset)
	if !ok || reset.NewValue != 7 {
		t.Fatalf("unexpected reset event: %+v", st.events[len(st.events)-1])
	}
}

func TestSetFeeAndThresholds(t *testing.T) {
	engine := NewEngine()
	owner := addr(1)
	st := newMemState(owner, openParams())

	if err := engine.SetFee(st, owner, big.NewInt(250)); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if st.params.FeeWei.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("fee not applied: %s", st.params.FeeWei)
	}

	bad := [TierCount]uint64{10, 5, 50, 100, 250, 500, 1000}
	if err := engine.SetBadgeThresholds(st, owner, bad); err == nil {
		t.Fatal("non-ascending thresholds should be rejected")
	}
	if st.params.Thresholds != openParams().Thresholds {
		t.Fatal("rejected thresholds were applied")
	}

	good := [TierCount]uint64{5, 15, 30, 60, 120, 240, 480}
	if err := engine.SetBadgeThresholds(st, owner, good); err != nil {
		t.Fatalf("set thresholds: %v", err)
	}
	if st.params.Thresholds != good {
		t.Fatalf("thresholds not applied: %v", st.params.Thresholds)
	}
}

func TestTenIncrementScenario(t *testing.T) {
	engine := NewEngine()
	params := openParams()
	params.FeeWei = big.NewInt(5)
	params.Thresholds = [TierCount]uint64{3, 6, 9, 100, 250, 500, 1000}
	st := newMemState(addr(1), params)
	now := time.Unix(1_700_000_000, 0)

	var minted int
	for i := 0; i < 10; i++ {
		receipt, err := engine.Increment(st, addr(2), big.NewInt(5), now.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if receipt.Minted {
			minted++
		}
	}
	if st.counter != 10 {
		t.Fatalf("expected counter 10, got %d", st.counter)
	}
	stats, _ := st.UserStats(addr(2))
	if stats.Increments != 10 || stats.BadgeTier != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if minted != 1 {
		t.Fatalf("expected exactly one mint, got %d", minted)
	}
	if len(st.board) != 1 || st.board[0].Score != 10 {
		t.Fatalf("unexpected board: %+v", st.board)
	}
}
