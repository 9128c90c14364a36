package counter

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CryptoExplor/nexus-counter-app/core/events"
	"github.com/CryptoExplor/nexus-counter-app/observability/metrics"
)

// State describes the functionality the program engine needs from the
// surrounding state implementation. All mutating engine calls run under the
// ledger's single-writer ordering, so implementations need no internal
// locking.
type State interface {
	Counter() uint64
	SetCounter(uint64)
	UserStats(addr common.Address) (UserStats, bool)
	PutUserStats(addr common.Address, stats UserStats)
	Leaderboard() []Entry
	SetLeaderboard([]Entry)
	Badge(addr common.Address) (Badge, bool)
	PutBadge(Badge)
	NextBadgeTokenID() uint64
	Params() Params
	SetParams(Params)
	Owner() common.Address
	AppendEvent(events.Event)
}

// Receipt summarises the effects of one accepted counter action.
type Receipt struct {
	NewCount    uint64
	Stats       UserStats
	Tier        uint8
	TierChanged bool
	TokenID     uint64
	Minted      bool
}

// Engine applies counter actions against a State. All guard checks run before
// any mutation, so a rejected call leaves the state untouched.
type Engine struct {
	telemetry *metrics.ProgramMetrics
}

// NewEngine constructs a program engine with process telemetry attached.
func NewEngine() *Engine {
	return &Engine{telemetry: metrics.Program()}
}

// Increment applies one counter increment for caller at the given instant.
func (e *Engine) Increment(st State, caller common.Address, payment *big.Int, now time.Time) (*Receipt, error) {
	return e.apply(st, caller, payment, now, +1)
}

// Decrement applies one counter decrement for caller at the given instant.
func (e *Engine) Decrement(st State, caller common.Address, payment *big.Int, now time.Time) (*Receipt, error) {
	return e.apply(st, caller, payment, now, -1)
}

func (e *Engine) apply(st State, caller common.Address, payment *big.Int, now time.Time, delta int64) (*Receipt, error) {
	if st == nil {
		return nil, fmt.Errorf("counter: nil state")
	}
	params := st.Params()
	if err := checkPayment(params, payment); err != nil {
		e.rejected("fee_mismatch")
		return nil, err
	}
	stats, found := st.UserStats(caller)
	if err := checkCooldown(stats, found, now, params.Cooldown); err != nil {
		e.rejected("cooldown")
		return nil, err
	}
	count := st.Counter()
	if delta < 0 && count == 0 {
		e.rejected("counter_at_zero")
		return nil, ErrCounterAtZero
	}

	// Guards passed; every mutation below is part of the same atomic call.
	if delta > 0 {
		count++
		stats.Increments++
	} else {
		count--
		stats.Decrements++
	}
	stats.LastActionTime = now
	st.SetCounter(count)

	receipt := &Receipt{NewCount: count}

	board := UpdateLeaderboard(st.Leaderboard(), caller, stats.Increments)
	st.SetLeaderboard(board)

	e.applyBadge(st, caller, &stats, receipt)
	st.PutUserStats(caller, stats)
	receipt.Stats = stats
	receipt.Tier = stats.BadgeTier

	st.AppendEvent(events.CounterChanged{User: caller, Delta: delta, NewCount: count})

	if e.telemetry != nil {
		op := "increment"
		if delta < 0 {
			op = "decrement"
		}
		e.telemetry.ObserveAction(op)
		e.telemetry.SetCounterValue(count)
		e.telemetry.SetLeaderboardSize(len(board))
	}
	return receipt, nil
}

// applyBadge recomputes the caller's tier and applies the monotonic ratchet.
// The badge token is minted exactly once, on the first transition above tier
// zero.
func (e *Engine) applyBadge(st State, caller common.Address, stats *UserStats, receipt *Receipt) {
	tier := TierFor(stats.Increments, st.Params().Thresholds)
	if tier <= stats.BadgeTier {
		return
	}
	stats.BadgeTier = tier

	badge, owned := st.Badge(caller)
	if !owned {
		badge = Badge{TokenID: st.NextBadgeTokenID(), Owner: caller}
		receipt.Minted = true
		if e.telemetry != nil {
			e.telemetry.ObserveBadgeMinted()
		}
	}
	badge.Tier = tier
	st.PutBadge(badge)
	receipt.TierChanged = true
	receipt.TokenID = badge.TokenID

	st.AppendEvent(events.BadgeAssigned{
		User:    caller,
		TokenID: badge.TokenID,
		Tier:    tier,
		Minted:  receipt.Minted,
	})
}

// ResetCounter overwrites the counter value. Owner only; bypasses the payment
// and cooldown guards.
func (e *Engine) ResetCounter(st State, caller common.Address, newValue uint64) error {
	if err := requireOwner(st, caller); err != nil {
		e.rejected("not_owner")
		return err
	}
	st.SetCounter(newValue)
	st.AppendEvent(events.CounterReset{NewValue: newValue})
	if e.telemetry != nil {
		e.telemetry.ObserveAction("reset")
		e.telemetry.SetCounterValue(newValue)
	}
	return nil
}

// SetFee replaces the configured action fee. Owner only.
func (e *Engine) SetFee(st State, caller common.Address, newFee *big.Int) error {
	if err := requireOwner(st, caller); err != nil {
		e.rejected("not_owner")
		return err
	}
	if newFee == nil || newFee.Sign() < 0 {
		return fmt.Errorf("counter: fee must be non-negative")
	}
	params := st.Params().Clone()
	params.FeeWei = new(big.Int).Set(newFee)
	st.SetParams(params)
	st.AppendEvent(events.FeeUpdated{NewFee: new(big.Int).Set(newFee)})
	if e.telemetry != nil {
		e.telemetry.ObserveAction("set_fee")
	}
	return nil
}

// SetBadgeThresholds replaces the badge threshold table. Owner only. Existing
// tiers are never lowered retroactively; the ratchet only compares on the next
// action.
func (e *Engine) SetBadgeThresholds(st State, caller common.Address, thresholds [TierCount]uint64) error {
	if err := requireOwner(st, caller); err != nil {
		e.rejected("not_owner")
		return err
	}
	params := st.Params().Clone()
	params.Thresholds = thresholds
	if err := params.Validate(); err != nil {
		return err
	}
	st.SetParams(params)
	st.AppendEvent(events.BadgeThresholdsUpdated{Thresholds: thresholds})
	if e.telemetry != nil {
		e.telemetry.ObserveAction("set_thresholds")
	}
	return nil
}

func requireOwner(st State, caller common.Address) error {
	if caller != st.Owner() {
		return ErrNotOwner
	}
	return nil
}

func (e *Engine) rejected(reason string) {
	if e == nil || e.telemetry == nil {
		return
	}
	e.telemetry.ObserveGateRejection(reason)
}
