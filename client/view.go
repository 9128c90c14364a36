package client

import (
	"encoding/json"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CryptoExplor/nexus-counter-app/core"
	"github.com/CryptoExplor/nexus-counter-app/core/events"
	"github.com/CryptoExplor/nexus-counter-app/rpc"
)

// View is the client's mirrored display state. It is never authoritative: the
// reducer applies whichever value arrived latest, from either the poll or the
// push path, so duplicate and reordered deliveries are harmless.
type View struct {
	mu sync.RWMutex

	lastSeq uint64

	count      uint64
	countKnown bool

	board      []rpc.LeaderboardEntryResult
	boardKnown bool

	stats      rpc.UserStatsResult
	statsKnown bool

	fee      *big.Int
	feeKnown bool

	cooldownUntil time.Time
}

// Snapshot is a point-in-time copy of the display state. Known flags report
// per-widget degradation: an unknown widget renders as hidden, not as zero.
type ViewSnapshot struct {
	Count      uint64
	CountKnown bool

	Board      []rpc.LeaderboardEntryResult
	BoardKnown bool

	Stats      rpc.UserStatsResult
	StatsKnown bool

	Fee      *big.Int
	FeeKnown bool

	CooldownRemaining time.Duration
	LastEventSeq      uint64
}

// NewView returns an empty display state.
func NewView() *View { return &View{} }

// Snapshot copies the current display state.
func (v *View) Snapshot() ViewSnapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	snap := ViewSnapshot{
		Count:        v.count,
		CountKnown:   v.countKnown,
		Board:        append([]rpc.LeaderboardEntryResult(nil), v.board...),
		BoardKnown:   v.boardKnown,
		Stats:        v.stats,
		StatsKnown:   v.statsKnown,
		FeeKnown:     v.feeKnown,
		LastEventSeq: v.lastSeq,
	}
	if v.fee != nil {
		snap.Fee = new(big.Int).Set(v.fee)
	}
	if remaining := time.Until(v.cooldownUntil); remaining > 0 {
		snap.CooldownRemaining = remaining
	}
	return snap
}

// LastEventSeq returns the highest stream sequence applied so far.
func (v *View) LastEventSeq() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastSeq
}

// SetCount applies a polled counter value.
func (v *View) SetCount(count uint64) {
	v.mu.Lock()
	v.count = count
	v.countKnown = true
	v.mu.Unlock()
}

// SetBoard applies a polled leaderboard.
func (v *View) SetBoard(board []rpc.LeaderboardEntryResult) {
	v.mu.Lock()
	v.board = append([]rpc.LeaderboardEntryResult(nil), board...)
	v.boardKnown = true
	v.mu.Unlock()
}

// SetStats applies polled user stats and refreshes the cooldown deadline.
func (v *View) SetStats(stats rpc.UserStatsResult) {
	v.mu.Lock()
	v.stats = stats
	v.statsKnown = true
	v.cooldownUntil = time.Now().Add(time.Duration(stats.CooldownSeconds) * time.Second)
	v.mu.Unlock()
}

// SetFee applies a polled fee.
func (v *View) SetFee(fee *big.Int) {
	v.mu.Lock()
	if fee != nil {
		v.fee = new(big.Int).Set(fee)
		v.feeKnown = true
	}
	v.mu.Unlock()
}

// Degrade marks a widget unknown after a failed read. The rest of the view is
// untouched.
func (v *View) Degrade(widget string) {
	v.mu.Lock()
	switch widget {
	case "count":
		v.countKnown = false
	case "board":
		v.boardKnown = false
	case "stats":
		v.statsKnown = false
	case "fee":
		v.feeKnown = false
	}
	v.mu.Unlock()
}

// Reset clears all mirrored state, e.g. on disconnect.
func (v *View) Reset() {
	v.mu.Lock()
	v.lastSeq = 0
	v.count, v.countKnown = 0, false
	v.board, v.boardKnown = nil, false
	v.stats, v.statsKnown = rpc.UserStatsResult{}, false
	v.fee, v.feeKnown = nil, false
	v.cooldownUntil = time.Time{}
	v.mu.Unlock()
}

// ApplyEvent folds one stream event into the view. Events carry the
// authoritative latest value, so handlers are idempotent; stale or duplicate
// sequences are skipped.
func (v *View) ApplyEvent(evt core.StreamEvent, self common.Address) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if evt.Sequence != 0 && evt.Sequence <= v.lastSeq {
		return
	}
	if evt.Sequence > v.lastSeq {
		v.lastSeq = evt.Sequence
	}

	switch evt.Type {
	case events.TypeCounterChanged:
		var payload struct {
			NewCount uint64 `json:"NewCount"`
		}
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return
		}
		// Only the latest-value field is folded in. The per-user stats carry
		// no authoritative totals on this event, so they wait for the next
		// polled read instead of drifting on a reordered or skipped delta.
		v.count = payload.NewCount
		v.countKnown = true
	case events.TypeCounterReset:
		var payload struct {
			NewValue uint64 `json:"NewValue"`
		}
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return
		}
		v.count = payload.NewValue
		v.countKnown = true
	case events.TypeBadgeAssigned:
		var payload struct {
			User common.Address `json:"User"`
			Tier uint8          `json:"Tier"`
		}
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return
		}
		if payload.User == self && v.statsKnown && payload.Tier > v.stats.BadgeTier {
			v.stats.BadgeTier = payload.Tier
		}
	case events.TypeFeeUpdated:
		var payload struct {
			NewFee *big.Int `json:"NewFee"`
		}
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return
		}
		if payload.NewFee != nil {
			v.fee = payload.NewFee
			v.feeKnown = true
		}
	}
}
