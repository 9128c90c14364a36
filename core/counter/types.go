package counter

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// UserStats tracks the lifetime activity of a single participant. Records are
// created lazily on first action and never deleted. BadgeTier only ever
// increases.
type UserStats struct {
	Increments     uint64
	Decrements     uint64
	LastActionTime time.Time
	BadgeTier      uint8
}

// Entry is a single leaderboard slot.
type Entry struct {
	Address common.Address
	Score   uint64
}

// Badge is the one-time reward token bound to a participant. The Tier field
// mirrors the maximum tier the owner ever reached.
type Badge struct {
	TokenID uint64
	Owner   common.Address
	Tier    uint8
}
