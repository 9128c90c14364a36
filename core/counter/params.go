package counter

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

const (
	// LeaderboardCapacity bounds the number of tracked top participants.
	LeaderboardCapacity = 20
	// TierCount is the number of badge tiers above the unranked zero tier.
	TierCount = 7
)

// DefaultCooldown is the minimum wait between a participant's consecutive
// actions.
const DefaultCooldown = time.Hour

// Params holds the owner-tunable program configuration.
type Params struct {
	// FeeWei is the exact payment every increment/decrement must carry.
	FeeWei *big.Int
	// Cooldown is the required gap between a caller's consecutive actions.
	Cooldown time.Duration
	// Thresholds maps lifetime increments to badge tiers: reaching
	// Thresholds[i] grants tier i+1.
	Thresholds [TierCount]uint64
}

// DefaultParams returns the launch configuration.
func DefaultParams() Params {
	return Params{
		FeeWei:     big.NewInt(100_000_000_000_000), // 0.0001 ether
		Cooldown:   DefaultCooldown,
		Thresholds: [TierCount]uint64{10, 25, 50, 100, 250, 500, 1000},
	}
}

// Validate ensures the configuration values fall within acceptable bounds.
func (p Params) Validate() error {
	if p.FeeWei == nil || p.FeeWei.Sign() < 0 {
		return errors.New("counter: fee must be non-negative")
	}
	if p.Cooldown < 0 {
		return errors.New("counter: cooldown cannot be negative")
	}
	for i := 1; i < TierCount; i++ {
		if p.Thresholds[i] <= p.Thresholds[i-1] {
			return fmt.Errorf("counter: thresholds must be strictly ascending (index %d)", i)
		}
	}
	if p.Thresholds[0] == 0 {
		return errors.New("counter: first threshold must be positive")
	}
	return nil
}

// Clone produces a deep copy so callers cannot alias the stored fee.
func (p Params) Clone() Params {
	clone := p
	if p.FeeWei != nil {
		clone.FeeWei = new(big.Int).Set(p.FeeWei)
	}
	return clone
}
