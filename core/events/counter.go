package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// TypeCounterChanged is emitted whenever an increment or decrement is
	// applied to the shared counter.
	TypeCounterChanged = "counter.changed"
	// TypeCounterReset is emitted when the owner overwrites the counter
	// value.
	TypeCounterReset = "counter.reset"
	// TypeBadgeAssigned is emitted every time a participant's badge tier
	// increases, including the first transition that mints the token.
	TypeBadgeAssigned = "counter.badge.assigned"
	// TypeFeeUpdated is emitted when the owner changes the action fee.
	TypeFeeUpdated = "counter.fee.updated"
	// TypeBadgeThresholdsUpdated is emitted when the owner replaces the
	// badge threshold table.
	TypeBadgeThresholdsUpdated = "counter.thresholds.updated"
)

// CounterChanged captures a single applied counter action.
type CounterChanged struct {
	User     common.Address
	Delta    int64
	NewCount uint64
}

// EventType implements the Event interface.
func (CounterChanged) EventType() string { return TypeCounterChanged }

// CounterReset captures an owner-initiated counter overwrite.
type CounterReset struct {
	NewValue uint64
}

// EventType implements the Event interface.
func (CounterReset) EventType() string { return TypeCounterReset }

// BadgeAssigned captures a badge tier increase for a participant. Minted is
// true only on the first transition that creates the token.
type BadgeAssigned struct {
	User    common.Address
	TokenID uint64
	Tier    uint8
	Minted  bool
}

// EventType implements the Event interface.
func (BadgeAssigned) EventType() string { return TypeBadgeAssigned }

// FeeUpdated captures an owner fee change.
type FeeUpdated struct {
	NewFee *big.Int
}

// EventType implements the Event interface.
func (FeeUpdated) EventType() string { return TypeFeeUpdated }

// BadgeThresholdsUpdated captures an owner replacement of the tier thresholds.
type BadgeThresholdsUpdated struct {
	Thresholds [7]uint64
}

// EventType implements the Event interface.
func (BadgeThresholdsUpdated) EventType() string { return TypeBadgeThresholdsUpdated }
