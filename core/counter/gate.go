package counter

import (
	"math/big"
	"time"
)

// checkPayment enforces the exact-fee guard. A nil payment is treated as zero.
func checkPayment(params Params, payment *big.Int) error {
	fee := params.FeeWei
	if fee == nil {
		fee = big.NewInt(0)
	}
	if payment == nil {
		payment = big.NewInt(0)
	}
	if payment.Cmp(fee) != 0 {
		return ErrFeeMismatch
	}
	return nil
}

// checkCooldown enforces the minimum wait between a caller's consecutive
// actions. The boundary instant itself is allowed.
func checkCooldown(stats UserStats, found bool, now time.Time, cooldown time.Duration) error {
	if !found || cooldown <= 0 {
		return nil
	}
	if now.Before(stats.LastActionTime.Add(cooldown)) {
		return ErrCooldownActive
	}
	return nil
}

// CooldownRemaining reports how long the caller must still wait before its
// next action. Zero means the caller may act now.
func CooldownRemaining(stats UserStats, now time.Time, cooldown time.Duration) time.Duration {
	ready := stats.LastActionTime.Add(cooldown)
	if !now.Before(ready) {
		return 0
	}
	return ready.Sub(now)
}
