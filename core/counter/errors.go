package counter

import "errors"

var (
	// ErrFeeMismatch indicates the call did not carry exactly the
	// configured fee.
	ErrFeeMismatch = errors.New("counter: payment must equal the configured fee")
	// ErrCooldownActive indicates the caller acted again before its
	// cooldown window elapsed.
	ErrCooldownActive = errors.New("counter: cooldown active")
	// ErrCounterAtZero rejects a decrement when the counter is already
	// zero.
	ErrCounterAtZero = errors.New("counter: counter is already zero")
	// ErrNotOwner rejects an owner-restricted call from any other address.
	ErrNotOwner = errors.New("counter: caller is not the owner")
)
