package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/CryptoExplor/nexus-counter-app/rpc"
)

// Classification buckets every failure a user-initiated action can surface.
// No mutating-call failure is ever swallowed; reads may degrade per widget.
type Classification string

const (
	// ClassConfiguration marks fatal startup failures (descriptor missing
	// or malformed). All mutating actions stay disabled.
	ClassConfiguration Classification = "configuration"
	// ClassRejectedByCaller marks a signer that declined to sign.
	ClassRejectedByCaller Classification = "rejected_by_caller"
	// ClassCooldownActive marks a ledger cooldown rejection.
	ClassCooldownActive Classification = "cooldown_active"
	// ClassFeeMismatch marks a ledger exact-fee rejection.
	ClassFeeMismatch Classification = "fee_mismatch"
	// ClassCounterAtZero marks a rejected decrement of an empty counter.
	ClassCounterAtZero Classification = "counter_at_zero"
	// ClassNotOwner marks an owner-only rejection.
	ClassNotOwner Classification = "not_owner"
	// ClassNetworkMismatch marks a wrong-chain condition.
	ClassNetworkMismatch Classification = "network_mismatch"
	// ClassTransientRead marks a non-critical read failure; the affected
	// widget degrades and the next cycle retries.
	ClassTransientRead Classification = "transient_read"
	// ClassCriticalRead marks a read failure that blocks an action (e.g.
	// the fee could not be read before submitting).
	ClassCriticalRead Classification = "critical_read"
	// ClassUnknown covers everything else.
	ClassUnknown Classification = "unknown"
)

var (
	// ErrSignatureRejected is returned by a Signer when the caller
	// declines to sign.
	ErrSignatureRejected = errors.New("client: signature request rejected")
	// ErrPipelineBusy rejects a second submission while one is in flight.
	ErrPipelineBusy = errors.New("client: a transaction is already in flight")
	// ErrNotConnected rejects actions outside the connected state.
	ErrNotConnected = errors.New("client: not connected")
	// ErrDescriptorInvalid marks a descriptor that is missing expected
	// operations.
	ErrDescriptorInvalid = errors.New("client: interface descriptor is missing expected operations")
)

// Classify maps an error to its user-facing classification.
func Classify(err error) Classification {
	if err == nil {
		return ClassUnknown
	}
	if errors.Is(err, ErrSignatureRejected) {
		return ClassRejectedByCaller
	}
	if errors.Is(err, ErrDescriptorInvalid) {
		return ClassConfiguration
	}
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case rpc.CodeCooldownActive:
			return ClassCooldownActive
		case rpc.CodeFeeMismatch:
			return ClassFeeMismatch
		case rpc.CodeCounterAtZero:
			return ClassCounterAtZero
		case rpc.CodeNotOwner:
			return ClassNotOwner
		}
		return ClassUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransientRead
	}
	return ClassUnknown
}

// Describe renders a human-readable message for a classified failure.
func Describe(class Classification, err error) string {
	switch class {
	case ClassConfiguration:
		return "startup configuration is invalid; actions are disabled"
	case ClassRejectedByCaller:
		return "signature request was declined"
	case ClassCooldownActive:
		if retry := RetryAfter(err); retry > 0 {
			return fmt.Sprintf("cooldown active, try again in %ds", retry)
		}
		return "cooldown active, try again later"
	case ClassFeeMismatch:
		return "payment must exactly match the configured fee"
	case ClassCounterAtZero:
		return "the counter is already at zero"
	case ClassNotOwner:
		return "only the program owner may do that"
	case ClassNetworkMismatch:
		return "wallet is on the wrong network"
	case ClassTransientRead:
		return "temporary read failure, retrying on the next cycle"
	case ClassCriticalRead:
		return "could not read required on-chain data; action aborted"
	}
	if err != nil {
		return err.Error()
	}
	return "unexpected failure"
}

// RetryAfter extracts the cooldown retry hint from an RPC error, zero when
// absent.
func RetryAfter(err error) int64 {
	var rpcErr *rpc.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != rpc.CodeCooldownActive {
		return 0
	}
	data, ok := rpcErr.Data.(map[string]interface{})
	if !ok {
		return 0
	}
	switch v := data["retryAfterSeconds"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	}
	return 0
}
