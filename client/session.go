package client

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ConnState is the wallet/network association state. It is owned exclusively
// by the StateMachine; every other component reads immutable snapshots.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateLoading
	StateConnected
	StateWrongNetwork
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateLoading:
		return "loading"
	case StateConnected:
		return "connected"
	case StateWrongNetwork:
		return "wrong_network"
	}
	return "unknown"
}

// Snapshot is an immutable view of the session identity, taken at the start
// of each operation. Generation increases on every entry into the connected
// state so completion callbacks can detect a stale session.
type Snapshot struct {
	State      ConnState
	Address    common.Address
	ChainID    uint64
	Generation uint64
}

// StateMachine tracks the connection lifecycle:
//
//	Disconnected -> Loading -> {Connected | WrongNetwork} -> Disconnected
//	Connected <-> WrongNetwork on network identity changes
//
// Invalid transitions are no-ops, not errors. Entering Connected fires
// onEnterConnected (background loops start); leaving it fires
// onLeaveConnected (full teardown).
type StateMachine struct {
	mu              sync.Mutex
	state           ConnState
	address         common.Address
	chainID         uint64
	expectedChainID uint64
	generation      uint64

	onEnterConnected func(Snapshot)
	onLeaveConnected func()
}

// NewStateMachine builds a machine expecting the given chain identity.
func NewStateMachine(expectedChainID uint64) *StateMachine {
	return &StateMachine{expectedChainID: expectedChainID}
}

// SetCallbacks installs the connected-state lifecycle hooks. Must be called
// before the first transition.
func (sm *StateMachine) SetCallbacks(onEnter func(Snapshot), onLeave func()) {
	sm.mu.Lock()
	sm.onEnterConnected = onEnter
	sm.onLeaveConnected = onLeave
	sm.mu.Unlock()
}

// Snapshot returns the current session identity.
func (sm *StateMachine) Snapshot() Snapshot {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return Snapshot{State: sm.state, Address: sm.address, ChainID: sm.chainID, Generation: sm.generation}
}

// State returns the current connection state.
func (sm *StateMachine) State() ConnState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// BeginConnect enters the transient loading state. Valid only from
// Disconnected or WrongNetwork; otherwise a no-op returning false.
func (sm *StateMachine) BeginConnect() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.state != StateDisconnected && sm.state != StateWrongNetwork {
		return false
	}
	sm.state = StateLoading
	return true
}

// CompleteConnect resolves a loading attempt with the discovered identity.
// A chain mismatch lands in WrongNetwork. No-op outside Loading.
func (sm *StateMachine) CompleteConnect(address common.Address, chainID uint64) Snapshot {
	sm.mu.Lock()
	if sm.state != StateLoading {
		snap := Snapshot{State: sm.state, Address: sm.address, ChainID: sm.chainID, Generation: sm.generation}
		sm.mu.Unlock()
		return snap
	}
	sm.address = address
	sm.chainID = chainID
	var enter func(Snapshot)
	if chainID == sm.expectedChainID {
		sm.state = StateConnected
		sm.generation++
		enter = sm.onEnterConnected
	} else {
		sm.state = StateWrongNetwork
	}
	snap := Snapshot{State: sm.state, Address: sm.address, ChainID: sm.chainID, Generation: sm.generation}
	sm.mu.Unlock()
	if enter != nil {
		enter(snap)
	}
	return snap
}

// FailConnect aborts a loading attempt. No-op outside Loading.
func (sm *StateMachine) FailConnect() {
	sm.mu.Lock()
	if sm.state == StateLoading {
		sm.state = StateDisconnected
	}
	sm.mu.Unlock()
}

// NetworkChanged applies a network identity change event.
func (sm *StateMachine) NetworkChanged(chainID uint64) Snapshot {
	sm.mu.Lock()
	var enter func(Snapshot)
	var leave func()
	switch sm.state {
	case StateConnected:
		if chainID != sm.expectedChainID {
			sm.state = StateWrongNetwork
			sm.chainID = chainID
			leave = sm.onLeaveConnected
		}
	case StateWrongNetwork:
		if chainID == sm.expectedChainID {
			sm.state = StateConnected
			sm.chainID = chainID
			sm.generation++
			enter = sm.onEnterConnected
		} else {
			sm.chainID = chainID
		}
	}
	snap := Snapshot{State: sm.state, Address: sm.address, ChainID: sm.chainID, Generation: sm.generation}
	sm.mu.Unlock()
	if leave != nil {
		leave()
	}
	if enter != nil {
		enter(snap)
	}
	return snap
}

// Disconnect ends the session from any state.
func (sm *StateMachine) Disconnect() {
	sm.mu.Lock()
	wasConnected := sm.state == StateConnected
	sm.state = StateDisconnected
	sm.address = common.Address{}
	sm.chainID = 0
	leave := sm.onLeaveConnected
	sm.mu.Unlock()
	if wasConnected && leave != nil {
		leave()
	}
}

// Current reports whether snap still matches the live session. Completion
// callbacks use this before applying UI effects, so a confirmation that
// arrives after a disconnect or account switch cannot touch a stale view.
func (sm *StateMachine) Current(snap Snapshot) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state == StateConnected &&
		sm.generation == snap.Generation &&
		sm.address == snap.Address
}
