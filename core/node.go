package core

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/CryptoExplor/nexus-counter-app/core/counter"
	"github.com/CryptoExplor/nexus-counter-app/core/events"
	"github.com/CryptoExplor/nexus-counter-app/core/state"
	"github.com/CryptoExplor/nexus-counter-app/observability/metrics"
	"github.com/CryptoExplor/nexus-counter-app/storage"
)

// Node is the authoritative ledger program host. All mutating calls are
// serialized through the node mutex, giving the program the single-writer
// ordering the engine relies on.
type Node struct {
	mu      sync.Mutex
	engine  *counter.Engine
	manager *state.Manager

	chainID   uint64
	txSeq     uint64
	logger    *slog.Logger
	telemetry *metrics.ProgramMetrics

	// now is overridable so tests can drive the cooldown clock.
	now func() time.Time

	streamMu      sync.Mutex
	streamSeq     uint64
	streamSubs    map[string]chan StreamEvent
	streamHistory []StreamEvent
}

// TxReceipt summarises one accepted mutating call.
type TxReceipt struct {
	Hash     common.Hash
	NewCount uint64
	Tier     uint8
	TierName string
	Minted   bool
	TokenID  uint64
}

// NewNode builds a node over db, bootstrapping genesis with the supplied owner
// and params when the store is empty.
func NewNode(db storage.Database, chainID uint64, owner common.Address, params counter.Params, logger *slog.Logger) (*Node, error) {
	manager, err := state.NewManager(db, owner, params)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	telemetry := metrics.Program()
	telemetry.SetCounterValue(manager.Counter())
	telemetry.SetLeaderboardSize(len(manager.Leaderboard()))
	return &Node{
		engine:    counter.NewEngine(),
		manager:   manager,
		chainID:   chainID,
		logger:    logger.With("component", "node"),
		telemetry: telemetry,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock overrides the node's time source. Tests only.
func (n *Node) SetClock(now func() time.Time) {
	n.mu.Lock()
	n.now = now
	n.mu.Unlock()
}

// ChainID returns the network identity the node serves.
func (n *Node) ChainID() uint64 { return n.chainID }

// Increment applies one increment call from caller carrying payment.
func (n *Node) Increment(caller common.Address, payment *big.Int) (*TxReceipt, error) {
	return n.applyAction("increment", caller, payment, func(now time.Time) (*counter.Receipt, error) {
		return n.engine.Increment(n.manager, caller, payment, now)
	})
}

// Decrement applies one decrement call from caller carrying payment.
func (n *Node) Decrement(caller common.Address, payment *big.Int) (*TxReceipt, error) {
	return n.applyAction("decrement", caller, payment, func(now time.Time) (*counter.Receipt, error) {
		return n.engine.Decrement(n.manager, caller, payment, now)
	})
}

func (n *Node) applyAction(op string, caller common.Address, payment *big.Int, apply func(time.Time) (*counter.Receipt, error)) (*TxReceipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	receipt, err := apply(now)
	if err != nil {
		n.manager.DrainEvents()
		return nil, err
	}
	if err := n.manager.Commit(); err != nil {
		n.logger.Error("commit failed", "op", op, "error", err)
		return nil, fmt.Errorf("core: commit %s: %w", op, err)
	}

	n.txSeq++
	hash := n.txHash(op, caller, payment, n.txSeq)
	n.logger.Info("action applied",
		"op", op,
		"caller", caller.Hex(),
		"count", receipt.NewCount,
		"tier", receipt.Tier,
		"tx", hash.Hex(),
	)
	n.emitPending()
	return &TxReceipt{
		Hash:     hash,
		NewCount: receipt.NewCount,
		Tier:     receipt.Tier,
		TierName: counter.TierName(receipt.Tier),
		Minted:   receipt.Minted,
		TokenID:  receipt.TokenID,
	}, nil
}

// ResetCounter overwrites the counter value. Owner only.
func (n *Node) ResetCounter(caller common.Address, newValue uint64) (*TxReceipt, error) {
	return n.applyAdmin("reset", caller, func() error {
		return n.engine.ResetCounter(n.manager, caller, newValue)
	})
}

// SetFee replaces the configured action fee. Owner only.
func (n *Node) SetFee(caller common.Address, newFee *big.Int) (*TxReceipt, error) {
	return n.applyAdmin("set_fee", caller, func() error {
		return n.engine.SetFee(n.manager, caller, newFee)
	})
}

// SetBadgeThresholds replaces the badge threshold table. Owner only.
func (n *Node) SetBadgeThresholds(caller common.Address, thresholds [counter.TierCount]uint64) (*TxReceipt, error) {
	return n.applyAdmin("set_thresholds", caller, func() error {
		return n.engine.SetBadgeThresholds(n.manager, caller, thresholds)
	})
}

func (n *Node) applyAdmin(op string, caller common.Address, apply func() error) (*TxReceipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := apply(); err != nil {
		n.manager.DrainEvents()
		return nil, err
	}
	if err := n.manager.Commit(); err != nil {
		n.logger.Error("commit failed", "op", op, "error", err)
		return nil, fmt.Errorf("core: commit %s: %w", op, err)
	}
	n.txSeq++
	hash := n.txHash(op, caller, nil, n.txSeq)
	n.logger.Info("admin action applied", "op", op, "caller", caller.Hex(), "tx", hash.Hex())
	n.emitPending()
	return &TxReceipt{Hash: hash, NewCount: n.manager.Counter()}, nil
}

// emitPending publishes the events staged by the call just committed. Must be
// called with the node mutex held so stream ordering matches call ordering.
func (n *Node) emitPending() {
	for _, evt := range n.manager.DrainEvents() {
		n.publishEvent(evt)
	}
}

func (n *Node) txHash(op string, caller common.Address, payment *big.Int, seq uint64) common.Hash {
	var seqBuf, chainBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	binary.BigEndian.PutUint64(chainBuf[:], n.chainID)
	payload := append([]byte(op), caller.Bytes()...)
	payload = append(payload, chainBuf[:]...)
	payload = append(payload, seqBuf[:]...)
	if payment != nil {
		payload = append(payload, payment.Bytes()...)
	}
	return common.BytesToHash(ethcrypto.Keccak256(payload))
}

// --- views ---

// Count returns the current counter value.
func (n *Node) Count() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manager.Counter()
}

// UserStatsOf returns the stats record for addr, reporting whether one exists.
func (n *Node) UserStatsOf(addr common.Address) (counter.UserStats, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manager.UserStats(addr)
}

// Leaderboard returns the current bounded top-N sequence.
func (n *Node) Leaderboard() []counter.Entry {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manager.Leaderboard()
}

// TopAddresses returns the leaderboard addresses in rank order.
func (n *Node) TopAddresses() []common.Address {
	board := n.Leaderboard()
	addrs := make([]common.Address, 0, len(board))
	for _, e := range board {
		addrs = append(addrs, e.Address)
	}
	return addrs
}

// TopCounts returns the leaderboard scores in rank order.
func (n *Node) TopCounts() []uint64 {
	board := n.Leaderboard()
	counts := make([]uint64, 0, len(board))
	for _, e := range board {
		counts = append(counts, e.Score)
	}
	return counts
}

// Params returns a snapshot of the program configuration.
func (n *Node) Params() counter.Params {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manager.Params()
}

// Fee returns the configured action fee.
func (n *Node) Fee() *big.Int {
	return n.Params().FeeWei
}

// Owner returns the program owner address.
func (n *Node) Owner() common.Address {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manager.Owner()
}

// BadgeOf returns the badge token for addr, reporting whether one was minted.
func (n *Node) BadgeOf(addr common.Address) (counter.Badge, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manager.Badge(addr)
}

// CooldownRemainingFor reports how long addr must wait before its next action.
func (n *Node) CooldownRemainingFor(addr common.Address) time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	stats, found := n.manager.UserStats(addr)
	if !found {
		return 0
	}
	return counter.CooldownRemaining(stats, n.now(), n.manager.Params().Cooldown)
}

var _ events.Emitter = (*nodeEmitter)(nil)

// nodeEmitter adapts the node's stream to the events.Emitter interface for
// components that publish outside a mutating call.
type nodeEmitter struct{ node *Node }

// Emitter exposes the node's event stream as an events.Emitter.
func (n *Node) Emitter() events.Emitter { return &nodeEmitter{node: n} }

func (e *nodeEmitter) Emit(evt events.Event) { e.node.publishEvent(evt) }
