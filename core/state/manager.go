package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CryptoExplor/nexus-counter-app/core/counter"
	"github.com/CryptoExplor/nexus-counter-app/core/events"
	"github.com/CryptoExplor/nexus-counter-app/storage"
)

const (
	keyCounter  = "counter/value"
	keyParams   = "counter/params"
	keyOwner    = "counter/owner"
	keyBoard    = "counter/board"
	keyBadgeSeq = "counter/badge-seq"

	prefixStats = "counter/stats/"
	prefixBadge = "counter/badge/"
)

type paramsRecord struct {
	FeeWei     string                    `json:"feeWei"`
	CooldownS  int64                     `json:"cooldownSeconds"`
	Thresholds [counter.TierCount]uint64 `json:"thresholds"`
}

type statsRecord struct {
	Increments     uint64 `json:"increments"`
	Decrements     uint64 `json:"decrements"`
	LastActionUnix int64  `json:"lastActionUnix"`
	BadgeTier      uint8  `json:"badgeTier"`
}

type entryRecord struct {
	Address string `json:"address"`
	Score   uint64 `json:"score"`
}

type badgeRecord struct {
	TokenID uint64 `json:"tokenId"`
	Owner   string `json:"owner"`
	Tier    uint8  `json:"tier"`
}

// Manager implements counter.State as a write-back cache over the key-value
// store. Mutations accumulate in memory and in pendingWrites until Commit
// flushes them; the engine only mutates after its guards pass, so a rejected
// call never reaches Commit with pending writes.
type Manager struct {
	db storage.Database

	count    uint64
	params   counter.Params
	owner    common.Address
	board    []counter.Entry
	badgeSeq uint64

	stats  map[common.Address]counter.UserStats
	badges map[common.Address]counter.Badge

	pendingWrites map[string][]byte
	pendingEvents []events.Event
}

// NewManager opens a manager over db, bootstrapping genesis state with the
// supplied owner and params when the store is empty.
func NewManager(db storage.Database, owner common.Address, params counter.Params) (*Manager, error) {
	if db == nil {
		return nil, errors.New("state: nil database")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		db:            db,
		stats:         make(map[common.Address]counter.UserStats),
		badges:        make(map[common.Address]counter.Badge),
		pendingWrites: make(map[string][]byte),
	}
	initialised, err := db.Has([]byte(keyOwner))
	if err != nil {
		return nil, err
	}
	if !initialised {
		m.owner = owner
		m.params = params.Clone()
		m.board = []counter.Entry{}
		m.stageGenesis()
		if err := m.Commit(); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) stageGenesis() {
	m.pendingWrites[keyOwner] = []byte(m.owner.Hex())
	m.stageCounter()
	m.stageParams()
	m.stageBoard()
	m.stageBadgeSeq()
}

func (m *Manager) load() error {
	ownerRaw, err := m.db.Get([]byte(keyOwner))
	if err != nil {
		return fmt.Errorf("state: load owner: %w", err)
	}
	m.owner = common.HexToAddress(string(ownerRaw))

	countRaw, err := m.db.Get([]byte(keyCounter))
	if err != nil {
		return fmt.Errorf("state: load counter: %w", err)
	}
	if err := json.Unmarshal(countRaw, &m.count); err != nil {
		return fmt.Errorf("state: decode counter: %w", err)
	}

	paramsRaw, err := m.db.Get([]byte(keyParams))
	if err != nil {
		return fmt.Errorf("state: load params: %w", err)
	}
	var pr paramsRecord
	if err := json.Unmarshal(paramsRaw, &pr); err != nil {
		return fmt.Errorf("state: decode params: %w", err)
	}
	fee, ok := new(big.Int).SetString(pr.FeeWei, 10)
	if !ok {
		return fmt.Errorf("state: invalid stored fee %q", pr.FeeWei)
	}
	m.params = counter.Params{
		FeeWei:     fee,
		Cooldown:   time.Duration(pr.CooldownS) * time.Second,
		Thresholds: pr.Thresholds,
	}

	boardRaw, err := m.db.Get([]byte(keyBoard))
	if err != nil {
		return fmt.Errorf("state: load leaderboard: %w", err)
	}
	var entries []entryRecord
	if err := json.Unmarshal(boardRaw, &entries); err != nil {
		return fmt.Errorf("state: decode leaderboard: %w", err)
	}
	m.board = make([]counter.Entry, 0, len(entries))
	for _, e := range entries {
		m.board = append(m.board, counter.Entry{Address: common.HexToAddress(e.Address), Score: e.Score})
	}

	seqRaw, err := m.db.Get([]byte(keyBadgeSeq))
	if err != nil {
		return fmt.Errorf("state: load badge sequence: %w", err)
	}
	if err := json.Unmarshal(seqRaw, &m.badgeSeq); err != nil {
		return fmt.Errorf("state: decode badge sequence: %w", err)
	}
	return nil
}

// --- counter.State ---

func (m *Manager) Counter() uint64 { return m.count }

func (m *Manager) SetCounter(v uint64) {
	m.count = v
	m.stageCounter()
}

func (m *Manager) UserStats(addr common.Address) (counter.UserStats, bool) {
	if stats, ok := m.stats[addr]; ok {
		return stats, true
	}
	raw, err := m.db.Get([]byte(prefixStats + addr.Hex()))
	if err != nil {
		return counter.UserStats{}, false
	}
	var rec statsRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return counter.UserStats{}, false
	}
	stats := counter.UserStats{
		Increments:     rec.Increments,
		Decrements:     rec.Decrements,
		LastActionTime: time.Unix(rec.LastActionUnix, 0).UTC(),
		BadgeTier:      rec.BadgeTier,
	}
	m.stats[addr] = stats
	return stats, true
}

func (m *Manager) PutUserStats(addr common.Address, stats counter.UserStats) {
	m.stats[addr] = stats
	rec := statsRecord{
		Increments:     stats.Increments,
		Decrements:     stats.Decrements,
		LastActionUnix: stats.LastActionTime.Unix(),
		BadgeTier:      stats.BadgeTier,
	}
	raw, _ := json.Marshal(rec)
	m.pendingWrites[prefixStats+addr.Hex()] = raw
}

func (m *Manager) Leaderboard() []counter.Entry {
	return append([]counter.Entry(nil), m.board...)
}

func (m *Manager) SetLeaderboard(entries []counter.Entry) {
	m.board = append([]counter.Entry(nil), entries...)
	m.stageBoard()
}

func (m *Manager) Badge(addr common.Address) (counter.Badge, bool) {
	if badge, ok := m.badges[addr]; ok {
		return badge, true
	}
	raw, err := m.db.Get([]byte(prefixBadge + addr.Hex()))
	if err != nil {
		return counter.Badge{}, false
	}
	var rec badgeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return counter.Badge{}, false
	}
	badge := counter.Badge{TokenID: rec.TokenID, Owner: common.HexToAddress(rec.Owner), Tier: rec.Tier}
	m.badges[addr] = badge
	return badge, true
}

func (m *Manager) PutBadge(badge counter.Badge) {
	m.badges[badge.Owner] = badge
	raw, _ := json.Marshal(badgeRecord{TokenID: badge.TokenID, Owner: badge.Owner.Hex(), Tier: badge.Tier})
	m.pendingWrites[prefixBadge+badge.Owner.Hex()] = raw
}

func (m *Manager) NextBadgeTokenID() uint64 {
	m.badgeSeq++
	m.stageBadgeSeq()
	return m.badgeSeq
}

func (m *Manager) Params() counter.Params { return m.params.Clone() }

func (m *Manager) SetParams(params counter.Params) {
	m.params = params.Clone()
	m.stageParams()
}

func (m *Manager) Owner() common.Address { return m.owner }

func (m *Manager) AppendEvent(evt events.Event) {
	m.pendingEvents = append(m.pendingEvents, evt)
}

// --- staging / commit ---

func (m *Manager) stageCounter() {
	raw, _ := json.Marshal(m.count)
	m.pendingWrites[keyCounter] = raw
}

func (m *Manager) stageParams() {
	rec := paramsRecord{
		FeeWei:     m.params.FeeWei.String(),
		CooldownS:  int64(m.params.Cooldown / time.Second),
		Thresholds: m.params.Thresholds,
	}
	raw, _ := json.Marshal(rec)
	m.pendingWrites[keyParams] = raw
}

func (m *Manager) stageBoard() {
	entries := make([]entryRecord, 0, len(m.board))
	for _, e := range m.board {
		entries = append(entries, entryRecord{Address: e.Address.Hex(), Score: e.Score})
	}
	raw, _ := json.Marshal(entries)
	m.pendingWrites[keyBoard] = raw
}

func (m *Manager) stageBadgeSeq() {
	raw, _ := json.Marshal(m.badgeSeq)
	m.pendingWrites[keyBadgeSeq] = raw
}

// Commit flushes the staged writes of one accepted call to the store as a
// single batch, so a crash never persists a half-applied action.
func (m *Manager) Commit() error {
	if len(m.pendingWrites) == 0 {
		return nil
	}
	if err := m.db.WriteBatch(m.pendingWrites); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.pendingWrites = make(map[string][]byte)
	return nil
}

// DrainEvents returns and clears the events appended by the current call.
func (m *Manager) DrainEvents() []events.Event {
	drained := m.pendingEvents
	m.pendingEvents = nil
	return drained
}
