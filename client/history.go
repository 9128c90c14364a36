package client

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	bolt "go.etcd.io/bbolt"
)

// historyLimit caps the number of records kept per address.
const historyLimit = 5

var bucketHistory = []byte("history")

// TransactionRecord is one display-only history entry. Records are local to
// the client and never authoritative.
type TransactionRecord struct {
	Type      string    `json:"type"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryStore persists the per-address transaction ring in a bbolt file.
// Every read path degrades to an empty history on failure; the store never
// propagates errors into the display flow.
type HistoryStore struct {
	db     *bolt.DB
	logger *slog.Logger
}

// OpenHistory opens (or creates) the history database at path.
func OpenHistory(path string, logger *slog.Logger) (*HistoryStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketHistory)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &HistoryStore{db: db, logger: logger.With("component", "history")}, nil
}

// Close releases the underlying database.
func (s *HistoryStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append prepends a record to addr's ring, trimming to the capacity.
func (s *HistoryStore) Append(addr common.Address, record TransactionRecord) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketHistory)
		records := decodeRecords(bucket.Get(keyFor(addr)))
		records = append([]TransactionRecord{record}, records...)
		if len(records) > historyLimit {
			records = records[:historyLimit]
		}
		raw, err := json.Marshal(records)
		if err != nil {
			return err
		}
		return bucket.Put(keyFor(addr), raw)
	})
}

// List returns addr's records newest first. Failures degrade to empty.
func (s *HistoryStore) List(addr common.Address) []TransactionRecord {
	if s == nil || s.db == nil {
		return nil
	}
	var records []TransactionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		records = decodeRecords(tx.Bucket(bucketHistory).Get(keyFor(addr)))
		return nil
	})
	if err != nil {
		s.logger.Warn("history read failed", "error", err)
		return nil
	}
	return records
}

// Remove clears addr's history.
func (s *HistoryStore) Remove(addr common.Address) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHistory).Delete(keyFor(addr))
	})
}

func keyFor(addr common.Address) []byte {
	return []byte(addr.Hex())
}

func decodeRecords(raw []byte) []TransactionRecord {
	if len(raw) == 0 {
		return nil
	}
	var records []TransactionRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		// Corrupt payloads degrade to an empty history.
		return nil
	}
	return records
}
