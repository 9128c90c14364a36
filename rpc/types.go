package rpc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const jsonRPCVersion = "2.0"

// JSON-RPC error codes. Domain-specific rejections get dedicated codes so the
// client can classify failures without matching message strings.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeDuplicateTx    = -32010
	codeRateLimited    = -32020

	// CodeFeeMismatch rejects a call whose payment differs from the fee.
	CodeFeeMismatch = -32030
	// CodeCooldownActive rejects a call made before the caller's cooldown
	// elapsed. The error data carries retryAfterSeconds.
	CodeCooldownActive = -32031
	// CodeCounterAtZero rejects a decrement of an empty counter.
	CodeCounterAtZero = -32032
	// CodeNotOwner rejects an owner-restricted call from another address.
	CodeNotOwner = -32033
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// TxEnvelope is the signed write submission. The signature is a 65-byte
// recoverable secp256k1 signature over SigningPayload.
type TxEnvelope struct {
	From      string          `json:"from"`
	Op        string          `json:"op"`
	Value     string          `json:"value,omitempty"`
	Nonce     uint64          `json:"nonce"`
	Data      json.RawMessage `json:"data,omitempty"`
	Signature string          `json:"signature"`
}

// Envelope operations.
const (
	OpIncrement     = "increment"
	OpDecrement     = "decrement"
	OpReset         = "resetCounter"
	OpSetFee        = "setFee"
	OpSetThresholds = "setBadgeThresholds"
)

// SigningPayload returns the canonical bytes the envelope signature covers.
// The chain id is bound in so a signature cannot be replayed across networks.
func (e *TxEnvelope) SigningPayload(chainID uint64) []byte {
	var nonceBuf, chainBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], e.Nonce)
	binary.BigEndian.PutUint64(chainBuf[:], chainID)

	var b strings.Builder
	b.WriteString("nexus-counter")
	b.Write(chainBuf[:])
	b.WriteString(strings.ToLower(e.From))
	b.WriteString(e.Op)
	b.WriteString(e.Value)
	b.Write(nonceBuf[:])
	b.Write(e.Data)
	return []byte(b.String())
}

// PaymentValue parses the envelope's payment as wei. Empty means zero.
func (e *TxEnvelope) PaymentValue() (*big.Int, error) {
	raw := strings.TrimSpace(e.Value)
	if raw == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid payment value %q", e.Value)
	}
	return value, nil
}

// --- results ---

type TxResult struct {
	TxHash   string `json:"txHash"`
	NewCount uint64 `json:"newCount"`
	Tier     uint8  `json:"tier"`
	TierName string `json:"tierName,omitempty"`
	Minted   bool   `json:"minted,omitempty"`
	TokenID  uint64 `json:"tokenId,omitempty"`
}

type UserStatsResult struct {
	Address         string `json:"address"`
	Increments      uint64 `json:"increments"`
	Decrements      uint64 `json:"decrements"`
	LastActionTime  int64  `json:"lastActionTime"`
	BadgeTier       uint8  `json:"badgeTier"`
	TierName        string `json:"tierName"`
	CooldownSeconds int64  `json:"cooldownRemainingSeconds"`
}

type LeaderboardEntryResult struct {
	Address string `json:"address"`
	Count   uint64 `json:"count"`
}

type ParamsResult struct {
	FeeWei          string   `json:"feeWei"`
	CooldownSeconds int64    `json:"cooldownSeconds"`
	Thresholds      []uint64 `json:"thresholds"`
}

// Descriptor describes the program interface. Clients validate their typed
// stubs against it at startup and hard-fail on any missing operation.
type Descriptor struct {
	Name           string   `json:"name"`
	Version        string   `json:"version"`
	ChainID        uint64   `json:"chainId"`
	ProgramAddress string   `json:"programAddress"`
	Methods        []string `json:"methods"`
	Events         []string `json:"events"`
}

// DescriptorMethods lists every operation the server exposes.
func DescriptorMethods() []string {
	return []string{
		"counter_count",
		"counter_getUserStats",
		"counter_getLeaderboard",
		"counter_getTopAddresses",
		"counter_getTopCounts",
		"counter_fee",
		"counter_owner",
		"counter_params",
		"counter_descriptor",
		"counter_increment",
		"counter_decrement",
		"counter_resetCounter",
		"counter_setFee",
		"counter_setBadgeThresholds",
	}
}

// ProgramAddressFor derives the deterministic program address for a network.
func ProgramAddressFor(chainID uint64) common.Address {
	var chainBuf [8]byte
	binary.BigEndian.PutUint64(chainBuf[:], chainID)
	seed := append([]byte("nexus-counter-program"), chainBuf[:]...)
	return common.BytesToAddress(ethcrypto.Keccak256(seed)[12:])
}
