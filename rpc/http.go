package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/CryptoExplor/nexus-counter-app/core"
	"github.com/CryptoExplor/nexus-counter-app/core/counter"
	appcrypto "github.com/CryptoExplor/nexus-counter-app/crypto"
)

const (
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute
	maxTxPerWindow  = 5
	txSeenTTL       = 15 * time.Minute

	descriptorName    = "NexusCounter"
	descriptorVersion = "1.0.0"
)

// Server exposes the ledger program over JSON-RPC plus a websocket event
// stream.
type Server struct {
	node       *core.Node
	logger     *slog.Logger
	adminToken string

	mu       sync.Mutex
	txSeen   map[string]time.Time
	limiters map[string]*rate.Limiter
}

// NewServer builds an RPC server around node. adminToken guards the
// owner-restricted methods; empty disables them entirely.
func NewServer(node *core.Node, adminToken string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		node:       node,
		logger:     logger.With("component", "rpc"),
		adminToken: strings.TrimSpace(adminToken),
		txSeen:     make(map[string]time.Time),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Router assembles the HTTP surface: JSON-RPC, websocket events, metrics and
// health.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/rpc", s.handle)
	r.Get("/ws/events", s.handleEventsWS)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Start serves the router until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rpc listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to specific methods.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() { _ = reader.Close() }()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "failed to read request body", nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", nil)
		return
	}

	switch req.Method {
	case "counter_count":
		writeResult(w, req.ID, map[string]uint64{"count": s.node.Count()})
	case "counter_getUserStats":
		s.handleGetUserStats(w, &req)
	case "counter_getLeaderboard":
		s.handleGetLeaderboard(w, &req)
	case "counter_getTopAddresses":
		addrs := s.node.TopAddresses()
		out := make([]string, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, a.Hex())
		}
		writeResult(w, req.ID, out)
	case "counter_getTopCounts":
		writeResult(w, req.ID, s.node.TopCounts())
	case "counter_fee":
		writeResult(w, req.ID, s.node.Fee().String())
	case "counter_owner":
		writeResult(w, req.ID, s.node.Owner().Hex())
	case "counter_params":
		s.handleGetParams(w, &req)
	case "counter_descriptor":
		s.handleDescriptor(w, &req)
	case "counter_increment", "counter_decrement":
		s.handleAction(w, r, &req)
	case "counter_resetCounter", "counter_setFee", "counter_setBadgeThresholds":
		s.handleAdmin(w, r, &req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

func (s *Server) handleGetUserStats(w http.ResponseWriter, req *RPCRequest) {
	addr, rpcErr := parseAddressParam(req)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	stats, _ := s.node.UserStatsOf(addr)
	remaining := s.node.CooldownRemainingFor(addr)
	writeResult(w, req.ID, UserStatsResult{
		Address:         addr.Hex(),
		Increments:      stats.Increments,
		Decrements:      stats.Decrements,
		LastActionTime:  stats.LastActionTime.Unix(),
		BadgeTier:       stats.BadgeTier,
		TierName:        counter.TierName(stats.BadgeTier),
		CooldownSeconds: int64(remaining / time.Second),
	})
}

func (s *Server) handleGetLeaderboard(w http.ResponseWriter, req *RPCRequest) {
	board := s.node.Leaderboard()
	out := make([]LeaderboardEntryResult, 0, len(board))
	for _, e := range board {
		out = append(out, LeaderboardEntryResult{Address: e.Address.Hex(), Count: e.Score})
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleGetParams(w http.ResponseWriter, req *RPCRequest) {
	params := s.node.Params()
	writeResult(w, req.ID, ParamsResult{
		FeeWei:          params.FeeWei.String(),
		CooldownSeconds: int64(params.Cooldown / time.Second),
		Thresholds:      params.Thresholds[:],
	})
}

func (s *Server) handleDescriptor(w http.ResponseWriter, req *RPCRequest) {
	writeResult(w, req.ID, Descriptor{
		Name:           descriptorName,
		Version:        descriptorVersion,
		ChainID:        s.node.ChainID(),
		ProgramAddress: ProgramAddressFor(s.node.ChainID()).Hex(),
		Methods:        DescriptorMethods(),
		Events:         []string{"counter.changed", "counter.reset", "counter.badge.assigned", "counter.fee.updated", "counter.thresholds.updated"},
	})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	envelope, from, rpcErr := s.verifyEnvelope(req)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	wantOp := OpIncrement
	if req.Method == "counter_decrement" {
		wantOp = OpDecrement
	}
	if envelope.Op != wantOp {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "envelope op does not match method", envelope.Op)
		return
	}

	source := clientSource(r)
	now := time.Now()
	if !s.allowSource(source, now) {
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "too many transactions, slow down", nil)
		return
	}
	envHash := envelopeHash(envelope, s.node.ChainID())
	if !s.rememberTx(envHash, now) {
		writeError(w, http.StatusConflict, req.ID, codeDuplicateTx, "duplicate transaction", envHash)
		return
	}

	payment, err := envelope.PaymentValue()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid payment value", err.Error())
		return
	}

	var receipt *core.TxReceipt
	if wantOp == OpIncrement {
		receipt, err = s.node.Increment(from, payment)
	} else {
		receipt, err = s.node.Decrement(from, payment)
	}
	if err != nil {
		s.writeDomainError(w, req.ID, from, err)
		return
	}
	writeResult(w, req.ID, txResult(receipt))
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, nil)
		return
	}
	envelope, from, rpcErr := s.verifyEnvelope(req)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}

	var receipt *core.TxReceipt
	var err error
	switch req.Method {
	case "counter_resetCounter":
		if envelope.Op != OpReset {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "envelope op does not match method", envelope.Op)
			return
		}
		var args struct {
			NewValue uint64 `json:"newValue"`
		}
		if err := json.Unmarshal(envelope.Data, &args); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid reset arguments", err.Error())
			return
		}
		receipt, err = s.node.ResetCounter(from, args.NewValue)
	case "counter_setFee":
		if envelope.Op != OpSetFee {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "envelope op does not match method", envelope.Op)
			return
		}
		var args struct {
			FeeWei string `json:"feeWei"`
		}
		if err := json.Unmarshal(envelope.Data, &args); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid fee arguments", err.Error())
			return
		}
		fee, ok := new(big.Int).SetString(strings.TrimSpace(args.FeeWei), 10)
		if !ok {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid fee value", args.FeeWei)
			return
		}
		receipt, err = s.node.SetFee(from, fee)
	case "counter_setBadgeThresholds":
		if envelope.Op != OpSetThresholds {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "envelope op does not match method", envelope.Op)
			return
		}
		var args struct {
			Thresholds [counter.TierCount]uint64 `json:"thresholds"`
		}
		if err := json.Unmarshal(envelope.Data, &args); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid threshold arguments", err.Error())
			return
		}
		receipt, err = s.node.SetBadgeThresholds(from, args.Thresholds)
	}
	if err != nil {
		s.writeDomainError(w, req.ID, from, err)
		return
	}
	writeResult(w, req.ID, txResult(receipt))
}

// writeDomainError maps engine rejections to their dedicated codes.
func (s *Server) writeDomainError(w http.ResponseWriter, id interface{}, caller common.Address, err error) {
	switch {
	case errors.Is(err, counter.ErrFeeMismatch):
		writeError(w, http.StatusBadRequest, id, CodeFeeMismatch, err.Error(), map[string]string{"fee": s.node.Fee().String()})
	case errors.Is(err, counter.ErrCooldownActive):
		remaining := s.node.CooldownRemainingFor(caller)
		writeError(w, http.StatusBadRequest, id, CodeCooldownActive, err.Error(), map[string]int64{"retryAfterSeconds": int64(remaining/time.Second) + 1})
	case errors.Is(err, counter.ErrCounterAtZero):
		writeError(w, http.StatusBadRequest, id, CodeCounterAtZero, err.Error(), nil)
	case errors.Is(err, counter.ErrNotOwner):
		writeError(w, http.StatusForbidden, id, CodeNotOwner, err.Error(), nil)
	default:
		s.logger.Error("action failed", "error", err)
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal error", nil)
	}
}

func (s *Server) verifyEnvelope(req *RPCRequest) (*TxEnvelope, common.Address, *RPCError) {
	if len(req.Params) == 0 {
		return nil, common.Address{}, &RPCError{Code: codeInvalidParams, Message: "transaction envelope required"}
	}
	var envelope TxEnvelope
	if err := json.Unmarshal(req.Params[0], &envelope); err != nil {
		return nil, common.Address{}, &RPCError{Code: codeInvalidParams, Message: "invalid transaction envelope", Data: err.Error()}
	}
	if !common.IsHexAddress(envelope.From) {
		return nil, common.Address{}, &RPCError{Code: codeInvalidParams, Message: "invalid from address", Data: envelope.From}
	}
	from := common.HexToAddress(envelope.From)
	sig, err := hex.DecodeString(strings.TrimPrefix(envelope.Signature, "0x"))
	if err != nil {
		return nil, common.Address{}, &RPCError{Code: codeInvalidParams, Message: "invalid signature encoding", Data: err.Error()}
	}
	if !appcrypto.VerifySignature(from, envelope.SigningPayload(s.node.ChainID()), sig) {
		return nil, common.Address{}, &RPCError{Code: codeUnauthorized, Message: "signature does not match sender"}
	}
	return &envelope, from, nil
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.adminToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "admin methods disabled"}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.adminToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	return nil
}

// allowSource applies the per-source transaction rate limit.
func (s *Server) allowSource(source string, now time.Time) bool {
	s.mu.Lock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(rateLimitWindow/maxTxPerWindow), maxTxPerWindow)
		s.limiters[source] = limiter
	}
	s.mu.Unlock()
	return limiter.AllowN(now, 1)
}

// rememberTx reports whether the hash is new within the dedup window.
func (s *Server) rememberTx(hash string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for seen, at := range s.txSeen {
		if now.Sub(at) > txSeenTTL {
			delete(s.txSeen, seen)
		}
	}
	if _, ok := s.txSeen[hash]; ok {
		return false
	}
	s.txSeen[hash] = now
	return true
}

func clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func envelopeHash(envelope *TxEnvelope, chainID uint64) string {
	payload := append(envelope.SigningPayload(chainID), []byte(envelope.Signature)...)
	return "0x" + hex.EncodeToString(ethcrypto.Keccak256(payload))
}

func txResult(receipt *core.TxReceipt) TxResult {
	return TxResult{
		TxHash:   receipt.Hash.Hex(),
		NewCount: receipt.NewCount,
		Tier:     receipt.Tier,
		TierName: receipt.TierName,
		Minted:   receipt.Minted,
		TokenID:  receipt.TokenID,
	}
}

func parseAddressParam(req *RPCRequest) (common.Address, *RPCError) {
	if len(req.Params) == 0 {
		return common.Address{}, &RPCError{Code: codeInvalidParams, Message: "address parameter required"}
	}
	var addrStr string
	if err := json.Unmarshal(req.Params[0], &addrStr); err != nil {
		var wrapper struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(req.Params[0], &wrapper); err != nil || wrapper.Address == "" {
			return common.Address{}, &RPCError{Code: codeInvalidParams, Message: "invalid address parameter"}
		}
		addrStr = wrapper.Address
	}
	if !common.IsHexAddress(addrStr) {
		return common.Address{}, &RPCError{Code: codeInvalidParams, Message: "failed to decode address", Data: addrStr}
	}
	return common.HexToAddress(addrStr), nil
}
