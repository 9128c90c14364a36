package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CryptoExplor/nexus-counter-app/rpc"
)

// Backend is the read/write surface the client components need from the
// ledger. Tests substitute an in-memory fake.
type Backend interface {
	Count(ctx context.Context) (uint64, error)
	UserStats(ctx context.Context, addr common.Address) (rpc.UserStatsResult, error)
	Leaderboard(ctx context.Context) ([]rpc.LeaderboardEntryResult, error)
	Fee(ctx context.Context) (*big.Int, error)
	Params(ctx context.Context) (rpc.ParamsResult, error)
	Descriptor(ctx context.Context) (rpc.Descriptor, error)
	Submit(ctx context.Context, method string, envelope *rpc.TxEnvelope) (rpc.TxResult, error)
}

// RPCClient is the typed stub over the node's JSON-RPC surface.
type RPCClient struct {
	endpoint   string
	adminToken string
	httpClient *http.Client
	reqID      atomic.Int64
}

var _ Backend = (*RPCClient)(nil)

// NewRPCClient builds a stub against endpoint, e.g. "http://localhost:8545".
func NewRPCClient(endpoint string) *RPCClient {
	return &RPCClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// SetAdminToken attaches the bearer token required by owner methods.
func (c *RPCClient) SetAdminToken(token string) { c.adminToken = strings.TrimSpace(token) }

// Endpoint returns the configured RPC base URL.
func (c *RPCClient) Endpoint() string { return c.endpoint }

// EventsURL returns the websocket event stream URL.
func (c *RPCClient) EventsURL() string {
	ws := strings.Replace(c.endpoint, "http", "ws", 1)
	return ws + "/ws/events"
}

func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	id := c.reqID.Add(1)
	encoded := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("client: encode params: %w", err)
		}
		encoded = append(encoded, raw)
	}
	payload, err := json.Marshal(rpc.RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  encoded,
		ID:      id,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/rpc", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s: %w", method, err)
	}
	defer resp.Body.Close()

	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *rpc.RPCError   `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("client: decode %s response: %w", method, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out != nil {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			return fmt.Errorf("client: decode %s result: %w", method, err)
		}
	}
	return nil
}

func (c *RPCClient) Count(ctx context.Context) (uint64, error) {
	var out struct {
		Count uint64 `json:"count"`
	}
	if err := c.call(ctx, "counter_count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *RPCClient) UserStats(ctx context.Context, addr common.Address) (rpc.UserStatsResult, error) {
	var out rpc.UserStatsResult
	err := c.call(ctx, "counter_getUserStats", []interface{}{addr.Hex()}, &out)
	return out, err
}

func (c *RPCClient) Leaderboard(ctx context.Context) ([]rpc.LeaderboardEntryResult, error) {
	var out []rpc.LeaderboardEntryResult
	err := c.call(ctx, "counter_getLeaderboard", nil, &out)
	return out, err
}

func (c *RPCClient) Fee(ctx context.Context) (*big.Int, error) {
	var out string
	if err := c.call(ctx, "counter_fee", nil, &out); err != nil {
		return nil, err
	}
	fee, ok := new(big.Int).SetString(out, 10)
	if !ok {
		return nil, fmt.Errorf("client: invalid fee %q", out)
	}
	return fee, nil
}

func (c *RPCClient) Params(ctx context.Context) (rpc.ParamsResult, error) {
	var out rpc.ParamsResult
	err := c.call(ctx, "counter_params", nil, &out)
	return out, err
}

func (c *RPCClient) Descriptor(ctx context.Context) (rpc.Descriptor, error) {
	var out rpc.Descriptor
	err := c.call(ctx, "counter_descriptor", nil, &out)
	return out, err
}

func (c *RPCClient) Submit(ctx context.Context, method string, envelope *rpc.TxEnvelope) (rpc.TxResult, error) {
	var out rpc.TxResult
	err := c.call(ctx, method, []interface{}{envelope}, &out)
	return out, err
}

// ValidateDescriptor fetches the interface descriptor and verifies every
// operation the stub depends on is present. A missing or malformed descriptor
// is a hard startup failure.
func ValidateDescriptor(ctx context.Context, backend Backend) (rpc.Descriptor, error) {
	descriptor, err := backend.Descriptor(ctx)
	if err != nil {
		return rpc.Descriptor{}, fmt.Errorf("%w: %v", ErrDescriptorInvalid, err)
	}
	available := make(map[string]struct{}, len(descriptor.Methods))
	for _, m := range descriptor.Methods {
		available[m] = struct{}{}
	}
	for _, required := range rpc.DescriptorMethods() {
		if _, ok := available[required]; !ok {
			return rpc.Descriptor{}, fmt.Errorf("%w: %s", ErrDescriptorInvalid, required)
		}
	}
	return descriptor, nil
}
