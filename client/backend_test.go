package client

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CryptoExplor/nexus-counter-app/rpc"
)

// fakeBackend is the in-memory Backend used across the client tests.
type fakeBackend struct {
	mu sync.Mutex

	count      uint64
	board      []rpc.LeaderboardEntryResult
	stats      rpc.UserStatsResult
	fee        *big.Int
	descriptor rpc.Descriptor

	countErr error
	boardErr error
	statsErr error
	feeErr   error

	submitErr    error
	submitResult rpc.TxResult
	submitted    []*rpc.TxEnvelope

	// countGate, when set, blocks Count until it is closed.
	countGate chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		fee: big.NewInt(10),
		descriptor: rpc.Descriptor{
			Name:    "NexusCounter",
			Version: "1.0.0",
			ChainID: 1337,
			Methods: rpc.DescriptorMethods(),
		},
	}
}

func (b *fakeBackend) Count(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	gate := b.countGate
	count, err := b.count, b.countErr
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return count, err
}

func (b *fakeBackend) UserStats(_ context.Context, _ common.Address) (rpc.UserStatsResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats, b.statsErr
}

func (b *fakeBackend) Leaderboard(_ context.Context) ([]rpc.LeaderboardEntryResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.board, b.boardErr
}

func (b *fakeBackend) Fee(_ context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.feeErr != nil {
		return nil, b.feeErr
	}
	return new(big.Int).Set(b.fee), nil
}

func (b *fakeBackend) Params(_ context.Context) (rpc.ParamsResult, error) {
	return rpc.ParamsResult{FeeWei: b.fee.String()}, nil
}

func (b *fakeBackend) Descriptor(_ context.Context) (rpc.Descriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.descriptor, nil
}

func (b *fakeBackend) Submit(_ context.Context, _ string, envelope *rpc.TxEnvelope) (rpc.TxResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitErr != nil {
		return rpc.TxResult{}, b.submitErr
	}
	b.submitted = append(b.submitted, envelope)
	return b.submitResult, nil
}

func (b *fakeBackend) submitCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.submitted)
}

// stubSigner signs nothing useful but satisfies the Signer contract.
type stubSigner struct {
	addr common.Address
	err  error
}

func (s *stubSigner) Address() common.Address { return s.addr }

func (s *stubSigner) SignEnvelope(_ context.Context, envelope *rpc.TxEnvelope, _ uint64) error {
	if s.err != nil {
		return s.err
	}
	envelope.Signature = "0xstub"
	return nil
}
