package client

import (
	"context"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"

	"github.com/CryptoExplor/nexus-counter-app/crypto"
	"github.com/CryptoExplor/nexus-counter-app/rpc"
)

// Signer approves and signs transaction envelopes on behalf of the connected
// address. Implementations may prompt the user and return
// ErrSignatureRejected when approval is declined.
type Signer interface {
	Address() common.Address
	SignEnvelope(ctx context.Context, envelope *rpc.TxEnvelope, chainID uint64) error
}

// KeySigner signs with a locally held private key without prompting.
type KeySigner struct {
	key *crypto.PrivateKey
}

// NewKeySigner wraps a private key as a Signer.
func NewKeySigner(key *crypto.PrivateKey) *KeySigner {
	return &KeySigner{key: key}
}

func (s *KeySigner) Address() common.Address {
	return s.key.PubKey().Address()
}

func (s *KeySigner) SignEnvelope(_ context.Context, envelope *rpc.TxEnvelope, chainID uint64) error {
	sig, err := s.key.Sign(envelope.SigningPayload(chainID))
	if err != nil {
		return err
	}
	envelope.Signature = "0x" + hex.EncodeToString(sig)
	return nil
}

// PromptSigner wraps another signer behind an approval callback, modelling a
// wallet that can decline.
type PromptSigner struct {
	inner   Signer
	approve func(op string) bool
}

// NewPromptSigner builds a signer that consults approve before every
// signature.
func NewPromptSigner(inner Signer, approve func(op string) bool) *PromptSigner {
	return &PromptSigner{inner: inner, approve: approve}
}

func (s *PromptSigner) Address() common.Address { return s.inner.Address() }

func (s *PromptSigner) SignEnvelope(ctx context.Context, envelope *rpc.TxEnvelope, chainID uint64) error {
	if s.approve != nil && !s.approve(envelope.Op) {
		return ErrSignatureRejected
	}
	return s.inner.SignEnvelope(ctx, envelope, chainID)
}
