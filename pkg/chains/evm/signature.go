package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sigweihq/ebookpay/pkg/chains"
)

// Signer authorizes transactions for a single account
type Signer interface {
	Address() common.Address
	// SignTx returns the signed transaction or chains.ErrSignatureRejected when the
	// account holder refuses
	SignTx(ctx context.Context, tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error)
}

// KeySigner signs with a local secp256k1 private key
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

var _ Signer = (*KeySigner)(nil)

// NewKeySigner parses a hex private key, with or without 0x prefix
func NewKeySigner(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewKeySignerFromKey(key), nil
}

func NewKeySignerFromKey(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (s *KeySigner) Address() common.Address {
	return s.address
}

func (s *KeySigner) SignTx(ctx context.Context, tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// ConfirmFunc asks the account holder to approve a transaction before signing
type ConfirmFunc func(ctx context.Context, tx *ethtypes.Transaction) (bool, error)

// ConfirmingSigner asks for confirmation before delegating to another signer
type ConfirmingSigner struct {
	Signer
	Confirm ConfirmFunc
}

func (s *ConfirmingSigner) SignTx(ctx context.Context, tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	if s.Confirm != nil {
		ok, err := s.Confirm(ctx, tx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, chains.ErrSignatureRejected
		}
	}
	return s.Signer.SignTx(ctx, tx, chainID)
}
