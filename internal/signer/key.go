package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeySigner signs with an in-memory secp256k1 key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner parses a hex encoded private key, with or without 0x prefix.
func NewKeySigner(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NewKeySignerFromKey(key), nil
}

// NewKeySignerFromKey wraps an existing private key.
func NewKeySignerFromKey(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Address returns the signer's address.
func (s *KeySigner) Address() common.Address {
	return s.address
}

// SignTx signs tx for the given chain.
func (s *KeySigner) SignTx(_ context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// ParseKeys builds a set from hex private keys. The first key is the deployer.
func ParseKeys(keys []string) (Set, error) {
	set := make(Set, 0, len(keys))
	for i, k := range keys {
		if strings.TrimSpace(k) == "" {
			continue
		}
		signer, err := NewKeySigner(k)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		set = append(set, signer)
	}
	if len(set) == 0 {
		return nil, ErrNoSigners
	}
	return set, nil
}
