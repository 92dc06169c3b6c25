// Package signer provides the identities that sign deployment transactions.
//
// A Set is ordered: its first member is the deployer, the identity that
// sends every transaction of a run.
package signer

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrNoSigners is returned when a set has no members.
	ErrNoSigners = errors.New("signer: no signers configured")
	// ErrNotAuthorized is returned when asked to sign for a different address.
	ErrNotAuthorized = errors.New("signer: not authorized to sign for address")
	// ErrSignerMismatch is returned when a remote signature recovers to an
	// unexpected sender.
	ErrSignerMismatch = errors.New("signer: signed transaction sender mismatch")
	// ErrInvalidKey is returned for malformed private keys.
	ErrInvalidKey = errors.New("signer: invalid private key")
)

// Signer signs transactions on behalf of a single address.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Set is an ordered list of signers.
type Set []Signer

// Deployer returns the first signer of the set.
func (s Set) Deployer() (Signer, error) {
	if len(s) == 0 {
		return nil, ErrNoSigners
	}
	return s[0], nil
}

// Addresses returns the addresses of every signer, in order.
func (s Set) Addresses() []common.Address {
	addrs := make([]common.Address, 0, len(s))
	for _, signer := range s {
		addrs = append(addrs, signer.Address())
	}
	return addrs
}

// TransactOpts builds bind transaction options that sign with s. Nonce, gas
// and fees are left for the caller or the backend to fill in.
func TransactOpts(ctx context.Context, s Signer, chainID *big.Int) *bind.TransactOpts {
	from := s.Address()
	return &bind.TransactOpts{
		From:    from,
		Context: ctx,
		Signer: func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if addr != from {
				return nil, ErrNotAuthorized
			}
			return s.SignTx(ctx, tx, chainID)
		},
	}
}
