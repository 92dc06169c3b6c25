// Package chain provides the JSON-RPC client used to reach the target network.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the subset of an Ethereum RPC client needed to deploy and
// configure contracts.
type Client interface {
	bind.ContractBackend
	bind.DeployBackend

	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Close()
}

// Dialer creates clients from RPC URLs.
type Dialer interface {
	Dial(ctx context.Context, rpcURL string) (Client, error)
}

// EthDialer creates clients using go-ethereum's ethclient.
type EthDialer struct{}

// NewEthDialer creates a new EthDialer.
func NewEthDialer() *EthDialer {
	return &EthDialer{}
}

// Dial connects to an Ethereum RPC endpoint.
func (d *EthDialer) Dial(ctx context.Context, rpcURL string) (Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return client, nil
}

// VerifyChainID returns the chain id reported by the node. When expected is
// non-zero it must match.
func VerifyChainID(ctx context.Context, client Client, expected uint64) (*big.Int, error) {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	if expected != 0 && chainID.Uint64() != expected {
		return nil, fmt.Errorf("%w: expected %d, got %s", ErrChainIDMismatch, expected, chainID)
	}
	return chainID, nil
}
