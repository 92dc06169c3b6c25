package signer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// RemoteClient talks to a JSON-RPC signing service exposing eth_accounts and
// eth_signTransaction, authenticated with an X-API-Key header.
type RemoteClient struct {
	rpc *rpc.Client
}

// DialRemote connects to a remote signing service.
func DialRemote(ctx context.Context, endpoint, apiKey string) (*RemoteClient, error) {
	var opts []rpc.ClientOption
	if apiKey != "" {
		opts = append(opts, rpc.WithHeader("X-API-Key", apiKey))
	}
	client, err := rpc.DialOptions(ctx, endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial signer: %w", err)
	}
	return &RemoteClient{rpc: client}, nil
}

// Accounts lists the addresses the service can sign for.
func (c *RemoteClient) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := c.rpc.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, fmt.Errorf("eth_accounts: %w", err)
	}
	return accounts, nil
}

// Signers returns one signer per account reported by the service, in the
// service's order.
func (c *RemoteClient) Signers(ctx context.Context) (Set, error) {
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrNoSigners
	}
	set := make(Set, 0, len(accounts))
	for _, addr := range accounts {
		set = append(set, c.Signer(addr))
	}
	return set, nil
}

// Signer returns a signer for addr backed by this client.
func (c *RemoteClient) Signer(addr common.Address) *RemoteSigner {
	return &RemoteSigner{client: c, address: addr}
}

// Close closes the underlying connection.
func (c *RemoteClient) Close() {
	c.rpc.Close()
}

// RemoteSigner signs through a RemoteClient.
type RemoteSigner struct {
	client  *RemoteClient
	address common.Address
}

// Address returns the signer's address.
func (s *RemoteSigner) Address() common.Address {
	return s.address
}

// SignTx asks the remote service to sign tx and checks the recovered sender.
func (s *RemoteSigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	var raw hexutil.Bytes
	if err := s.client.rpc.CallContext(ctx, &raw, "eth_signTransaction", buildTxArgs(s.address, tx, chainID)); err != nil {
		return nil, fmt.Errorf("eth_signTransaction: %w", err)
	}

	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}

	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		return nil, fmt.Errorf("recover sender: %w", err)
	}
	if sender != s.address {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrSignerMismatch, s.address, sender)
	}
	return signed, nil
}

// txArgs are the eth_signTransaction parameters.
type txArgs struct {
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to,omitempty"`
	Gas                  hexutil.Uint64  `json:"gas"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Value                *hexutil.Big    `json:"value"`
	Nonce                hexutil.Uint64  `json:"nonce"`
	Data                 hexutil.Bytes   `json:"data,omitempty"`
	ChainID              *hexutil.Big    `json:"chainId"`
}

func buildTxArgs(from common.Address, tx *types.Transaction, chainID *big.Int) txArgs {
	args := txArgs{
		From:    from,
		To:      tx.To(),
		Gas:     hexutil.Uint64(tx.Gas()),
		Value:   (*hexutil.Big)(tx.Value()),
		Nonce:   hexutil.Uint64(tx.Nonce()),
		Data:    tx.Data(),
		ChainID: (*hexutil.Big)(chainID),
	}

	switch tx.Type() {
	case types.DynamicFeeTxType:
		args.MaxFeePerGas = (*hexutil.Big)(tx.GasFeeCap())
		args.MaxPriorityFeePerGas = (*hexutil.Big)(tx.GasTipCap())
	default:
		args.GasPrice = (*hexutil.Big)(tx.GasPrice())
	}
	return args
}
