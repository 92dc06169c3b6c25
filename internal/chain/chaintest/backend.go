// Package chaintest provides an in-process chain for tests.
package chaintest

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/require"
)

// Balance is the genesis balance of every generated account (1000 ETH).
var Balance = new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))

// Backend is a simulated chain whose client mines a block for every
// transaction it accepts.
type Backend struct {
	sim     *simulated.Backend
	client  *Client
	Keys    []*ecdsa.PrivateKey
	ChainID *big.Int
}

// New starts a simulated chain with the given number of funded accounts.
func New(t testing.TB, accounts int) *Backend {
	t.Helper()

	alloc := types.GenesisAlloc{}
	keys := make([]*ecdsa.PrivateKey, 0, accounts)
	for i := 0; i < accounts; i++ {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys = append(keys, key)
		alloc[crypto.PubkeyToAddress(key.PublicKey)] = types.Account{Balance: Balance}
	}

	sim := simulated.NewBackend(alloc)
	t.Cleanup(func() { _ = sim.Close() })

	client := &Client{Client: sim.Client(), sim: sim}
	chainID, err := client.ChainID(context.Background())
	require.NoError(t, err)

	return &Backend{sim: sim, client: client, Keys: keys, ChainID: chainID}
}

// Client returns the auto-mining client.
func (b *Backend) Client() *Client {
	return b.client
}

// Address returns the address of the i-th generated account.
func (b *Backend) Address(i int) common.Address {
	return crypto.PubkeyToAddress(b.Keys[i].PublicKey)
}

// Mine commits n empty blocks.
func (b *Backend) Mine(n int) {
	for i := 0; i < n; i++ {
		b.sim.Commit()
	}
}

// Client wraps the simulated client so that every accepted transaction is
// mined immediately.
type Client struct {
	simulated.Client
	sim *simulated.Backend
}

// SendTransaction submits tx and commits a block containing it.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.Client.SendTransaction(ctx, tx); err != nil {
		return err
	}
	c.sim.Commit()
	return nil
}

// Close is a no-op; the backend is closed by the test cleanup.
func (c *Client) Close() {}
