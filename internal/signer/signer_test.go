package signer

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func newTestTx(nonce uint64) *types.Transaction {
	to := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(1337),
		Nonce:     nonce,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(100),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(5),
	})
}

func TestNewKeySigner(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "plain hex", key: testKey},
		{name: "0x prefixed", key: "0x" + testKey},
		{name: "surrounding whitespace", key: "  " + testKey + "\n"},
		{name: "garbage", key: "not-a-key", wantErr: true},
		{name: "too short", key: "abcd", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewKeySigner(tc.key)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			key, _ := crypto.HexToECDSA(testKey)
			assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), s.Address())
		})
	}
}

func TestKeySigner_SignTx(t *testing.T) {
	s, err := NewKeySigner(testKey)
	require.NoError(t, err)

	chainID := big.NewInt(1337)
	signed, err := s.SignTx(context.Background(), newTestTx(7), chainID)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), sender)
	assert.Equal(t, uint64(7), signed.Nonce())
}

func TestParseKeys(t *testing.T) {
	k1, _ := crypto.GenerateKey()
	k2, _ := crypto.GenerateKey()

	set, err := ParseKeys([]string{
		hexutil.Encode(crypto.FromECDSA(k1)),
		"",
		hexutil.Encode(crypto.FromECDSA(k2)),
	})
	require.NoError(t, err)
	require.Len(t, set, 2)

	deployer, err := set.Deployer()
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(k1.PublicKey), deployer.Address())
	assert.Equal(t, []common.Address{
		crypto.PubkeyToAddress(k1.PublicKey),
		crypto.PubkeyToAddress(k2.PublicKey),
	}, set.Addresses())

	_, err = ParseKeys(nil)
	assert.ErrorIs(t, err, ErrNoSigners)

	_, err = ParseKeys([]string{"zz"})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSet_DeployerEmpty(t *testing.T) {
	_, err := Set{}.Deployer()
	assert.ErrorIs(t, err, ErrNoSigners)
}

func TestTransactOpts(t *testing.T) {
	s, err := NewKeySigner(testKey)
	require.NoError(t, err)

	opts := TransactOpts(context.Background(), s, big.NewInt(1337))
	assert.Equal(t, s.Address(), opts.From)

	signed, err := opts.Signer(s.Address(), newTestTx(0))
	require.NoError(t, err)
	assert.NotNil(t, signed)

	_, err = opts.Signer(common.HexToAddress("0x01"), newTestTx(0))
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

// SignRequest is the server side view of eth_signTransaction params.
type SignRequest txArgs

// ethService is a minimal remote signing service.
type ethService struct {
	key     *ecdsa.PrivateKey
	mu      sync.Mutex
	request []SignRequest
}

func (s *ethService) Accounts() []common.Address {
	return []common.Address{crypto.PubkeyToAddress(s.key.PublicKey)}
}

func (s *ethService) SignTransaction(args SignRequest) (hexutil.Bytes, error) {
	s.mu.Lock()
	s.request = append(s.request, args)
	s.mu.Unlock()

	var inner types.TxData
	if args.MaxFeePerGas != nil {
		inner = &types.DynamicFeeTx{
			ChainID:   args.ChainID.ToInt(),
			Nonce:     uint64(args.Nonce),
			GasTipCap: args.MaxPriorityFeePerGas.ToInt(),
			GasFeeCap: args.MaxFeePerGas.ToInt(),
			Gas:       uint64(args.Gas),
			To:        args.To,
			Value:     args.Value.ToInt(),
			Data:      args.Data,
		}
	} else {
		inner = &types.LegacyTx{
			Nonce:    uint64(args.Nonce),
			GasPrice: args.GasPrice.ToInt(),
			Gas:      uint64(args.Gas),
			To:       args.To,
			Value:    args.Value.ToInt(),
			Data:     args.Data,
		}
	}

	signed, err := types.SignTx(types.NewTx(inner), types.LatestSignerForChainID(args.ChainID.ToInt()), s.key)
	if err != nil {
		return nil, err
	}
	raw, err := signed.MarshalBinary()
	return hexutil.Bytes(raw), err
}

func newSigningServer(t *testing.T, svc *ethService) (*httptest.Server, *string) {
	t.Helper()

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", svc))
	t.Cleanup(server.Stop)

	var mu sync.Mutex
	var gotKey string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotKey = r.Header.Get("X-API-Key")
		mu.Unlock()
		server.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)
	return ts, &gotKey
}

func TestRemoteSigner_RoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	svc := &ethService{key: key}
	ts, gotKey := newSigningServer(t, svc)

	ctx := context.Background()
	client, err := DialRemote(ctx, ts.URL, "secret")
	require.NoError(t, err)
	defer client.Close()

	set, err := client.Signers(ctx)
	require.NoError(t, err)
	require.Len(t, set, 1)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), set[0].Address())
	assert.Equal(t, "secret", *gotKey)

	chainID := big.NewInt(1337)
	signed, err := set[0].SignTx(ctx, newTestTx(3), chainID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), signed.Nonce())

	require.Len(t, svc.request, 1)
	assert.Equal(t, set[0].Address(), svc.request[0].From)
	assert.NotNil(t, svc.request[0].MaxFeePerGas)
	assert.Nil(t, svc.request[0].GasPrice)
}

func TestRemoteSigner_SenderMismatch(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	ts, _ := newSigningServer(t, &ethService{key: key})

	ctx := context.Background()
	client, err := DialRemote(ctx, ts.URL, "")
	require.NoError(t, err)
	defer client.Close()

	impostor := client.Signer(common.HexToAddress("0x1111111111111111111111111111111111111111"))
	_, err = impostor.SignTx(ctx, newTestTx(0), big.NewInt(1337))
	assert.ErrorIs(t, err, ErrSignerMismatch)
}

func TestBuildTxArgs_Legacy(t *testing.T) {
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, GasPrice: big.NewInt(9), Gas: 50000, Data: []byte{0x60}})
	args := buildTxArgs(common.HexToAddress("0x02"), tx, big.NewInt(5))

	assert.Nil(t, args.To)
	assert.Equal(t, big.NewInt(9), args.GasPrice.ToInt())
	assert.Nil(t, args.MaxFeePerGas)
	assert.Equal(t, hexutil.Bytes{0x60}, args.Data)
	assert.Equal(t, big.NewInt(5), args.ChainID.ToInt())
}
