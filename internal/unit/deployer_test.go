package unit

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exalotto/deployer/internal/artifact"
	"github.com/exalotto/deployer/internal/artifact/artifacttest"
	"github.com/exalotto/deployer/internal/chain/chaintest"
	"github.com/exalotto/deployer/internal/signer"
	"github.com/exalotto/deployer/internal/txn"
)

type recordingObserver struct {
	mu    sync.Mutex
	units []Deployed
}

func (r *recordingObserver) UnitDeployed(_ context.Context, d Deployed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units = append(r.units, d)
}

type fixture struct {
	backend  *chaintest.Backend
	deployer *Deployer
	observer *recordingObserver
	nonces   *txn.NonceCounter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := chaintest.New(t, 1)

	store := artifact.NewStore()
	store.Add(artifacttest.New(t, "Answer", artifacttest.AnswerABI))
	store.Add(artifacttest.New(t, "Drawing", `[]`))
	store.Add(artifacttest.New(t, "TicketIndex", `[]`))
	store.Add(artifacttest.New(t, "Lottery", artifacttest.AnswerABI, "Drawing", "TicketIndex"))
	store.Add(artifacttest.New(t, DefaultProxyArtifact, artifacttest.ProxyABI))

	nonces := txn.NewNonceCounter(0)
	submitter := txn.NewSubmitter(backend.Client(), signer.NewKeySignerFromKey(backend.Keys[0]), backend.ChainID, txn.Config{
		MaxAttempts: 2,
		Nonces:      nonces,
	})

	observer := &recordingObserver{}
	deployer := NewDeployer(store, backend.Client(), submitter, Config{Observers: []Observer{observer}})
	return &fixture{backend: backend, deployer: deployer, observer: observer, nonces: nonces}
}

func (f *fixture) pendingNonce(t *testing.T) uint64 {
	t.Helper()
	n, err := f.backend.Client().PendingNonceAt(context.Background(), f.backend.Address(0))
	require.NoError(t, err)
	return n
}

func TestDeployPlain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.deployer.DeployPlain(ctx, Spec{Name: "Answer"})
	require.NoError(t, err)

	code, err := f.backend.Client().CodeAt(ctx, h.Address(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, code)
	require.NotNil(t, h.DeployTx())

	answer, err := CallBigInt(ctx, h, "answer")
	require.NoError(t, err)
	assert.Equal(t, int64(42), answer.Int64())

	require.Len(t, f.observer.units, 1)
	assert.Equal(t, "Answer", f.observer.units[0].Name)
	assert.Equal(t, h.Address(), f.observer.units[0].Address)
	assert.Equal(t, h.DeployTx().Hash(), f.observer.units[0].TxHash)
	assert.False(t, f.observer.units[0].Proxied())
	assert.Equal(t, uint64(1), f.nonces.Next())
}

func TestDeployPlain_DistinctAddresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.deployer.DeployPlain(ctx, Spec{Name: "Answer"})
	require.NoError(t, err)
	second, err := f.deployer.DeployPlain(ctx, Spec{Name: "Answer"})
	require.NoError(t, err)

	assert.NotEqual(t, first.Address(), second.Address())
}

func TestDeployPlain_LinkedLibraries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	drawing, err := f.deployer.DeployPlain(ctx, Spec{Name: "Drawing"})
	require.NoError(t, err)
	index, err := f.deployer.DeployPlain(ctx, Spec{Name: "TicketIndex"})
	require.NoError(t, err)

	lottery, err := f.deployer.DeployPlain(ctx, Spec{
		Name: "Lottery",
		Libraries: map[string]common.Address{
			"Drawing":     drawing.Address(),
			"TicketIndex": index.Address(),
		},
	})
	require.NoError(t, err)

	data := lottery.DeployTx().Data()
	assert.Equal(t, drawing.Address().Bytes(), data[artifacttest.CodeSize:artifacttest.CodeSize+20])
	assert.Equal(t, index.Address().Bytes(), data[artifacttest.CodeSize+20:artifacttest.CodeSize+40])
}

func TestDeployPlain_FailsBeforeSending(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr error
	}{
		{
			name:    "unresolved library",
			spec:    Spec{Name: "Lottery", Libraries: map[string]common.Address{"Drawing": {1}}},
			wantErr: artifact.ErrUnresolvedLibrary,
		},
		{
			name:    "unknown library",
			spec:    Spec{Name: "Answer", Libraries: map[string]common.Address{"UserTickets": {1}}},
			wantErr: artifact.ErrUnknownLibrary,
		},
		{
			name:    "missing artifact",
			spec:    Spec{Name: "LotteryGovernor"},
			wantErr: artifact.ErrNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.deployer.DeployPlain(context.Background(), tc.spec)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, uint64(0), f.pendingNonce(t))
			assert.Equal(t, uint64(0), f.nonces.Next())
		})
	}
}

func TestDeployPlain_BadConstructorArgs(t *testing.T) {
	f := newFixture(t)

	_, err := f.deployer.DeployPlain(context.Background(), Spec{Name: DefaultProxyArtifact, Args: []any{"nope"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "constructor arguments")
	assert.Equal(t, uint64(0), f.pendingNonce(t))
}

func TestDeployBehindProxy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	drawing, err := f.deployer.DeployPlain(ctx, Spec{Name: "Drawing"})
	require.NoError(t, err)
	index, err := f.deployer.DeployPlain(ctx, Spec{Name: "TicketIndex"})
	require.NoError(t, err)

	libs := map[string]common.Address{
		"Drawing":     drawing.Address(),
		"TicketIndex": index.Address(),
	}

	t.Run("linked libraries need permission", func(t *testing.T) {
		before := f.pendingNonce(t)
		_, err := f.deployer.DeployBehindProxy(ctx, Spec{Name: "Lottery", Args: []any{big.NewInt(7)}, Libraries: libs}, ProxyOptions{})
		assert.ErrorIs(t, err, ErrUnsafeLinkedLibraries)
		assert.Equal(t, before, f.pendingNonce(t))
	})

	t.Run("allowed", func(t *testing.T) {
		h, err := f.deployer.DeployBehindProxy(ctx, Spec{Name: "Lottery", Args: []any{big.NewInt(7)}, Libraries: libs}, ProxyOptions{
			AllowLinkedLibraries: true,
		})
		require.NoError(t, err)

		proxied, ok := h.(*Unit)
		require.True(t, ok)
		assert.NotEqual(t, common.Address{}, proxied.Implementation())
		assert.NotEqual(t, proxied.Implementation(), h.Address())

		answer, err := CallBigInt(ctx, h, "answer")
		require.NoError(t, err)
		assert.Equal(t, int64(42), answer.Int64())

		last := f.observer.units[len(f.observer.units)-1]
		assert.True(t, last.Proxied())
		assert.Equal(t, h.Address(), last.Address)
	})

	t.Run("initializer arguments are checked", func(t *testing.T) {
		before := f.pendingNonce(t)
		_, err := f.deployer.DeployBehindProxy(ctx, Spec{Name: "Lottery", Args: []any{"x"}, Libraries: libs}, ProxyOptions{
			AllowLinkedLibraries: true,
		})
		require.Error(t, err)
		assert.Equal(t, before, f.pendingNonce(t))
	})
}

func TestDeployBehindProxy_MissingInitializer(t *testing.T) {
	f := newFixture(t)
	_, err := f.deployer.DeployBehindProxy(context.Background(), Spec{Name: "Drawing", Args: []any{big.NewInt(1)}}, ProxyOptions{})
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestUnit_Invoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.deployer.DeployPlain(ctx, Spec{Name: "Answer"})
	require.NoError(t, err)
	u := h.(*Unit)

	res, err := u.Send(ctx, "ping")
	require.NoError(t, err)
	assert.Equal(t, h.Address(), *res.Tx.To())
	assert.Equal(t, uint64(1), res.Tx.Nonce())

	res, err = u.SendOnce(ctx, "ping")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)

	_, err = u.SendValue(ctx, big.NewInt(5), "fund")
	require.NoError(t, err)
	balance, err := f.backend.Client().BalanceAt(ctx, h.Address(), nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5), balance)

	_, err = u.Send(ctx, "selfdestruct")
	assert.ErrorIs(t, err, ErrUnknownMethod)

	_, err = u.Call(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownMethod)

	_, err = CallBool(ctx, h, "answer")
	assert.ErrorIs(t, err, ErrUnexpectedResult)
}

func TestAttach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deployed, err := f.deployer.DeployPlain(ctx, Spec{Name: "Answer"})
	require.NoError(t, err)

	attached, err := f.deployer.Attach("Answer", deployed.Address())
	require.NoError(t, err)
	assert.Nil(t, attached.DeployTx())
	assert.Equal(t, deployed.Address(), attached.Address())

	answer, err := CallBigInt(ctx, attached, "answer")
	require.NoError(t, err)
	assert.Equal(t, int64(42), answer.Int64())

	_, err = f.deployer.Attach("Unknown", deployed.Address())
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}
