package journal

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPostgresRepository runs against a real database when
// EXALOTTO_TEST_JOURNAL_DSN is set.
func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("EXALOTTO_TEST_JOURNAL_DSN")
	if dsn == "" {
		t.Skip("EXALOTTO_TEST_JOURNAL_DSN not set")
	}
	ctx := context.Background()

	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)

	version, err := Migrate(pool)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	repo := NewPostgresRepository(pool)
	defer repo.Close()

	run := &Run{Command: "deploy", ChainID: 1337, Deployer: "0xde", Owner: "0xa1"}
	require.NoError(t, repo.CreateRun(ctx, run))

	nonce := uint64(3)
	require.NoError(t, repo.RecordTransaction(ctx, &Transaction{RunID: run.ID, Action: "deploy Drawing", Status: TxConfirmed, Attempt: 1, TxHash: "0x01", Nonce: &nonce}))
	require.NoError(t, repo.RecordTransaction(ctx, &Transaction{RunID: run.ID, Action: "deploy TicketIndex", Status: TxConfirmed, Attempt: 1}))
	require.NoError(t, repo.RecordUnit(ctx, &Unit{RunID: run.ID, Name: "Drawing", Address: "0x02", TxHash: "0x01"}))
	require.NoError(t, repo.FinishRun(ctx, run.ID, StatusCompleted, nil))

	got, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.NotNil(t, got.FinishedAt)

	txs, err := repo.ListTransactions(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "deploy Drawing", txs[0].Action)
	assert.Equal(t, nonce, *txs[0].Nonce)
	assert.Empty(t, txs[1].TxHash)

	units, err := repo.ListUnits(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "0x02", units[0].Address)
}
