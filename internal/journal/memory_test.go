package journal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_Runs(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	older := &Run{Command: "deploy", ChainID: 1337, StartedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, repo.CreateRun(ctx, older))
	newer := &Run{Command: "deploy-lottery", ChainID: 1337}
	require.NoError(t, repo.CreateRun(ctx, newer))

	assert.NotEqual(t, uuid.Nil, newer.ID)
	assert.Equal(t, StatusRunning, newer.Status)
	assert.False(t, newer.StartedAt.IsZero())

	runs, err := repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.ID, runs[0].ID)
	assert.Equal(t, older.ID, runs[1].ID)

	runs, err = repo.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	msg := "step governor: boom"
	require.NoError(t, repo.FinishRun(ctx, older.ID, StatusFailed, &msg))
	got, err := repo.GetRun(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, &msg, got.Error)
	assert.NotNil(t, got.FinishedAt)

	_, err = repo.GetRun(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, repo.FinishRun(ctx, uuid.New(), StatusCompleted, nil), ErrRunNotFound)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	run := &Run{Command: "deploy"}
	require.NoError(t, repo.CreateRun(ctx, run))
	run.Status = StatusCompleted

	got, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
}

func TestMemoryRepository_TransactionsAndUnits(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	run := &Run{Command: "deploy"}
	require.NoError(t, repo.CreateRun(ctx, run))

	first := &Transaction{RunID: run.ID, Action: "deploy LotteryToken", Status: TxFailed, Attempt: 1}
	second := &Transaction{RunID: run.ID, Action: "deploy LotteryToken", Status: TxConfirmed, Attempt: 2, TxHash: "0xabc"}
	require.NoError(t, repo.RecordTransaction(ctx, first))
	require.NoError(t, repo.RecordTransaction(ctx, second))
	assert.NotEqual(t, ulid.ULID{}, first.ID)
	assert.Equal(t, -1, first.ID.Compare(second.ID))

	txs, err := repo.ListTransactions(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, TxFailed, txs[0].Status)
	assert.Equal(t, "0xabc", txs[1].TxHash)

	require.NoError(t, repo.RecordUnit(ctx, &Unit{RunID: run.ID, Name: "LotteryToken", Address: "0x01", TxHash: "0xabc"}))
	units, err := repo.ListUnits(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "LotteryToken", units[0].Name)

	orphan := uuid.New()
	assert.ErrorIs(t, repo.RecordTransaction(ctx, &Transaction{RunID: orphan}), ErrRunNotFound)
	assert.ErrorIs(t, repo.RecordUnit(ctx, &Unit{RunID: orphan}), ErrRunNotFound)

	empty, err := repo.ListUnits(ctx, orphan)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
