package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

type postgresRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a journal backed by Postgres.
func NewPostgresRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepo{pool: pool}
}

// Connect opens a connection pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// CreateRun inserts a new run.
func (r *postgresRepo) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO deployment_runs (id, command, chain_id, deployer, owner, status, error, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Command,
		run.ChainID,
		run.Deployer,
		run.Owner,
		string(run.Status),
		run.Error,
		run.StartedAt,
	)
	return err
}

// FinishRun sets the final status of a run.
func (r *postgresRepo) FinishRun(ctx context.Context, id uuid.UUID, status Status, errMsg *string) error {
	query := `
		UPDATE deployment_runs
		SET status = $2, error = $3, finished_at = NOW()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, string(status), errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

const runColumns = `id, command, chain_id, deployer, owner, status, error, started_at, finished_at`

// GetRun retrieves a run by ID.
func (r *postgresRepo) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM deployment_runs WHERE id = $1`

	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// ListRuns returns the most recent runs first.
func (r *postgresRepo) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM deployment_runs ORDER BY started_at DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	var status string
	err := row.Scan(
		&run.ID,
		&run.Command,
		&run.ChainID,
		&run.Deployer,
		&run.Owner,
		&status,
		&run.Error,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Status = Status(status)
	return &run, nil
}

// RecordTransaction inserts a submission attempt.
func (r *postgresRepo) RecordTransaction(ctx context.Context, tx *Transaction) error {
	if tx.ID == (ulid.ULID{}) {
		tx.ID = ulid.Make()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO deployment_transactions
			(id, run_id, action, status, attempt, tx_hash, nonce, block_number, gas_used, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		tx.ID.String(),
		tx.RunID,
		tx.Action,
		string(tx.Status),
		tx.Attempt,
		nullString(tx.TxHash),
		toInt64(tx.Nonce),
		toInt64(tx.BlockNumber),
		toInt64(tx.GasUsed),
		tx.Error,
		tx.CreatedAt,
	)
	return err
}

// ListTransactions returns the transactions of a run in recording order.
func (r *postgresRepo) ListTransactions(ctx context.Context, runID uuid.UUID) ([]Transaction, error) {
	query := `
		SELECT id, run_id, action, status, attempt, tx_hash, nonce, block_number, gas_used, error, created_at
		FROM deployment_transactions
		WHERE run_id = $1
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var (
			tx                    Transaction
			id, status            string
			txHash                *string
			nonce, block, gasUsed *int64
		)
		if err := rows.Scan(&id, &tx.RunID, &tx.Action, &status, &tx.Attempt, &txHash, &nonce, &block, &gasUsed, &tx.Error, &tx.CreatedAt); err != nil {
			return nil, err
		}
		if tx.ID, err = ulid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse transaction id %q: %w", id, err)
		}
		tx.Status = TxStatus(status)
		if txHash != nil {
			tx.TxHash = *txHash
		}
		tx.Nonce, tx.BlockNumber, tx.GasUsed = toUint64(nonce), toUint64(block), toUint64(gasUsed)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// RecordUnit inserts a deployed unit.
func (r *postgresRepo) RecordUnit(ctx context.Context, u *Unit) error {
	if u.ID == (ulid.ULID{}) {
		u.ID = ulid.Make()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO deployment_units (id, run_id, name, address, implementation, tx_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		u.ID.String(),
		u.RunID,
		u.Name,
		u.Address,
		u.Implementation,
		u.TxHash,
		u.CreatedAt,
	)
	return err
}

// ListUnits returns the units of a run in deployment order.
func (r *postgresRepo) ListUnits(ctx context.Context, runID uuid.UUID) ([]Unit, error) {
	query := `
		SELECT id, run_id, name, address, implementation, tx_hash, created_at
		FROM deployment_units
		WHERE run_id = $1
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var u Unit
		var id string
		if err := rows.Scan(&id, &u.RunID, &u.Name, &u.Address, &u.Implementation, &u.TxHash, &u.CreatedAt); err != nil {
			return nil, err
		}
		if u.ID, err = ulid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse unit id %q: %w", id, err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// Close releases the connection pool.
func (r *postgresRepo) Close() {
	r.pool.Close()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toInt64(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	i := int64(*v)
	return &i
}

func toUint64(v *int64) *uint64 {
	if v == nil {
		return nil
	}
	u := uint64(*v)
	return &u
}
