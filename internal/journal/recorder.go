package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/exalotto/deployer/internal/txn"
	"github.com/exalotto/deployer/internal/unit"
)

// Recorder writes the events of one run to a repository. It observes both
// the transaction submitter and the unit deployer. Journal write failures
// are logged and never abort the deployment.
type Recorder struct {
	repo   Repository
	run    *Run
	logger *slog.Logger

	mu  sync.Mutex
	err error
}

// Begin creates the run record and returns a recorder for it.
func Begin(ctx context.Context, repo Repository, run *Run, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	logger.Info("journal run started",
		slog.String("run_id", run.ID.String()),
		slog.String("command", run.Command),
	)
	return &Recorder{repo: repo, run: run, logger: logger}, nil
}

// RunID returns the id of the recorded run.
func (r *Recorder) RunID() uuid.UUID {
	return r.run.ID
}

// Err returns the first journal write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Finish marks the run completed, or failed with runErr.
func (r *Recorder) Finish(ctx context.Context, runErr error) error {
	status := StatusCompleted
	var msg *string
	if runErr != nil {
		status = StatusFailed
		s := runErr.Error()
		msg = &s
	}
	if err := r.repo.FinishRun(ctx, r.run.ID, status, msg); err != nil {
		return err
	}
	r.run.Status = status
	r.run.Error = msg
	return nil
}

// Confirmed implements txn.Observer.
func (r *Recorder) Confirmed(ctx context.Context, action string, res *txn.Result, _ time.Duration) {
	tx := &Transaction{
		RunID:   r.run.ID,
		Action:  action,
		Status:  TxConfirmed,
		Attempt: res.Attempts,
	}
	if res.Skipped {
		tx.Status = TxSkipped
	}
	if res.Tx != nil {
		nonce := res.Tx.Nonce()
		tx.TxHash = res.Tx.Hash().Hex()
		tx.Nonce = &nonce
	}
	if res.Receipt != nil && res.Receipt.BlockNumber != nil {
		block := res.Receipt.BlockNumber.Uint64()
		gas := res.Receipt.GasUsed
		tx.BlockNumber = &block
		tx.GasUsed = &gas
	}
	r.record(r.repo.RecordTransaction(ctx, tx), "transaction", action)
}

// AttemptFailed implements txn.Observer.
func (r *Recorder) AttemptFailed(ctx context.Context, action string, attempt int, err error) {
	msg := err.Error()
	r.record(r.repo.RecordTransaction(ctx, &Transaction{
		RunID:   r.run.ID,
		Action:  action,
		Status:  TxFailed,
		Attempt: attempt,
		Error:   &msg,
	}), "transaction", action)
}

// Exhausted implements txn.Observer. Every failed attempt is already
// recorded.
func (r *Recorder) Exhausted(context.Context, string, int, error) {}

// UnitDeployed implements unit.Observer.
func (r *Recorder) UnitDeployed(ctx context.Context, d unit.Deployed) {
	u := &Unit{
		RunID:   r.run.ID,
		Name:    d.Name,
		Address: d.Address.Hex(),
		TxHash:  d.TxHash.Hex(),
	}
	if d.Proxied() {
		impl := d.Implementation.Hex()
		u.Implementation = &impl
	}
	r.record(r.repo.RecordUnit(ctx, u), "unit", d.Name)
}

func (r *Recorder) record(err error, kind, name string) {
	if err == nil {
		return
	}
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
	r.logger.Warn("journal write failed",
		slog.String("run_id", r.run.ID.String()),
		slog.String("kind", kind),
		slog.String("name", name),
		slog.String("error", err.Error()),
	)
}

var (
	_ txn.Observer  = (*Recorder)(nil)
	_ unit.Observer = (*Recorder)(nil)
)
