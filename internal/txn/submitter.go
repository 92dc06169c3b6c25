// Package txn submits transactions, waits for them to reach the configured
// confirmation depth and retries failed attempts.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/exalotto/deployer/internal/signer"
)

const (
	// DefaultMaxAttempts is used when no attempt budget is configured.
	DefaultMaxAttempts = 3
	// DefaultPollInterval is the confirmation depth polling interval.
	DefaultPollInterval = time.Second
)

// Backend is the chain access needed to send and await transactions.
type Backend interface {
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
}

// Action is one logical chain mutation. Send is invoked once per attempt
// with fresh transaction options and must broadcast exactly one
// transaction. Applied, when set, reports whether the mutation already
// took effect and is consulted before each resubmission.
type Action struct {
	Name    string
	Send    func(ctx context.Context, opts *bind.TransactOpts) (*types.Transaction, error)
	Applied func(ctx context.Context) (bool, error)
}

// Result describes a confirmed action.
type Result struct {
	Tx       *types.Transaction
	Receipt  *types.Receipt
	Attempts int
	// Skipped is set when a retry found the mutation already applied.
	Skipped bool
}

// TxHash returns the confirmed transaction hash, or the zero hash when the
// action was skipped.
func (r *Result) TxHash() common.Hash {
	if r == nil || r.Tx == nil {
		return common.Hash{}
	}
	return r.Tx.Hash()
}

// Observer is notified of submission outcomes.
type Observer interface {
	AttemptFailed(ctx context.Context, action string, attempt int, err error)
	Confirmed(ctx context.Context, action string, res *Result, elapsed time.Duration)
	Exhausted(ctx context.Context, action string, attempts int, err error)
}

// Config contains configuration for the submitter.
type Config struct {
	// Logger for structured logging
	Logger *slog.Logger

	// MaxAttempts per action, including the first one
	MaxAttempts int

	// RetryDelay between attempts; zero retries immediately
	RetryDelay time.Duration

	// Confirmations is the number of blocks, including the inclusion block,
	// a transaction must be buried under
	Confirmations uint64

	// PollInterval for confirmation depth checks
	PollInterval time.Duration

	// Nonces overrides automatic nonce selection when set
	Nonces *NonceCounter

	// Observers receive attempt outcomes
	Observers []Observer
}

// Submitter sends actions on behalf of a single signer.
type Submitter struct {
	backend Backend
	signer  signer.Signer
	chainID *big.Int
	config  Config
	logger  *slog.Logger
}

// NewSubmitter creates a submitter for the given signer and chain.
func NewSubmitter(backend Backend, s signer.Signer, chainID *big.Int, config Config) *Submitter {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = 0
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}

	return &Submitter{
		backend: backend,
		signer:  s,
		chainID: chainID,
		config:  config,
		logger:  logger,
	}
}

// Submit runs the action, retrying failed attempts up to the configured
// budget. When every attempt fails the returned error matches
// ErrDeploymentFailed.
func (s *Submitter) Submit(ctx context.Context, a Action) (*Result, error) {
	return s.submit(ctx, a, s.config.MaxAttempts)
}

// SubmitOnce runs the action with a single attempt.
func (s *Submitter) SubmitOnce(ctx context.Context, a Action) (*Result, error) {
	return s.submit(ctx, a, 1)
}

func (s *Submitter) submit(ctx context.Context, a Action, maxAttempts int) (*Result, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			s.logger.Info("retrying action",
				slog.String("action", a.Name),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", maxAttempts),
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.config.RetryDelay):
			}

			if res, ok := s.alreadyApplied(ctx, a, attempt-1); ok {
				return res, nil
			}
		}

		started := time.Now()
		res, err := s.attempt(ctx, a, attempt)
		if err == nil {
			s.logger.Info("transaction confirmed",
				slog.String("action", a.Name),
				slog.String("tx_hash", res.Tx.Hash().Hex()),
				slog.Uint64("block_number", res.Receipt.BlockNumber.Uint64()),
				slog.Int("attempt", attempt),
				slog.Duration("elapsed", time.Since(started)),
			)
			for _, o := range s.config.Observers {
				o.Confirmed(ctx, a.Name, res, time.Since(started))
			}
			return res, nil
		}

		lastErr = err
		s.logger.Warn("action attempt failed",
			slog.String("action", a.Name),
			slog.Int("attempt", attempt),
			slog.Duration("elapsed", time.Since(started)),
			slog.String("error", err.Error()),
		)
		for _, o := range s.config.Observers {
			o.AttemptFailed(ctx, a.Name, attempt, err)
		}

		if errors.Is(err, ErrPermanent) {
			return nil, fmt.Errorf("%s: %w", a.Name, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	for _, o := range s.config.Observers {
		o.Exhausted(ctx, a.Name, maxAttempts, lastErr)
	}
	return nil, &DeploymentError{Action: a.Name, Attempts: maxAttempts, Err: lastErr}
}

// alreadyApplied consults the action's idempotency check before a resubmission.
func (s *Submitter) alreadyApplied(ctx context.Context, a Action, attempts int) (*Result, bool) {
	if a.Applied == nil {
		return nil, false
	}
	applied, err := a.Applied(ctx)
	if err != nil {
		s.logger.Warn("idempotency check failed, resubmitting",
			slog.String("action", a.Name),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	if !applied {
		return nil, false
	}
	s.logger.Info("action already applied, not resubmitting", slog.String("action", a.Name))
	return &Result{Attempts: attempts, Skipped: true}, true
}

// attempt sends the action once and waits for the configured depth.
func (s *Submitter) attempt(ctx context.Context, a Action, n int) (*Result, error) {
	opts := signer.TransactOpts(ctx, s.signer, s.chainID)
	if s.config.Nonces != nil {
		nonce := s.config.Nonces.Reserve()
		opts.Nonce = new(big.Int).SetUint64(nonce)
		s.logger.Debug("using nonce override",
			slog.String("action", a.Name),
			slog.Uint64("nonce", nonce),
		)
	}

	tx, err := a.Send(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	s.logger.Debug("transaction sent",
		slog.String("action", a.Name),
		slog.String("tx_hash", tx.Hash().Hex()),
		slog.Uint64("nonce", tx.Nonce()),
	)

	receipt, err := bind.WaitMined(ctx, s.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}

	if err := s.waitConfirmations(ctx, receipt.BlockNumber.Uint64()); err != nil {
		return nil, err
	}

	return &Result{Tx: tx, Receipt: receipt, Attempts: n}, nil
}

// waitConfirmations blocks until the chain head is depth-1 blocks past the
// inclusion block.
func (s *Submitter) waitConfirmations(ctx context.Context, block uint64) error {
	if s.config.Confirmations <= 1 {
		return nil
	}
	target := block + s.config.Confirmations - 1

	for {
		head, err := s.backend.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("get block number: %w", err)
		}
		if head >= target {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.config.PollInterval):
		}
	}
}
