// Package journal records deployment runs, their transactions and the units
// they deployed.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ErrRunNotFound is returned when a run does not exist.
var ErrRunNotFound = errors.New("journal: run not found")

// Status is the state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// TxStatus is the outcome of a single submission attempt.
type TxStatus string

const (
	TxConfirmed TxStatus = "confirmed"
	TxSkipped   TxStatus = "skipped"
	TxFailed    TxStatus = "failed"
)

// Run is one invocation of a deployment plan.
type Run struct {
	ID         uuid.UUID  `json:"id" yaml:"id"`
	Command    string     `json:"command" yaml:"command"`
	ChainID    int64      `json:"chain_id" yaml:"chain_id"`
	Deployer   string     `json:"deployer" yaml:"deployer"`
	Owner      string     `json:"owner" yaml:"owner"`
	Status     Status     `json:"status" yaml:"status"`
	Error      *string    `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Transaction is a recorded submission attempt.
type Transaction struct {
	ID          ulid.ULID `json:"id" yaml:"id"`
	RunID       uuid.UUID `json:"run_id" yaml:"run_id"`
	Action      string    `json:"action" yaml:"action"`
	Status      TxStatus  `json:"status" yaml:"status"`
	Attempt     int       `json:"attempt" yaml:"attempt"`
	TxHash      string    `json:"tx_hash,omitempty" yaml:"tx_hash,omitempty"`
	Nonce       *uint64   `json:"nonce,omitempty" yaml:"nonce,omitempty"`
	BlockNumber *uint64   `json:"block_number,omitempty" yaml:"block_number,omitempty"`
	GasUsed     *uint64   `json:"gas_used,omitempty" yaml:"gas_used,omitempty"`
	Error       *string   `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// Unit is a recorded deployed contract.
type Unit struct {
	ID             ulid.ULID `json:"id" yaml:"id"`
	RunID          uuid.UUID `json:"run_id" yaml:"run_id"`
	Name           string    `json:"name" yaml:"name"`
	Address        string    `json:"address" yaml:"address"`
	Implementation *string   `json:"implementation,omitempty" yaml:"implementation,omitempty"`
	TxHash         string    `json:"tx_hash" yaml:"tx_hash"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
}

// Repository defines the interface for journal data operations.
type Repository interface {
	// Run operations
	CreateRun(ctx context.Context, r *Run) error
	FinishRun(ctx context.Context, id uuid.UUID, status Status, errMsg *string) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// Transaction operations
	RecordTransaction(ctx context.Context, tx *Transaction) error
	ListTransactions(ctx context.Context, runID uuid.UUID) ([]Transaction, error)

	// Unit operations
	RecordUnit(ctx context.Context, u *Unit) error
	ListUnits(ctx context.Context, runID uuid.UUID) ([]Unit, error)

	Close()
}
