package txn

import (
	"errors"
	"fmt"
)

var (
	// ErrDeploymentFailed is matched by every error returned after the retry
	// budget of an action is exhausted.
	ErrDeploymentFailed = errors.New("txn: deployment failed")
	// ErrReverted is returned when a mined transaction has a failed status.
	ErrReverted = errors.New("txn: transaction reverted")
	// ErrPermanent marks errors that must not be retried.
	ErrPermanent = errors.New("txn: permanent failure")
)

// DeploymentError reports an action that failed on every attempt.
type DeploymentError struct {
	Action   string
	Attempts int
	Err      error
}

func (e *DeploymentError) Error() string {
	noun := "attempts"
	if e.Attempts == 1 {
		noun = "attempt"
	}
	return fmt.Sprintf("%s: action failed after %d %s: %v", e.Action, e.Attempts, noun, e.Err)
}

// Unwrap exposes both ErrDeploymentFailed and the last attempt's error.
func (e *DeploymentError) Unwrap() []error {
	return []error{ErrDeploymentFailed, e.Err}
}

// Permanent wraps err so the submitter gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}
