package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrStepOrder is returned when a step runs before one of its
	// predecessors completed.
	ErrStepOrder = errors.New("orchestrator: step run before its predecessors")
	// ErrInvalidPlan is returned for plans with duplicate or unknown steps.
	ErrInvalidPlan = errors.New("orchestrator: invalid plan")
	// ErrHandoffPrecondition is returned when a role renunciation would
	// leave the controller without the required holders.
	ErrHandoffPrecondition = errors.New("orchestrator: role handoff precondition not met")
	// ErrMissingCoordinator is returned when no randomness coordinator is
	// configured and no mock is requested.
	ErrMissingCoordinator = errors.New("orchestrator: randomness coordinator address required")
)

// StepError reports the step that aborted a run.
type StepError struct {
	Step StepName
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
