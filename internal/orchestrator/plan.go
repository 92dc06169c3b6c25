package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StepName identifies a deployment step.
type StepName string

const (
	StepInit                StepName = "init"
	StepVRFCoordinator      StepName = "vrf-coordinator"
	StepToken               StepName = "token"
	StepTokenTransfer       StepName = "token-supply-transfer"
	StepLibraries           StepName = "libraries"
	StepLottery             StepName = "lottery"
	StepVRFConsumer         StepName = "vrf-consumer"
	StepController          StepName = "controller"
	StepLotteryOwnership    StepName = "lottery-ownership"
	StepOwnerAdminGrant     StepName = "owner-admin-grant"
	StepOperationalRenounce StepName = "deployer-operational-renounce"
	StepGovernor            StepName = "governor"
	StepGovernorRoleGrants  StepName = "governor-role-grants"
	StepAdminRenounce       StepName = "deployer-admin-renounce"
)

// StepReport describes a finished step.
type StepReport struct {
	Name     StepName      `json:"name" yaml:"name"`
	Skipped  bool          `json:"skipped" yaml:"skipped"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

type stepFunc func(ctx context.Context, r *run) (skipped bool, err error)

type step struct {
	name     StepName
	requires []StepName
	run      stepFunc
}

// plan is an ordered list of steps whose predecessor names are known.
type plan struct {
	steps []step
}

func newPlan(steps ...step) (*plan, error) {
	seen := make(map[StepName]bool, len(steps))
	for _, s := range steps {
		if seen[s.name] {
			return nil, fmt.Errorf("%w: duplicate step %s", ErrInvalidPlan, s.name)
		}
		seen[s.name] = true
	}
	for _, s := range steps {
		for _, req := range s.requires {
			if !seen[req] {
				return nil, fmt.Errorf("%w: step %s requires unknown step %s", ErrInvalidPlan, s.name, req)
			}
		}
	}
	return &plan{steps: steps}, nil
}

// execute runs the steps in order. A step runs only once every step it
// requires has completed or was skipped. The first error aborts the run.
func (o *Orchestrator) execute(ctx context.Context, p *plan, r *run) error {
	done := make(map[StepName]bool, len(p.steps))

	for i, s := range p.steps {
		for _, req := range s.requires {
			if !done[req] {
				return &StepError{Step: s.name, Err: fmt.Errorf("%w: requires %s", ErrStepOrder, req)}
			}
		}

		o.logger.Info("executing step",
			slog.String("step", string(s.name)),
			slog.Int("index", i+1),
			slog.Int("total", len(p.steps)),
		)

		stepCtx, span := o.tracer.Start(ctx, "deploy."+string(s.name),
			trace.WithAttributes(attribute.String("deploy.step", string(s.name))),
		)
		started := time.Now()
		skipped, err := s.run(stepCtx, r)
		report := StepReport{Name: s.name, Skipped: skipped, Duration: time.Since(started)}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()

			report.Error = err.Error()
			r.reports = append(r.reports, report)
			o.notify(report)
			o.logger.Error("step failed",
				slog.String("step", string(s.name)),
				slog.String("error", err.Error()),
			)
			return &StepError{Step: s.name, Err: err}
		}

		span.SetAttributes(attribute.Bool("deploy.skipped", skipped))
		span.End()

		done[s.name] = true
		r.reports = append(r.reports, report)
		o.notify(report)
		if skipped {
			o.logger.Info("step skipped", slog.String("step", string(s.name)))
		}
	}
	return nil
}

func (o *Orchestrator) notify(report StepReport) {
	if o.config.OnStep != nil {
		o.config.OnStep(report)
	}
}
