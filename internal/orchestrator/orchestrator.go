// Package orchestrator deploys the lottery system and hands its
// administrative roles from the deployer to the owner and the governor.
package orchestrator

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/exalotto/deployer/internal/unit"
)

// Artifact names of the deployed units.
const (
	ArtifactToken       = "LotteryToken"
	ArtifactDrawing     = "Drawing"
	ArtifactTicketIndex = "TicketIndex"
	ArtifactUserTickets = "UserTickets"
	ArtifactLottery     = "Lottery"
	ArtifactController  = "LotteryController"
	ArtifactGovernor    = "LotteryGovernor"
	ArtifactMockVRF     = "MockVRFCoordinator"
)

// DefaultSubscriptionID is the first subscription created on a fresh mock
// coordinator.
const DefaultSubscriptionID uint64 = 1

const tracerName = "github.com/exalotto/deployer/internal/orchestrator"

// UnitDeployer deploys contract units.
type UnitDeployer interface {
	DeployPlain(ctx context.Context, spec unit.Spec) (unit.Handle, error)
	DeployBehindProxy(ctx context.Context, spec unit.Spec, opts unit.ProxyOptions) (unit.Handle, error)
}

// Config contains configuration for the orchestrator.
type Config struct {
	// Logger for structured logging
	Logger *slog.Logger

	// Owner receives the token supply and the controller's admin role.
	// Defaults to the deployer.
	Owner common.Address

	// VRFCoordinator is the randomness coordinator passed to the lottery
	VRFCoordinator common.Address

	// MockVRF deploys a mock coordinator, opens a subscription and
	// registers the lottery as its consumer. Development networks only.
	MockVRF bool

	// SubscriptionID of the mock coordinator subscription
	SubscriptionID uint64

	// Tracer for per-step spans; defaults to the global provider
	Tracer trace.Tracer

	// OnStep is called after every step
	OnStep func(StepReport)
}

// Libraries are the lottery's linked libraries.
type Libraries struct {
	Drawing     unit.Handle
	TicketIndex unit.Handle
	UserTickets unit.Handle
}

// Addresses maps library names to their addresses for linking.
func (l Libraries) Addresses() map[string]common.Address {
	addrs := make(map[string]common.Address, 3)
	if l.Drawing != nil {
		addrs[ArtifactDrawing] = l.Drawing.Address()
	}
	if l.TicketIndex != nil {
		addrs[ArtifactTicketIndex] = l.TicketIndex.Address()
	}
	if l.UserTickets != nil {
		addrs[ArtifactUserTickets] = l.UserTickets.Address()
	}
	return addrs
}

// System is the outcome of a run. After a failed run it holds the units
// deployed before the failing step.
type System struct {
	Deployer       common.Address
	Owner          common.Address
	VRFCoordinator common.Address
	MockVRF        unit.Handle
	// SubscriptionID is the mock coordinator subscription, zero without a mock
	SubscriptionID uint64
	Token          unit.Handle
	Libraries      Libraries
	Lottery        unit.Handle
	Controller     unit.Handle
	Governor       unit.Handle
	Roles          Roles
	Steps          []StepReport
}

// Orchestrator runs deployment plans for a single deployer identity.
type Orchestrator struct {
	units    UnitDeployer
	deployer common.Address
	config   Config
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates an orchestrator. deployer is the identity that sends every
// transaction through units.
func New(units UnitDeployer, deployer common.Address, config Config) *Orchestrator {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := config.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	if config.SubscriptionID == 0 {
		config.SubscriptionID = DefaultSubscriptionID
	}

	return &Orchestrator{
		units:    units,
		deployer: deployer,
		config:   config,
		logger:   logger,
		tracer:   tracer,
	}
}

// run is the mutable state of one orchestration run.
type run struct {
	deployer    common.Address
	owner       common.Address
	coordinator common.Address
	mockVRF     unit.Handle
	// subscriptionID is set once the mock subscription exists
	subscriptionID uint64
	token          unit.Handle
	libraries      Libraries
	lottery        unit.Handle
	controller     unit.Handle
	governor       unit.Handle
	roles          Roles
	reports        []StepReport
}

func (r *run) system() *System {
	return &System{
		Deployer:       r.deployer,
		Owner:          r.owner,
		VRFCoordinator: r.coordinator,
		MockVRF:        r.mockVRF,
		SubscriptionID: r.subscriptionID,
		Token:          r.token,
		Libraries:      r.libraries,
		Lottery:        r.lottery,
		Controller:     r.controller,
		Governor:       r.governor,
		Roles:          r.roles,
		Steps:          r.reports,
	}
}

// Run deploys and bootstraps the whole system.
func (o *Orchestrator) Run(ctx context.Context) (*System, error) {
	return o.runPlan(ctx, o.systemSteps())
}

// DeployLottery deploys only the libraries and the proxied lottery.
func (o *Orchestrator) DeployLottery(ctx context.Context) (*System, error) {
	return o.runPlan(ctx, o.lotterySteps())
}

func (o *Orchestrator) runPlan(ctx context.Context, steps []step) (*System, error) {
	p, err := newPlan(steps...)
	if err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "deploy")
	defer span.End()

	r := &run{deployer: o.deployer}
	if err := o.execute(ctx, p, r); err != nil {
		return r.system(), err
	}
	return r.system(), nil
}

func (o *Orchestrator) systemSteps() []step {
	return []step{
		{name: StepInit, run: o.stepInit},
		{name: StepVRFCoordinator, requires: []StepName{StepInit}, run: o.stepVRFCoordinator},
		{name: StepToken, requires: []StepName{StepInit}, run: o.stepToken},
		{name: StepTokenTransfer, requires: []StepName{StepToken}, run: o.stepTokenTransfer},
		{name: StepLibraries, requires: []StepName{StepInit}, run: o.stepLibraries},
		{name: StepLottery, requires: []StepName{StepLibraries, StepVRFCoordinator}, run: o.stepLottery},
		{name: StepVRFConsumer, requires: []StepName{StepLottery}, run: o.stepVRFConsumer},
		{name: StepController, requires: []StepName{StepToken, StepLottery}, run: o.stepController},
		{name: StepLotteryOwnership, requires: []StepName{StepController}, run: o.stepLotteryOwnership},
		{name: StepOwnerAdminGrant, requires: []StepName{StepController}, run: o.stepOwnerAdminGrant},
		{name: StepOperationalRenounce, requires: []StepName{StepOwnerAdminGrant}, run: o.stepOperationalRenounce},
		{name: StepGovernor, requires: []StepName{StepToken, StepController}, run: o.stepGovernor},
		{name: StepGovernorRoleGrants, requires: []StepName{StepGovernor}, run: o.stepGovernorRoleGrants},
		{
			name:     StepAdminRenounce,
			requires: []StepName{StepOwnerAdminGrant, StepGovernorRoleGrants, StepOperationalRenounce},
			run:      o.stepAdminRenounce,
		},
	}
}

func (o *Orchestrator) lotterySteps() []step {
	return []step{
		{name: StepInit, run: o.stepInit},
		{name: StepVRFCoordinator, requires: []StepName{StepInit}, run: o.stepVRFCoordinator},
		{name: StepLibraries, requires: []StepName{StepInit}, run: o.stepLibraries},
		{name: StepLottery, requires: []StepName{StepLibraries, StepVRFCoordinator}, run: o.stepLottery},
		{name: StepVRFConsumer, requires: []StepName{StepLottery}, run: o.stepVRFConsumer},
	}
}
