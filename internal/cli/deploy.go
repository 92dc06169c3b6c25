package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/exalotto/deployer/internal/chain"
	"github.com/exalotto/deployer/internal/journal"
	"github.com/exalotto/deployer/internal/metrics"
	"github.com/exalotto/deployer/internal/orchestrator"
	"github.com/exalotto/deployer/internal/preflight"
	"github.com/exalotto/deployer/internal/signer"
	"github.com/exalotto/deployer/internal/telemetry"
	"github.com/exalotto/deployer/internal/txn"
	"github.com/exalotto/deployer/internal/unit"
)

// Report summarizes a deployment run.
type Report struct {
	RunID        string                    `json:"run_id" yaml:"run_id"`
	Command      string                    `json:"command" yaml:"command"`
	Status       journal.Status            `json:"status" yaml:"status"`
	Error        string                    `json:"error,omitempty" yaml:"error,omitempty"`
	ChainID      uint64                    `json:"chain_id" yaml:"chain_id"`
	Network      string                    `json:"network" yaml:"network"`
	Deployer     string                    `json:"deployer" yaml:"deployer"`
	Owner        string                    `json:"owner" yaml:"owner"`
	VRF          VRFReport                 `json:"vrf" yaml:"vrf"`
	Units        []UnitReport              `json:"units" yaml:"units"`
	Roles        map[string]string         `json:"roles,omitempty" yaml:"roles,omitempty"`
	Steps        []orchestrator.StepReport `json:"steps" yaml:"steps"`
	Transactions []journal.Transaction     `json:"transactions" yaml:"transactions"`
}

// VRFReport holds the randomness settings the lottery was deployed with.
type VRFReport struct {
	Coordinator      string `json:"coordinator" yaml:"coordinator"`
	Mock             bool   `json:"mock" yaml:"mock"`
	SubscriptionID   uint64 `json:"subscription_id,omitempty" yaml:"subscription_id,omitempty"`
	KeyHash          string `json:"key_hash,omitempty" yaml:"key_hash,omitempty"`
	CallbackGasLimit uint32 `json:"callback_gas_limit" yaml:"callback_gas_limit"`
}

// UnitReport describes one deployed unit.
type UnitReport struct {
	Name           string `json:"name" yaml:"name"`
	Address        string `json:"address" yaml:"address"`
	Implementation string `json:"implementation,omitempty" yaml:"implementation,omitempty"`
	TxHash         string `json:"tx_hash" yaml:"tx_hash"`
}

func (a *app) deployCmd() *cobra.Command {
	var mockVRF bool
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the whole system and hand over its roles",
		Long: `Deploys LotteryToken, the Drawing, TicketIndex and UserTickets libraries,
Lottery behind an ERC1967 proxy, LotteryController and LotteryGovernor.

When the owner differs from the deployer the token supply is transferred to
the owner, the owner receives the controller admin role, and the deployer
renounces every controller role once the governor holds all of them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDeploy(cmd.Context(), "deploy", mockVRF || a.cfg.MockVRF, false)
		},
	}
	cmd.Flags().BoolVar(&mockVRF, "mock-vrf", false, "deploy a mock VRF coordinator (development networks only)")
	return cmd
}

func (a *app) deployLotteryCmd() *cobra.Command {
	var mockVRF bool
	cmd := &cobra.Command{
		Use:   "deploy-lottery",
		Short: "Deploy only the libraries and the proxied lottery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDeploy(cmd.Context(), "deploy-lottery", mockVRF || a.cfg.MockVRF, true)
		},
	}
	cmd.Flags().BoolVar(&mockVRF, "mock-vrf", false, "deploy a mock VRF coordinator (development networks only)")
	return cmd
}

func (a *app) runDeploy(ctx context.Context, command string, mockVRF, lotteryOnly bool) error {
	shutdown, err := telemetry.Setup(ctx, a.cfg.OTLPEndpoint, Version)
	if err != nil {
		return err
	}
	defer func() {
		if serr := shutdown(context.Background()); serr != nil {
			a.logger.Warn("flush traces", slog.String("error", serr.Error()))
		}
	}()

	client, chainID, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	signers, release, err := a.loadSigners(ctx)
	if err != nil {
		return err
	}
	defer release()
	deployer, err := signers.Deployer()
	if err != nil {
		return err
	}

	store, err := a.loadArtifacts(ctx)
	if err != nil {
		return err
	}

	repo, err := a.openJournal(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	owner := a.cfg.OwnerAddress()
	if owner == (common.Address{}) {
		owner = deployer.Address()
	}
	recorder, err := journal.Begin(ctx, repo, &journal.Run{
		Command:  command,
		ChainID:  chainID.Int64(),
		Deployer: deployer.Address().Hex(),
		Owner:    owner.Hex(),
	}, a.logger)
	if err != nil {
		return fmt.Errorf("start journal run: %w", err)
	}

	collector := metrics.New()
	sys, runErr := a.orchestrate(ctx, client, chainID, deployer, store, recorder, collector, mockVRF, lotteryOnly)

	if err := recorder.Finish(ctx, runErr); err != nil {
		a.logger.Warn("finish journal run", slog.String("error", err.Error()))
	}
	collector.ObserveRun(runErr)
	if a.cfg.PushgatewayURL != "" {
		if err := collector.Push(ctx, a.cfg.PushgatewayURL, map[string]string{"chain_id": chainID.String()}); err != nil {
			a.logger.Warn("push metrics", slog.String("error", err.Error()))
		}
	}

	report := a.buildReport(ctx, repo, recorder, command, chainID, sys, runErr)
	if err := a.print(report); err != nil {
		return err
	}
	return runErr
}

// orchestrate wires the submission layer, the unit deployer and the
// orchestrator for one run.
func (a *app) orchestrate(
	ctx context.Context,
	client chain.Client,
	chainID *big.Int,
	deployer signer.Signer,
	artifacts unit.Resolver,
	recorder *journal.Recorder,
	collector *metrics.Collector,
	mockVRF, lotteryOnly bool,
) (*orchestrator.System, error) {
	var nonces *txn.NonceCounter
	if a.cfg.NonceOverride != nil {
		nonces = txn.NewNonceCounter(*a.cfg.NonceOverride)
		a.logger.Info("nonce override active", slog.Uint64("start", *a.cfg.NonceOverride))
	}

	submitter := txn.NewSubmitter(client, deployer, chainID, txn.Config{
		Logger:        a.logger,
		MaxAttempts:   a.cfg.DeploymentAttempts,
		RetryDelay:    a.cfg.RetryDelay,
		Confirmations: a.cfg.Confirmations,
		Nonces:        nonces,
		Observers:     []txn.Observer{recorder, collector},
	})
	units := unit.NewDeployer(artifacts, client, submitter, unit.Config{
		Logger:    a.logger,
		Observers: []unit.Observer{recorder, collector},
	})

	orch := orchestrator.New(units, deployer.Address(), orchestrator.Config{
		Logger:         a.logger,
		Owner:          a.cfg.OwnerAddress(),
		VRFCoordinator: a.cfg.CoordinatorAddress(),
		MockVRF:        mockVRF,
		SubscriptionID: a.cfg.VRFSubscriptionID,
		OnStep:         collector.ObserveStep,
	})

	if lotteryOnly {
		return orch.DeployLottery(ctx)
	}
	return orch.Run(ctx)
}

func (a *app) buildReport(
	ctx context.Context,
	repo journal.Repository,
	recorder *journal.Recorder,
	command string,
	chainID *big.Int,
	sys *orchestrator.System,
	runErr error,
) *Report {
	report := &Report{
		RunID:   recorder.RunID().String(),
		Command: command,
		Status:  journal.StatusCompleted,
		ChainID: chainID.Uint64(),
		Network: preflight.NetworkName(chainID.Uint64()),
		VRF: VRFReport{
			KeyHash:          a.cfg.VRFKeyHash,
			CallbackGasLimit: a.cfg.CallbackGasLimit,
		},
		Units: []UnitReport{},
	}
	if runErr != nil {
		report.Status = journal.StatusFailed
		report.Error = runErr.Error()
	}

	if sys != nil {
		report.Deployer = sys.Deployer.Hex()
		report.Owner = sys.Owner.Hex()
		report.Steps = sys.Steps
		if sys.VRFCoordinator != (common.Address{}) {
			report.VRF.Coordinator = sys.VRFCoordinator.Hex()
		}
		if sys.MockVRF != nil {
			report.VRF.Mock = true
			report.VRF.SubscriptionID = sys.SubscriptionID
		}
		for _, h := range []unit.Handle{
			sys.MockVRF,
			sys.Token,
			sys.Libraries.Drawing,
			sys.Libraries.TicketIndex,
			sys.Libraries.UserTickets,
			sys.Lottery,
			sys.Controller,
			sys.Governor,
		} {
			if h != nil {
				report.Units = append(report.Units, unitReport(h))
			}
		}
		if sys.Controller != nil && sys.Roles.Admin.Name != "" {
			report.Roles = make(map[string]string, 4)
			for _, role := range sys.Roles.All() {
				text, _ := role.MarshalText()
				report.Roles[role.Name] = string(text)
			}
		}
	}

	txs, err := repo.ListTransactions(ctx, recorder.RunID())
	if err != nil {
		a.logger.Warn("list journal transactions", slog.String("error", err.Error()))
	}
	report.Transactions = txs
	if report.Transactions == nil {
		report.Transactions = []journal.Transaction{}
	}
	return report
}

func unitReport(h unit.Handle) UnitReport {
	r := UnitReport{Name: h.Name(), Address: h.Address().Hex()}
	if tx := h.DeployTx(); tx != nil {
		r.TxHash = tx.Hash().Hex()
	}
	if p, ok := h.(interface{ Implementation() common.Address }); ok && p.Implementation() != (common.Address{}) {
		r.Implementation = p.Implementation().Hex()
	}
	return r
}
