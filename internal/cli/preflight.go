package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/exalotto/deployer/internal/orchestrator"
	"github.com/exalotto/deployer/internal/preflight"
	"github.com/exalotto/deployer/internal/unit"
)

// ErrPreflightFailed is returned when at least one check did not pass.
var ErrPreflightFailed = errors.New("preflight checks failed")

// requiredArtifacts lists the artifacts a full deployment needs.
var requiredArtifacts = []string{
	orchestrator.ArtifactToken,
	orchestrator.ArtifactDrawing,
	orchestrator.ArtifactTicketIndex,
	orchestrator.ArtifactUserTickets,
	orchestrator.ArtifactLottery,
	orchestrator.ArtifactController,
	orchestrator.ArtifactGovernor,
	unit.DefaultProxyArtifact,
}

func (a *app) preflightCmd() *cobra.Command {
	var minBalance string
	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check the network, the deployer and the artifacts before deploying",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			signers, release, err := a.loadSigners(ctx)
			if err != nil {
				return err
			}
			defer release()
			deployer, err := signers.Deployer()
			if err != nil {
				return err
			}

			req := &preflight.Request{
				RPCURL:         a.cfg.RPCURL,
				ChainID:        a.cfg.ChainID,
				Deployer:       deployer.Address(),
				VRFCoordinator: a.cfg.CoordinatorAddress(),
			}
			if minBalance != "" {
				wei, ok := new(big.Int).SetString(minBalance, 10)
				if !ok {
					return errors.New("min-balance must be an integer amount of wei")
				}
				req.MinBalance = wei
			}

			if store, err := a.loadArtifacts(ctx); err != nil {
				a.logger.Warn("artifacts unavailable", slog.String("error", err.Error()))
			} else {
				req.Artifacts = store
				req.RequiredArtifacts = requiredArtifacts
			}

			resp, err := preflight.NewChecker(a.dialer).RunChecks(ctx, req)
			if err != nil {
				return err
			}
			if a.output == OutputTable {
				a.printChecks(resp)
			} else if err := a.print(resp); err != nil {
				return err
			}
			if !resp.OK {
				return ErrPreflightFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&minBalance, "min-balance", "", "required deployer balance in wei (default depends on the network)")
	return cmd
}

func (a *app) printChecks(resp *preflight.Response) {
	w := newTable(a.stdout)
	printTableHeader(w, "CHECK", "RESULT", "MESSAGE")
	for _, c := range resp.Checks {
		result := "ok"
		if !c.Passed {
			result = "FAIL"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, result, c.Message)
	}
	_ = w.Flush()
}
