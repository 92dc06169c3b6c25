package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/exalotto/deployer/internal/unit"
)

func (o *Orchestrator) stepInit(_ context.Context, r *run) (bool, error) {
	r.owner = o.config.Owner
	if r.owner == (common.Address{}) {
		r.owner = r.deployer
	}
	if !o.config.MockVRF && o.config.VRFCoordinator == (common.Address{}) {
		return false, ErrMissingCoordinator
	}
	r.coordinator = o.config.VRFCoordinator

	o.logger.Info("deployer initialized",
		slog.String("deployer", r.deployer.Hex()),
		slog.String("owner", r.owner.Hex()),
	)
	return false, nil
}

func (o *Orchestrator) stepVRFCoordinator(ctx context.Context, r *run) (bool, error) {
	if !o.config.MockVRF {
		return true, nil
	}

	mock, err := o.units.DeployPlain(ctx, unit.Spec{Name: ArtifactMockVRF})
	if err != nil {
		return false, err
	}
	r.mockVRF = mock
	r.coordinator = mock.Address()

	// a resubmitted createSubscription would open a second subscription
	if _, err := mock.Invoke(ctx, unit.Invocation{Method: "createSubscription", Once: true}); err != nil {
		return false, fmt.Errorf("create subscription: %w", err)
	}
	r.subscriptionID = o.config.SubscriptionID
	o.logger.Info("mock coordinator ready",
		slog.String("address", mock.Address().Hex()),
		slog.Uint64("subscription_id", o.config.SubscriptionID),
	)
	return false, nil
}

func (o *Orchestrator) stepToken(ctx context.Context, r *run) (bool, error) {
	token, err := o.units.DeployPlain(ctx, unit.Spec{Name: ArtifactToken})
	if err != nil {
		return false, err
	}
	r.token = token
	return false, nil
}

// stepTokenTransfer moves the entire supply from the deployer to the owner.
func (o *Orchestrator) stepTokenTransfer(ctx context.Context, r *run) (bool, error) {
	if r.deployer == r.owner {
		return true, nil
	}

	supply, err := unit.CallBigInt(ctx, r.token, "totalSupply")
	if err != nil {
		return false, err
	}

	res, err := r.token.Invoke(ctx, unit.Invocation{
		Method: "transfer",
		Args:   []any{r.owner, supply},
		Applied: func(ctx context.Context) (bool, error) {
			balance, err := unit.CallBigInt(ctx, r.token, "balanceOf", r.owner)
			if err != nil {
				return false, err
			}
			return balance.Cmp(supply) >= 0, nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("transfer supply: %w", err)
	}

	o.logger.Info("token supply transferred",
		slog.String("owner", r.owner.Hex()),
		slog.String("amount", supply.String()),
		slog.String("tx_hash", res.TxHash().Hex()),
	)
	return false, nil
}

func (o *Orchestrator) stepLibraries(ctx context.Context, r *run) (bool, error) {
	for _, lib := range []struct {
		name   string
		handle *unit.Handle
	}{
		{ArtifactDrawing, &r.libraries.Drawing},
		{ArtifactTicketIndex, &r.libraries.TicketIndex},
		{ArtifactUserTickets, &r.libraries.UserTickets},
	} {
		h, err := o.units.DeployPlain(ctx, unit.Spec{Name: lib.name})
		if err != nil {
			return false, err
		}
		*lib.handle = h
	}
	return false, nil
}

func (o *Orchestrator) stepLottery(ctx context.Context, r *run) (bool, error) {
	lottery, err := o.units.DeployBehindProxy(ctx, unit.Spec{
		Name:      ArtifactLottery,
		Args:      []any{r.coordinator},
		Libraries: r.libraries.Addresses(),
	}, unit.ProxyOptions{AllowLinkedLibraries: true})
	if err != nil {
		return false, err
	}
	r.lottery = lottery
	return false, nil
}

func (o *Orchestrator) stepVRFConsumer(ctx context.Context, r *run) (bool, error) {
	if r.mockVRF == nil {
		return true, nil
	}
	if _, err := r.mockVRF.Invoke(ctx, unit.Invocation{
		Method: "addConsumer",
		Args:   []any{o.config.SubscriptionID, r.lottery.Address()},
	}); err != nil {
		return false, fmt.Errorf("add consumer: %w", err)
	}
	return false, nil
}

func (o *Orchestrator) stepController(ctx context.Context, r *run) (bool, error) {
	owners := []common.Address{r.owner}
	controller, err := o.units.DeployPlain(ctx, unit.Spec{
		Name: ArtifactController,
		Args: []any{r.token.Address(), r.lottery.Address(), owners, owners},
	})
	if err != nil {
		return false, err
	}
	r.controller = controller

	roles, err := readRoles(ctx, controller)
	if err != nil {
		return false, err
	}
	r.roles = roles
	return false, nil
}

func (o *Orchestrator) stepLotteryOwnership(ctx context.Context, r *run) (bool, error) {
	controller := r.controller.Address()
	res, err := r.lottery.Invoke(ctx, unit.Invocation{
		Method: "transferOwnership",
		Args:   []any{controller},
		Applied: func(ctx context.Context) (bool, error) {
			owner, err := unit.CallAddress(ctx, r.lottery, "owner")
			if err != nil {
				return false, err
			}
			return owner == controller, nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("transfer lottery ownership: %w", err)
	}

	o.logger.Info("lottery ownership transferred",
		slog.String("controller", controller.Hex()),
		slog.String("tx_hash", res.TxHash().Hex()),
	)
	return false, nil
}

func (o *Orchestrator) stepOwnerAdminGrant(ctx context.Context, r *run) (bool, error) {
	return false, o.grant(ctx, r, r.roles.Admin, r.owner)
}

// stepOperationalRenounce drops the deployer's operational roles once the
// owner holds the admin role.
func (o *Orchestrator) stepOperationalRenounce(ctx context.Context, r *run) (bool, error) {
	if r.deployer == r.owner {
		return true, nil
	}
	if err := requireRoles(ctx, r.controller, r.owner, r.roles.Admin); err != nil {
		return false, err
	}
	for _, role := range r.roles.Operational() {
		if err := o.renounce(ctx, r, role); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (o *Orchestrator) stepGovernor(ctx context.Context, r *run) (bool, error) {
	governor, err := o.units.DeployPlain(ctx, unit.Spec{
		Name: ArtifactGovernor,
		Args: []any{r.token.Address(), r.controller.Address()},
	})
	if err != nil {
		return false, err
	}
	r.governor = governor
	return false, nil
}

func (o *Orchestrator) stepGovernorRoleGrants(ctx context.Context, r *run) (bool, error) {
	for _, role := range r.roles.All() {
		if err := o.grant(ctx, r, role, r.governor.Address()); err != nil {
			return false, err
		}
	}
	return false, nil
}

// stepAdminRenounce drops the deployer's admin role. The owner must hold
// admin and the governor every role, otherwise the controller could end
// up without a proposer or executor.
func (o *Orchestrator) stepAdminRenounce(ctx context.Context, r *run) (bool, error) {
	if r.deployer == r.owner {
		return true, nil
	}
	if err := requireRoles(ctx, r.controller, r.owner, r.roles.Admin); err != nil {
		return false, err
	}
	if err := requireRoles(ctx, r.controller, r.governor.Address(), r.roles.All()...); err != nil {
		return false, err
	}
	return false, o.renounce(ctx, r, r.roles.Admin)
}

func (o *Orchestrator) grant(ctx context.Context, r *run, role Role, account common.Address) error {
	res, err := r.controller.Invoke(ctx, unit.Invocation{
		Method: "grantRole",
		Args:   []any{role.ID, account},
		Applied: func(ctx context.Context) (bool, error) {
			return hasRole(ctx, r.controller, role, account)
		},
	})
	if err != nil {
		return fmt.Errorf("grant %s to %s: %w", role, account.Hex(), err)
	}

	o.logger.Info("role granted",
		slog.String("role", role.Name),
		slog.String("account", account.Hex()),
		slog.String("tx_hash", res.TxHash().Hex()),
	)
	return nil
}

// renounce drops one of the deployer's own roles.
func (o *Orchestrator) renounce(ctx context.Context, r *run, role Role) error {
	res, err := r.controller.Invoke(ctx, unit.Invocation{
		Method: "renounceRole",
		Args:   []any{role.ID, r.deployer},
		Applied: func(ctx context.Context) (bool, error) {
			held, err := hasRole(ctx, r.controller, role, r.deployer)
			return !held, err
		},
	})
	if err != nil {
		return fmt.Errorf("renounce %s: %w", role, err)
	}

	o.logger.Info("role renounced",
		slog.String("role", role.Name),
		slog.String("account", r.deployer.Hex()),
		slog.String("tx_hash", res.TxHash().Hex()),
	)
	return nil
}
