package orchestrator

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/exalotto/deployer/internal/unit"
)

// Role is an access control role of the controller.
type Role struct {
	Name string
	ID   [32]byte
}

func (r Role) String() string {
	return r.Name
}

// MarshalText renders the role id as hex.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(hexutil.Encode(r.ID[:])), nil
}

// Roles are the four controller roles, read from the controller itself.
type Roles struct {
	Admin     Role
	Proposer  Role
	Executor  Role
	Canceller Role
}

// All returns every role, admin first.
func (r Roles) All() []Role {
	return []Role{r.Admin, r.Proposer, r.Executor, r.Canceller}
}

// Operational returns the proposer, executor and canceller roles.
func (r Roles) Operational() []Role {
	return []Role{r.Proposer, r.Executor, r.Canceller}
}

const (
	roleAdmin     = "TIMELOCK_ADMIN_ROLE"
	roleProposer  = "PROPOSER_ROLE"
	roleExecutor  = "EXECUTOR_ROLE"
	roleCanceller = "CANCELLER_ROLE"
)

func readRoles(ctx context.Context, controller unit.Handle) (Roles, error) {
	var roles Roles
	for _, target := range []struct {
		getter string
		role   *Role
	}{
		{roleAdmin, &roles.Admin},
		{roleProposer, &roles.Proposer},
		{roleExecutor, &roles.Executor},
		{roleCanceller, &roles.Canceller},
	} {
		id, err := unit.CallBytes32(ctx, controller, target.getter)
		if err != nil {
			return Roles{}, fmt.Errorf("read %s: %w", target.getter, err)
		}
		*target.role = Role{Name: target.getter, ID: id}
	}
	return roles, nil
}

func hasRole(ctx context.Context, controller unit.Handle, role Role, account common.Address) (bool, error) {
	return unit.CallBool(ctx, controller, "hasRole", role.ID, account)
}

// requireRoles fails with ErrHandoffPrecondition unless account holds every
// given role.
func requireRoles(ctx context.Context, controller unit.Handle, account common.Address, roles ...Role) error {
	for _, role := range roles {
		ok, err := hasRole(ctx, controller, role, account)
		if err != nil {
			return fmt.Errorf("check %s of %s: %w", role, account.Hex(), err)
		}
		if !ok {
			return fmt.Errorf("%w: %s does not hold %s", ErrHandoffPrecondition, account.Hex(), role)
		}
	}
	return nil
}
