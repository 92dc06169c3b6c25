package unit

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/exalotto/deployer/internal/txn"
)

// Handle is a deployed unit.
type Handle interface {
	Name() string
	Address() common.Address
	DeployTx() *types.Transaction
	Call(ctx context.Context, method string, args ...any) ([]any, error)
	Invoke(ctx context.Context, inv Invocation) (*txn.Result, error)
}

// Invocation is a state changing method call.
type Invocation struct {
	Method string
	Args   []any
	// Value is paid along with the call when set
	Value *big.Int
	// Once disables retries
	Once bool
	// Applied reports whether the call already took effect; consulted
	// before resubmissions
	Applied func(ctx context.Context) (bool, error)
}

// Unit is a handle bound to a contract address.
type Unit struct {
	name           string
	address        common.Address
	implementation common.Address
	deployTx       *types.Transaction
	abi            abi.ABI
	contract       *bind.BoundContract
	submitter      *txn.Submitter
}

// Name returns the artifact name of the unit.
func (u *Unit) Name() string { return u.name }

// Address returns the unit's address (the proxy for proxied units).
func (u *Unit) Address() common.Address { return u.address }

// Implementation returns the implementation address of a proxied unit.
func (u *Unit) Implementation() common.Address { return u.implementation }

// DeployTx returns the deployment transaction, nil for attached units.
func (u *Unit) DeployTx() *types.Transaction { return u.deployTx }

// Deployed summarizes the unit.
func (u *Unit) Deployed() Deployed {
	d := Deployed{
		Name:           u.name,
		Address:        u.address,
		Implementation: u.implementation,
	}
	if u.deployTx != nil {
		d.TxHash = u.deployTx.Hash()
	}
	return d
}

// Call performs a read-only call.
func (u *Unit) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	if _, ok := u.abi.Methods[method]; !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, u.name, method)
	}
	var out []any
	if err := u.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", u.name, method, err)
	}
	return out, nil
}

// Invoke sends a state changing call through the submitter.
func (u *Unit) Invoke(ctx context.Context, inv Invocation) (*txn.Result, error) {
	if _, ok := u.abi.Methods[inv.Method]; !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, u.name, inv.Method)
	}
	if _, err := u.abi.Pack(inv.Method, inv.Args...); err != nil {
		return nil, fmt.Errorf("pack %s.%s: %w", u.name, inv.Method, err)
	}

	action := txn.Action{
		Name:    u.name + "." + inv.Method,
		Applied: inv.Applied,
		Send: func(_ context.Context, opts *bind.TransactOpts) (*types.Transaction, error) {
			if inv.Value != nil {
				opts.Value = new(big.Int).Set(inv.Value)
			}
			return u.contract.Transact(opts, inv.Method, inv.Args...)
		},
	}
	if inv.Once {
		return u.submitter.SubmitOnce(ctx, action)
	}
	return u.submitter.Submit(ctx, action)
}

// Send invokes method with retries.
func (u *Unit) Send(ctx context.Context, method string, args ...any) (*txn.Result, error) {
	return u.Invoke(ctx, Invocation{Method: method, Args: args})
}

// SendOnce invokes method without retries.
func (u *Unit) SendOnce(ctx context.Context, method string, args ...any) (*txn.Result, error) {
	return u.Invoke(ctx, Invocation{Method: method, Args: args, Once: true})
}

// SendValue invokes a payable method with retries.
func (u *Unit) SendValue(ctx context.Context, value *big.Int, method string, args ...any) (*txn.Result, error) {
	return u.Invoke(ctx, Invocation{Method: method, Args: args, Value: value})
}
