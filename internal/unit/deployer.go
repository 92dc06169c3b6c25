// Package unit deploys contract units, optionally behind an upgradeable
// proxy, and provides handles for calling and transacting with them.
package unit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/exalotto/deployer/internal/artifact"
	"github.com/exalotto/deployer/internal/txn"
)

const (
	// DefaultProxyArtifact is the proxy contract placed in front of
	// upgradeable implementations.
	DefaultProxyArtifact = "ERC1967Proxy"
	// DefaultInitializer is the initializer invoked through the proxy.
	DefaultInitializer = "initialize"
)

var (
	// ErrUnsafeLinkedLibraries is returned when an upgradeable implementation
	// links external libraries without explicit permission.
	ErrUnsafeLinkedLibraries = errors.New("unit: implementation links libraries, not allowed behind proxy")
	// ErrUnknownMethod is returned for methods missing from the unit's ABI.
	ErrUnknownMethod = errors.New("unit: unknown method")
	// ErrUnexpectedResult is returned when a call result has the wrong shape.
	ErrUnexpectedResult = errors.New("unit: unexpected call result")
	// ErrNoContractAddress is returned when a deployment receipt carries no
	// contract address.
	ErrNoContractAddress = errors.New("unit: receipt has no contract address")
)

// Resolver looks up compiled artifacts by name.
type Resolver interface {
	Get(name string) (*artifact.Artifact, error)
}

// Spec describes a unit to deploy.
type Spec struct {
	Name      string
	Args      []any
	Libraries map[string]common.Address
}

// ProxyOptions control proxied deployments.
type ProxyOptions struct {
	// AllowLinkedLibraries permits implementations that link external
	// libraries. Library code is not covered by the proxy's upgrade path.
	AllowLinkedLibraries bool

	// Initializer is the method called through the proxy with Spec.Args.
	Initializer string

	// ProxyArtifact names the proxy contract artifact.
	ProxyArtifact string
}

// Deployed describes a unit that reached the chain.
type Deployed struct {
	Name           string
	Address        common.Address
	Implementation common.Address
	TxHash         common.Hash
}

// Proxied reports whether the unit sits behind a proxy.
func (d Deployed) Proxied() bool {
	return d.Implementation != (common.Address{})
}

// Observer is notified of every deployed unit.
type Observer interface {
	UnitDeployed(ctx context.Context, d Deployed)
}

// Config contains configuration for the deployer.
type Config struct {
	Logger    *slog.Logger
	Observers []Observer
}

// Deployer creates units through a transaction submitter.
type Deployer struct {
	artifacts Resolver
	backend   bind.ContractBackend
	submitter *txn.Submitter
	config    Config
	logger    *slog.Logger
}

// NewDeployer creates a unit deployer.
func NewDeployer(artifacts Resolver, backend bind.ContractBackend, submitter *txn.Submitter, config Config) *Deployer {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{
		artifacts: artifacts,
		backend:   backend,
		submitter: submitter,
		config:    config,
		logger:    logger,
	}
}

// DeployPlain deploys spec directly, linking its libraries. Link and
// argument errors are returned before anything is sent.
func (d *Deployer) DeployPlain(ctx context.Context, spec Spec) (Handle, error) {
	art, err := d.resolve(spec.Name)
	if err != nil {
		return nil, err
	}
	code, err := art.Link(spec.Libraries)
	if err != nil {
		return nil, err
	}

	res, err := d.deployCode(ctx, "deploy "+spec.Name, art, code, spec.Args)
	if err != nil {
		return nil, err
	}

	u := d.newUnit(spec.Name, res.Receipt.ContractAddress, art.ABI, res.Tx)
	d.deployed(ctx, u)
	return u, nil
}

// DeployBehindProxy deploys the implementation of spec, then a proxy that
// delegates to it and runs the initializer with spec.Args. The returned
// handle addresses the proxy with the implementation's ABI.
func (d *Deployer) DeployBehindProxy(ctx context.Context, spec Spec, opts ProxyOptions) (Handle, error) {
	if opts.Initializer == "" {
		opts.Initializer = DefaultInitializer
	}
	if opts.ProxyArtifact == "" {
		opts.ProxyArtifact = DefaultProxyArtifact
	}

	art, err := d.resolve(spec.Name)
	if err != nil {
		return nil, err
	}
	if art.NeedsLinking() && !opts.AllowLinkedLibraries {
		return nil, fmt.Errorf("%w: %s links %v", ErrUnsafeLinkedLibraries, spec.Name, art.Libraries())
	}

	implCode, err := art.Link(spec.Libraries)
	if err != nil {
		return nil, err
	}
	initData, err := encodeInitializer(art.ABI, opts.Initializer, spec.Args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Name, err)
	}

	proxyArt, err := d.resolve(opts.ProxyArtifact)
	if err != nil {
		return nil, err
	}
	proxyCode, err := proxyArt.Link(nil)
	if err != nil {
		return nil, err
	}

	implRes, err := d.deployCode(ctx, "deploy "+spec.Name+" implementation", art, implCode, nil)
	if err != nil {
		return nil, err
	}
	impl := implRes.Receipt.ContractAddress

	d.logger.Info("implementation deployed",
		slog.String("name", spec.Name),
		slog.String("address", impl.Hex()),
		slog.String("tx_hash", implRes.Tx.Hash().Hex()),
	)

	proxyRes, err := d.deployCode(ctx, "deploy "+spec.Name+" proxy", proxyArt, proxyCode, []any{impl, initData})
	if err != nil {
		return nil, err
	}

	u := d.newUnit(spec.Name, proxyRes.Receipt.ContractAddress, art.ABI, proxyRes.Tx)
	u.implementation = impl
	d.deployed(ctx, u)
	return u, nil
}

// Attach binds a handle to an already deployed unit.
func (d *Deployer) Attach(name string, address common.Address) (Handle, error) {
	art, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	return d.newUnit(name, address, art.ABI, nil), nil
}

func (d *Deployer) resolve(name string) (*artifact.Artifact, error) {
	art, err := d.artifacts.Get(name)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", name, err)
	}
	return art, nil
}

// deployCode submits a contract creation with linked code and constructor
// arguments.
func (d *Deployer) deployCode(ctx context.Context, action string, art *artifact.Artifact, code []byte, args []any) (*txn.Result, error) {
	if _, err := art.ABI.Pack("", args...); err != nil {
		return nil, fmt.Errorf("pack constructor arguments of %s: %w", art.Name, err)
	}

	res, err := d.submitter.Submit(ctx, txn.Action{
		Name: action,
		Send: func(_ context.Context, opts *bind.TransactOpts) (*types.Transaction, error) {
			_, tx, _, err := bind.DeployContract(opts, art.ABI, code, d.backend, args...)
			return tx, err
		},
	})
	if err != nil {
		return nil, err
	}
	if res.Receipt.ContractAddress == (common.Address{}) {
		return nil, fmt.Errorf("%w: %s", ErrNoContractAddress, res.Tx.Hash().Hex())
	}
	return res, nil
}

func (d *Deployer) newUnit(name string, address common.Address, contractABI abi.ABI, tx *types.Transaction) *Unit {
	return &Unit{
		name:      name,
		address:   address,
		deployTx:  tx,
		abi:       contractABI,
		contract:  bind.NewBoundContract(address, contractABI, d.backend, d.backend, d.backend),
		submitter: d.submitter,
	}
}

func (d *Deployer) deployed(ctx context.Context, u *Unit) {
	d.logger.Info("contract deployed",
		slog.String("name", u.name),
		slog.String("address", u.address.Hex()),
		slog.String("tx_hash", u.deployTx.Hash().Hex()),
	)
	info := u.Deployed()
	for _, o := range d.config.Observers {
		o.UnitDeployed(ctx, info)
	}
}

// encodeInitializer packs the initializer call. A contract without the
// initializer may be proxied only when no arguments are given.
func encodeInitializer(contractABI abi.ABI, initializer string, args []any) ([]byte, error) {
	if _, ok := contractABI.Methods[initializer]; !ok {
		if len(args) == 0 {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("%w: initializer %s", ErrUnknownMethod, initializer)
	}
	data, err := contractABI.Pack(initializer, args...)
	if err != nil {
		return nil, fmt.Errorf("pack initializer %s: %w", initializer, err)
	}
	return data, nil
}
