// Package preflight provides pre-deployment validation checks.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/exalotto/deployer/internal/artifact"
	"github.com/exalotto/deployer/internal/chain"
)

// DefaultTimeout is the default timeout for RPC calls.
const DefaultTimeout = 10 * time.Second

// CheckName identifies a specific pre-flight check.
type CheckName string

const (
	// CheckRPCReachable verifies the RPC endpoint is reachable.
	CheckRPCReachable CheckName = "rpc_reachable"
	// CheckChainIDMatch verifies the chain ID matches the expected value.
	CheckChainIDMatch CheckName = "chain_id_match"
	// CheckDeployerBalance verifies the deployer has sufficient funds.
	CheckDeployerBalance CheckName = "deployer_balance"
	// CheckCoordinatorCode verifies the randomness coordinator is a contract.
	CheckCoordinatorCode CheckName = "vrf_coordinator_code"
	// CheckArtifacts verifies every required artifact is available.
	CheckArtifacts CheckName = "artifacts"
)

// CheckResult represents the result of a single pre-flight check.
type CheckResult struct {
	Name    CheckName      `json:"name" yaml:"name"`
	Passed  bool           `json:"passed" yaml:"passed"`
	Message string         `json:"message" yaml:"message"`
	Details map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// ArtifactSource resolves artifacts by name.
type ArtifactSource interface {
	Get(name string) (*artifact.Artifact, error)
}

// Request contains the parameters for pre-flight checks.
type Request struct {
	RPCURL   string
	ChainID  uint64
	Deployer common.Address

	// VRFCoordinator is checked for deployed code when set
	VRFCoordinator common.Address

	// MinBalance overrides the network default funding requirement
	MinBalance *big.Int

	// Artifacts and RequiredArtifacts enable the artifact check
	Artifacts         ArtifactSource
	RequiredArtifacts []string
}

// Response contains the results of all pre-flight checks.
type Response struct {
	OK                 bool          `json:"ok" yaml:"ok"`
	Network            string        `json:"network,omitempty" yaml:"network,omitempty"`
	Checks             []CheckResult `json:"checks" yaml:"checks"`
	Deployer           string        `json:"deployer" yaml:"deployer"`
	RequiredFundingETH string        `json:"required_funding_eth" yaml:"required_funding_eth"`
	CurrentBalanceETH  string        `json:"current_balance_eth,omitempty" yaml:"current_balance_eth,omitempty"`
}

// Checker performs pre-flight validation checks.
type Checker struct {
	dialer  chain.Dialer
	timeout time.Duration
}

// NewChecker creates a new pre-flight checker.
func NewChecker(dialer chain.Dialer) *Checker {
	if dialer == nil {
		dialer = chain.NewEthDialer()
	}
	return &Checker{
		dialer:  dialer,
		timeout: DefaultTimeout,
	}
}

// WithTimeout sets a custom timeout for RPC calls.
func (c *Checker) WithTimeout(timeout time.Duration) *Checker {
	c.timeout = timeout
	return c
}

// RunChecks performs all pre-flight checks and returns the results.
func (c *Checker) RunChecks(ctx context.Context, req *Request) (*Response, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	rpcCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	response := &Response{
		OK:       true,
		Checks:   make([]CheckResult, 0, 5),
		Deployer: req.Deployer.Hex(),
	}

	if req.Artifacts != nil && len(req.RequiredArtifacts) > 0 {
		c.add(response, c.checkArtifacts(req.Artifacts, req.RequiredArtifacts))
	}

	client, reachable := c.checkRPCReachable(rpcCtx, req.RPCURL)
	c.add(response, reachable)
	if !reachable.Passed {
		return response, nil
	}
	defer client.Close()

	chainIDResult, chainID := c.checkChainIDMatch(rpcCtx, client, req.ChainID)
	c.add(response, chainIDResult)
	if chainID != 0 {
		response.Network = NetworkName(chainID)
	}

	requiredWei := req.MinBalance
	if requiredWei == nil {
		requiredWei = requiredFunding(chainID)
	}
	response.RequiredFundingETH = weiToETHString(requiredWei)

	balance := c.checkDeployerBalance(rpcCtx, client, req.Deployer, requiredWei)
	c.add(response, balance)
	if haveETH, ok := balance.Details["have_eth"].(string); ok {
		response.CurrentBalanceETH = haveETH
	}

	if req.VRFCoordinator != (common.Address{}) {
		c.add(response, c.checkCoordinatorCode(rpcCtx, client, req.VRFCoordinator))
	}

	return response, nil
}

func (c *Checker) add(response *Response, result CheckResult) {
	response.Checks = append(response.Checks, result)
	if !result.Passed {
		response.OK = false
	}
}

func (c *Checker) validateRequest(req *Request) error {
	if req == nil {
		return errors.New("request is required")
	}
	if req.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if req.Deployer == (common.Address{}) {
		return errors.New("deployer is required")
	}
	return nil
}

func (c *Checker) checkRPCReachable(ctx context.Context, rpcURL string) (chain.Client, CheckResult) {
	result := CheckResult{Name: CheckRPCReachable}

	client, err := c.dialer.Dial(ctx, rpcURL)
	if err != nil {
		result.Message = fmt.Sprintf("Failed to connect to RPC: %v", err)
		result.Details = map[string]any{"error": err.Error()}
		return nil, result
	}

	if _, err := client.BlockNumber(ctx); err != nil {
		client.Close()
		result.Message = fmt.Sprintf("RPC connection failed: %v", err)
		result.Details = map[string]any{"error": err.Error()}
		return nil, result
	}

	result.Passed = true
	result.Message = "Connected to RPC successfully"
	return client, result
}

// checkChainIDMatch returns the node's chain id alongside the result, or 0
// when it could not be read.
func (c *Checker) checkChainIDMatch(ctx context.Context, client chain.Client, expected uint64) (CheckResult, uint64) {
	result := CheckResult{Name: CheckChainIDMatch}

	actual, err := chain.VerifyChainID(ctx, client, expected)
	if err != nil {
		result.Message = fmt.Sprintf("Chain ID check failed: %v", err)
		result.Details = map[string]any{"error": err.Error(), "expected": expected}
		if errors.Is(err, chain.ErrChainIDMismatch) {
			if id, idErr := client.ChainID(ctx); idErr == nil {
				result.Details["actual"] = id.Uint64()
				return result, id.Uint64()
			}
		}
		return result, 0
	}

	result.Passed = true
	if expected == 0 {
		result.Message = fmt.Sprintf("Chain ID %d reported by node", actual.Uint64())
	} else {
		result.Message = fmt.Sprintf("Chain ID %d confirmed", expected)
	}
	result.Details = map[string]any{"chain_id": actual.Uint64()}
	return result, actual.Uint64()
}

func (c *Checker) checkDeployerBalance(ctx context.Context, client chain.Client, deployer common.Address, requiredWei *big.Int) CheckResult {
	result := CheckResult{Name: CheckDeployerBalance}

	balance, err := client.BalanceAt(ctx, deployer, nil)
	if err != nil {
		result.Message = fmt.Sprintf("Failed to get deployer balance: %v", err)
		result.Details = map[string]any{"error": err.Error()}
		return result
	}

	haveETH := weiToETHString(balance)
	needETH := weiToETHString(requiredWei)
	result.Details = map[string]any{
		"have_wei": balance.String(),
		"need_wei": requiredWei.String(),
		"have_eth": haveETH,
		"need_eth": needETH,
	}

	if balance.Cmp(requiredWei) < 0 {
		result.Message = fmt.Sprintf("Insufficient deployer balance: have %s ETH, need %s ETH", haveETH, needETH)
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Deployer has sufficient balance: %s ETH", haveETH)
	return result
}

func (c *Checker) checkCoordinatorCode(ctx context.Context, client chain.Client, coordinator common.Address) CheckResult {
	result := CheckResult{
		Name:    CheckCoordinatorCode,
		Details: map[string]any{"address": coordinator.Hex()},
	}

	code, err := client.CodeAt(ctx, coordinator, nil)
	if err != nil {
		result.Message = fmt.Sprintf("Failed to read coordinator code: %v", err)
		result.Details["error"] = err.Error()
		return result
	}
	if len(code) == 0 {
		result.Message = fmt.Sprintf("No contract deployed at coordinator %s", coordinator.Hex())
		return result
	}

	result.Passed = true
	result.Message = "Coordinator contract found"
	result.Details["code_size"] = len(code)
	return result
}

func (c *Checker) checkArtifacts(source ArtifactSource, names []string) CheckResult {
	result := CheckResult{Name: CheckArtifacts}

	var missing []string
	for _, name := range names {
		a, err := source.Get(name)
		if err != nil || len(a.Bytecode) == 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		result.Message = fmt.Sprintf("%d of %d artifacts missing", len(missing), len(names))
		result.Details = map[string]any{"missing": missing}
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("All %d artifacts available", len(names))
	return result
}

// requiredFunding returns the default funding requirement for a network.
func requiredFunding(chainID uint64) *big.Int {
	switch chainID {
	case 1:
		// 2 ETH
		return new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18))
	default:
		// 0.5 ETH
		return big.NewInt(5e17)
	}
}

// weiToETHString converts wei to a human-readable ETH string.
func weiToETHString(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	weiFloat := new(big.Float).SetInt(wei)
	ethFloat := new(big.Float).Quo(weiFloat, big.NewFloat(1e18))
	return ethFloat.Text('f', 4)
}

// NetworkName returns a human-readable name for a chain ID.
func NetworkName(chainID uint64) string {
	switch chainID {
	case 1:
		return "Ethereum Mainnet"
	case 11155111:
		return "Sepolia"
	case 17000:
		return "Holesky"
	case 137:
		return "Polygon"
	case 80002:
		return "Polygon Amoy"
	case 1337:
		return "Simulated"
	case 31337:
		return "Hardhat"
	default:
		return fmt.Sprintf("Chain %d", chainID)
	}
}
