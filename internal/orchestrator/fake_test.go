package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/exalotto/deployer/internal/txn"
	"github.com/exalotto/deployer/internal/unit"
)

var (
	deployerAddr = common.HexToAddress("0x00000000000000000000000000000000000000de")
	ownerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	vrfAddr      = common.HexToAddress("0x00000000000000000000000000000000000000f0")

	tokenSupply = new(big.Int).Mul(big.NewInt(1_000_000_000), big.NewInt(1e18))
)

func roleID(name string) [32]byte {
	return crypto.Keccak256Hash([]byte(name))
}

var roleNames = map[[32]byte]string{
	roleID(roleAdmin):     roleAdmin,
	roleID(roleProposer):  roleProposer,
	roleID(roleExecutor):  roleExecutor,
	roleID(roleCanceller): roleCanceller,
}

// fakeChain models the contracts' role and ownership rules in memory. Every
// transaction is sent by the deployer.
type fakeChain struct {
	mu sync.Mutex

	deployer common.Address
	labels   map[common.Address]string
	next     int64

	txs    []string
	failOn map[string]error
	// dropGrant makes matching grants succeed without effect
	dropGrant func(label string) bool

	balances     map[common.Address]*big.Int
	lotteryOwner common.Address
	roles        map[[32]byte]map[common.Address]bool
	consumers    []common.Address
	// consumerSubs holds the subscription id of each addConsumer call
	consumerSubs []uint64
	// once records which invocations disabled retries
	once map[string]bool

	specs     map[string]unit.Spec
	proxyOpts map[string]unit.ProxyOptions
	// appliedAfter records, per invocation with an idempotency check,
	// whether the check reported the effect once it was applied
	appliedAfter map[string]bool
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		deployer: deployerAddr,
		labels: map[common.Address]string{
			deployerAddr: "deployer",
			ownerAddr:    "owner",
		},
		failOn:       make(map[string]error),
		balances:     make(map[common.Address]*big.Int),
		roles:        make(map[[32]byte]map[common.Address]bool),
		specs:        make(map[string]unit.Spec),
		proxyOpts:    make(map[string]unit.ProxyOptions),
		appliedAfter: make(map[string]bool),
		once:         make(map[string]bool),
	}
}

var errInjected = errors.New("injected failure")

func (c *fakeChain) label(addr common.Address) string {
	if l, ok := c.labels[addr]; ok {
		return l
	}
	return addr.Hex()
}

func (c *fakeChain) DeployPlain(_ context.Context, spec unit.Spec) (unit.Handle, error) {
	return c.deploy(spec)
}

func (c *fakeChain) DeployBehindProxy(_ context.Context, spec unit.Spec, opts unit.ProxyOptions) (unit.Handle, error) {
	c.mu.Lock()
	c.proxyOpts[spec.Name] = opts
	c.mu.Unlock()
	return c.deploy(spec)
}

func (c *fakeChain) deploy(spec unit.Spec) (unit.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := "deploy " + spec.Name
	if err := c.failOn[entry]; err != nil {
		return nil, err
	}
	c.txs = append(c.txs, entry)
	c.specs[spec.Name] = spec

	c.next++
	addr := common.BigToAddress(big.NewInt(0x1000 + c.next))
	c.labels[addr] = spec.Name

	switch spec.Name {
	case ArtifactToken:
		c.balances[c.deployer] = new(big.Int).Set(tokenSupply)
	case ArtifactLottery:
		c.lotteryOwner = c.deployer
	case ArtifactController:
		for id := range roleNames {
			c.roles[id] = map[common.Address]bool{c.deployer: true}
		}
	}

	return &fakeHandle{chain: c, name: spec.Name, addr: addr}, nil
}

func (c *fakeChain) call(h *fakeHandle, method string, args []any) ([]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch h.name + "." + method {
	case ArtifactToken + ".totalSupply":
		return []any{new(big.Int).Set(tokenSupply)}, nil
	case ArtifactToken + ".balanceOf":
		if b, ok := c.balances[args[0].(common.Address)]; ok {
			return []any{new(big.Int).Set(b)}, nil
		}
		return []any{new(big.Int)}, nil
	case ArtifactLottery + ".owner":
		return []any{c.lotteryOwner}, nil
	case ArtifactController + "." + roleAdmin,
		ArtifactController + "." + roleProposer,
		ArtifactController + "." + roleExecutor,
		ArtifactController + "." + roleCanceller:
		return []any{roleID(method)}, nil
	case ArtifactController + ".hasRole":
		return []any{c.roles[args[0].([32]byte)][args[1].(common.Address)]}, nil
	}
	return nil, fmt.Errorf("%w: %s.%s", unit.ErrUnknownMethod, h.name, method)
}

func (c *fakeChain) invoke(ctx context.Context, h *fakeHandle, inv unit.Invocation) (*txn.Result, error) {
	entry, err := c.apply(h, inv)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.once[entry] = inv.Once
	c.mu.Unlock()

	if inv.Applied != nil {
		applied, err := inv.Applied(ctx)
		c.mu.Lock()
		c.appliedAfter[fmt.Sprintf("%d %s", len(c.txs), entry)] = applied && err == nil
		c.mu.Unlock()
	}

	c.mu.Lock()
	nonce := uint64(len(c.txs))
	c.mu.Unlock()
	tx := types.NewTx(&types.LegacyTx{Nonce: nonce, Data: []byte(entry)})
	return &txn.Result{Tx: tx, Receipt: &types.Receipt{TxHash: tx.Hash()}, Attempts: 1}, nil
}

func (c *fakeChain) apply(h *fakeHandle, inv unit.Invocation) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := h.name + "." + inv.Method
	switch inv.Method {
	case "grantRole", "renounceRole":
		entry = fmt.Sprintf("%s(%s, %s)", entry, roleNames[inv.Args[0].([32]byte)], c.label(inv.Args[1].(common.Address)))
	}
	if err := c.failOn[entry]; err != nil {
		return "", err
	}

	switch h.name + "." + inv.Method {
	case ArtifactToken + ".transfer":
		to, amount := inv.Args[0].(common.Address), inv.Args[1].(*big.Int)
		from := c.balances[c.deployer]
		if from == nil || from.Cmp(amount) < 0 {
			return "", errors.New("ERC20: transfer amount exceeds balance")
		}
		from.Sub(from, amount)
		if c.balances[to] == nil {
			c.balances[to] = new(big.Int)
		}
		c.balances[to].Add(c.balances[to], amount)
	case ArtifactLottery + ".transferOwnership":
		if c.lotteryOwner != c.deployer {
			return "", errors.New("Ownable: caller is not the owner")
		}
		c.lotteryOwner = inv.Args[0].(common.Address)
	case ArtifactController + ".grantRole":
		if !c.roles[roleID(roleAdmin)][c.deployer] {
			return "", errors.New("AccessControl: missing admin role")
		}
		role, account := inv.Args[0].([32]byte), inv.Args[1].(common.Address)
		if c.dropGrant == nil || !c.dropGrant(c.label(account)) {
			c.roles[role][account] = true
		}
	case ArtifactController + ".renounceRole":
		role, account := inv.Args[0].([32]byte), inv.Args[1].(common.Address)
		if account != c.deployer {
			return "", errors.New("AccessControl: can only renounce roles for self")
		}
		delete(c.roles[role], account)
	case ArtifactMockVRF + ".createSubscription":
	case ArtifactMockVRF + ".addConsumer":
		c.consumerSubs = append(c.consumerSubs, inv.Args[0].(uint64))
		c.consumers = append(c.consumers, inv.Args[1].(common.Address))
	default:
		return "", fmt.Errorf("%w: %s", unit.ErrUnknownMethod, entry)
	}

	c.txs = append(c.txs, entry)
	return entry, nil
}

func (c *fakeChain) hasRole(role string, account common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roles[roleID(role)][account]
}

func (c *fakeChain) transactions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.txs...)
}

type fakeHandle struct {
	chain *fakeChain
	name  string
	addr  common.Address
}

func (h *fakeHandle) Name() string            { return h.name }
func (h *fakeHandle) Address() common.Address { return h.addr }

func (h *fakeHandle) DeployTx() *types.Transaction {
	return types.NewTx(&types.LegacyTx{Data: h.addr.Bytes()})
}

func (h *fakeHandle) Call(_ context.Context, method string, args ...any) ([]any, error) {
	return h.chain.call(h, method, args)
}

func (h *fakeHandle) Invoke(ctx context.Context, inv unit.Invocation) (*txn.Result, error) {
	return h.chain.invoke(ctx, h, inv)
}
