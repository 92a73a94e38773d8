// Package chain reads protocol state from an Ethereum node. EthReader is the
// single boundary between the accounting core and the contracts: it feeds
// the mirror, walks the sorted vault list for hints and confirms
// transactions.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"golang.org/x/time/rate"

	"github.com/moneyprotocol/engineering-sub002/internal/fees"
	"github.com/moneyprotocol/engineering-sub002/internal/fixed"
	"github.com/moneyprotocol/engineering-sub002/internal/hint"
	"github.com/moneyprotocol/engineering-sub002/internal/metrics"
	"github.com/moneyprotocol/engineering-sub002/internal/mirror"
	"github.com/moneyprotocol/engineering-sub002/internal/model"
	"github.com/moneyprotocol/engineering-sub002/internal/vault"
)

// Addresses of the deployed protocol contracts.
type Addresses struct {
	PriceFeed         common.Address `yaml:"price_feed"`
	VaultManager      common.Address `yaml:"vault_manager"`
	SortedVaults      common.Address `yaml:"sorted_vaults"`
	HintHelpers       common.Address `yaml:"hint_helpers"`
	BPDToken          common.Address `yaml:"bpd_token"`
	MPToken           common.Address `yaml:"mp_token"`
	StabilityPool     common.Address `yaml:"stability_pool"`
	MPStaking         common.Address `yaml:"mp_staking"`
	CollSurplusPool   common.Address `yaml:"coll_surplus_pool"`
	CommunityIssuance common.Address `yaml:"community_issuance"`
}

// Client is the subset of the Ethereum RPC used by the reader.
type Client interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// Dial connects to an Ethereum node.
func Dial(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("chain: rpc endpoint required")
	}
	client, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", trimmed, err)
	}
	return client, nil
}

var (
	_ mirror.Source          = (*EthReader)(nil)
	_ mirror.BlockSubscriber = (*EthReader)(nil)
	_ hint.RedemptionSource  = (*EthReader)(nil)
	_ hint.ApproxHinter      = (*EthReader)(nil)
)

// EthReader implements the mirror source, the block subscription and the
// sorted list reads against protocol contracts. Calls share one rate
// limiter so a burst of concurrent sub-reads stays within the node's budget.
type EthReader struct {
	client  Client
	addrs   Addresses
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewEthReader creates a reader. A non-positive requestsPerSecond disables
// rate limiting.
func NewEthReader(client Client, addrs Addresses, requestsPerSecond float64, burst int, logger *slog.Logger) *EthReader {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EthReader{
		client:  client,
		addrs:   addrs,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

func (r *EthReader) call(ctx context.Context, to common.Address, method string, args ...any) (out []any, err error) {
	start := time.Now()
	defer func() { metrics.ObserveCall(method, start, err) }()

	if err = r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("chain: %s: %w", method, err)
	}
	data, err := protocolABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	out, err = protocolABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return out, nil
}

func (r *EthReader) callDecimal(ctx context.Context, to common.Address, method string, args ...any) (fixed.Decimal, error) {
	out, err := r.call(ctx, to, method, args...)
	if err != nil {
		return fixed.Zero, err
	}
	return decimalAt(out, 0)
}

func (r *EthReader) callAddress(ctx context.Context, to common.Address, method string, args ...any) (common.Address, error) {
	out, err := r.call(ctx, to, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	return addressAt(out, 0)
}

func decimalAt(out []any, i int) (fixed.Decimal, error) {
	n, ok := out[i].(*big.Int)
	if !ok {
		return fixed.Zero, fmt.Errorf("chain: output %d is %T, want uint", i, out[i])
	}
	word, overflow := uint256.FromBig(n)
	if overflow {
		return fixed.Zero, fmt.Errorf("chain: output %d overflows 256 bits", i)
	}
	return fixed.FromUint256(word), nil
}

func addressAt(out []any, i int) (common.Address, error) {
	a, ok := out[i].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("chain: output %d is %T, want address", i, out[i])
	}
	return a, nil
}

func decimals(out []any, n int) ([]fixed.Decimal, error) {
	ds := make([]fixed.Decimal, n)
	for i := range ds {
		d, err := decimalAt(out, i)
		if err != nil {
			return nil, err
		}
		ds[i] = d
	}
	return ds, nil
}

// --- mirror.Source ---

func (r *EthReader) Price(ctx context.Context) (fixed.Decimal, error) {
	return r.callDecimal(ctx, r.addrs.PriceFeed, "lastGoodPrice")
}

func (r *EthReader) NumberOfVaults(ctx context.Context) (uint64, error) {
	n, err := r.callDecimal(ctx, r.addrs.VaultManager, "getVaultOwnersCount")
	if err != nil {
		return 0, err
	}
	return n.BigInt().Uint64(), nil
}

func (r *EthReader) Total(ctx context.Context) (vault.Vault, error) {
	coll, err := r.callDecimal(ctx, r.addrs.VaultManager, "getEntireSystemColl")
	if err != nil {
		return vault.Empty, err
	}
	debt, err := r.callDecimal(ctx, r.addrs.VaultManager, "getEntireSystemDebt")
	if err != nil {
		return vault.Empty, err
	}
	return vault.New(coll, debt), nil
}

func (r *EthReader) TotalRedistributed(ctx context.Context) (vault.Vault, error) {
	coll, err := r.callDecimal(ctx, r.addrs.VaultManager, "L_ETH")
	if err != nil {
		return vault.Empty, err
	}
	debt, err := r.callDecimal(ctx, r.addrs.VaultManager, "L_BPDDebt")
	if err != nil {
		return vault.Empty, err
	}
	return vault.New(coll, debt), nil
}

// VaultBeforeRedistribution reads owner's stored vault with its stake and
// reward snapshot. Vaults that are not open carry no amounts.
func (r *EthReader) VaultBeforeRedistribution(ctx context.Context, owner common.Address) (vault.WithPendingRedistribution, error) {
	out, err := r.call(ctx, r.addrs.VaultManager, "Vaults", owner)
	if err != nil {
		return vault.WithPendingRedistribution{}, err
	}
	amounts, err := decimals(out, 3)
	if err != nil {
		return vault.WithPendingRedistribution{}, err
	}
	code, ok := out[3].(uint8)
	if !ok || code > uint8(vault.ClosedByRedemption) {
		return vault.WithPendingRedistribution{}, fmt.Errorf("chain: unknown vault status %v", out[3])
	}
	status := vault.Status(code)
	if status != vault.Open {
		w := vault.NonExistentVault(owner)
		w.Status = status
		return w, nil
	}

	out, err = r.call(ctx, r.addrs.VaultManager, "rewardSnapshots", owner)
	if err != nil {
		return vault.WithPendingRedistribution{}, err
	}
	snapshot, err := decimals(out, 2)
	if err != nil {
		return vault.WithPendingRedistribution{}, err
	}
	return vault.WithPendingRedistribution{
		UserVault: vault.UserVault{
			Owner:  owner,
			Status: status,
			Vault:  vault.New(amounts[1], amounts[0]),
		},
		Stake:    amounts[2],
		Snapshot: vault.New(snapshot[0], snapshot[1]),
	}, nil
}

// RiskiestVaultBeforeRedistribution reads the vault at the tail of the
// sorted list.
func (r *EthReader) RiskiestVaultBeforeRedistribution(ctx context.Context) (vault.WithPendingRedistribution, error) {
	last, err := r.Last(ctx)
	if err != nil {
		return vault.WithPendingRedistribution{}, err
	}
	if last == (common.Address{}) {
		return vault.NonExistentVault(last), nil
	}
	return r.VaultBeforeRedistribution(ctx, last)
}

func (r *EthReader) AccountBalance(ctx context.Context, owner common.Address) (d fixed.Decimal, err error) {
	start := time.Now()
	defer func() { metrics.ObserveCall("eth_getBalance", start, err) }()
	if err = r.limiter.Wait(ctx); err != nil {
		return fixed.Zero, fmt.Errorf("chain: balance: %w", err)
	}
	balance, err := r.client.BalanceAt(ctx, owner, nil)
	if err != nil {
		return fixed.Zero, fmt.Errorf("chain: balance of %s: %w", owner.Hex(), err)
	}
	return fixed.FromBigInt(balance)
}

func (r *EthReader) BPDBalance(ctx context.Context, owner common.Address) (fixed.Decimal, error) {
	return r.callDecimal(ctx, r.addrs.BPDToken, "balanceOf", owner)
}

func (r *EthReader) MPBalance(ctx context.Context, owner common.Address) (fixed.Decimal, error) {
	return r.callDecimal(ctx, r.addrs.MPToken, "balanceOf", owner)
}

func (r *EthReader) CollateralSurplusBalance(ctx context.Context, owner common.Address) (fixed.Decimal, error) {
	return r.callDecimal(ctx, r.addrs.CollSurplusPool, "getCollateral", owner)
}

func (r *EthReader) BPDInStabilityPool(ctx context.Context) (fixed.Decimal, error) {
	return r.callDecimal(ctx, r.addrs.StabilityPool, "getTotalBPDDeposits")
}

func (r *EthReader) StabilityDeposit(ctx context.Context, owner common.Address) (model.StabilityDeposit, error) {
	out, err := r.call(ctx, r.addrs.StabilityPool, "deposits", owner)
	if err != nil {
		return model.StabilityDeposit{}, err
	}
	initial, err := decimalAt(out, 0)
	if err != nil {
		return model.StabilityDeposit{}, err
	}
	tag, err := addressAt(out, 1)
	if err != nil {
		return model.StabilityDeposit{}, err
	}
	current, err := r.callDecimal(ctx, r.addrs.StabilityPool, "getCompoundedBPDDeposit", owner)
	if err != nil {
		return model.StabilityDeposit{}, err
	}
	collGain, err := r.callDecimal(ctx, r.addrs.StabilityPool, "getDepositorETHGain", owner)
	if err != nil {
		return model.StabilityDeposit{}, err
	}
	mpReward, err := r.callDecimal(ctx, r.addrs.StabilityPool, "getDepositorMPGain", owner)
	if err != nil {
		return model.StabilityDeposit{}, err
	}
	return model.StabilityDeposit{
		InitialBPD:     initial,
		CurrentBPD:     current,
		CollateralGain: collGain,
		MPReward:       mpReward,
		FrontendTag:    tag,
	}, nil
}

// RemainingStabilityPoolMPReward is the MP still held by the community
// issuance contract.
func (r *EthReader) RemainingStabilityPoolMPReward(ctx context.Context) (fixed.Decimal, error) {
	return r.callDecimal(ctx, r.addrs.MPToken, "balanceOf", r.addrs.CommunityIssuance)
}

func (r *EthReader) MPStake(ctx context.Context, owner common.Address) (model.MPStake, error) {
	staked, err := r.callDecimal(ctx, r.addrs.MPStaking, "stakes", owner)
	if err != nil {
		return model.MPStake{}, err
	}
	collGain, err := r.callDecimal(ctx, r.addrs.MPStaking, "getPendingETHGain", owner)
	if err != nil {
		return model.MPStake{}, err
	}
	bpdGain, err := r.callDecimal(ctx, r.addrs.MPStaking, "getPendingBPDGain", owner)
	if err != nil {
		return model.MPStake{}, err
	}
	return model.MPStake{StakedMP: staked, CollateralGain: collGain, BPDGain: bpdGain}, nil
}

func (r *EthReader) TotalStakedMP(ctx context.Context) (fixed.Decimal, error) {
	return r.callDecimal(ctx, r.addrs.MPStaking, "totalMPStaked")
}

// FeesInNormalMode reads the base rate and the time it was last updated.
// Recovery mode is derived by the mirror, not read.
func (r *EthReader) FeesInNormalMode(ctx context.Context) (fees.Fees, error) {
	base, err := r.callDecimal(ctx, r.addrs.VaultManager, "baseRate")
	if err != nil {
		return fees.Fees{}, err
	}
	out, err := r.call(ctx, r.addrs.VaultManager, "lastFeeOperationTime")
	if err != nil {
		return fees.Fees{}, err
	}
	secs, ok := out[0].(*big.Int)
	if !ok || !secs.IsInt64() {
		return fees.Fees{}, fmt.Errorf("chain: bad lastFeeOperationTime %v", out[0])
	}
	return fees.New(base, time.Unix(secs.Int64(), 0).UTC(), false), nil
}

func (r *EthReader) BlockTimestamp(ctx context.Context) (t time.Time, err error) {
	start := time.Now()
	defer func() { metrics.ObserveCall("eth_getBlockByNumber", start, err) }()
	if err = r.limiter.Wait(ctx); err != nil {
		return time.Time{}, fmt.Errorf("chain: latest header: %w", err)
	}
	header, err := r.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("chain: latest header: %w", err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// --- mirror.BlockSubscriber ---

// SubscribeBlocks forwards new block numbers to blocks. A block that
// arrives while the previous one is still queued is dropped: the pending
// refresh reads the newer state anyway.
func (r *EthReader) SubscribeBlocks(ctx context.Context, blocks chan<- uint64) (func(), error) {
	headers := make(chan *types.Header, 16)
	sub, err := r.client.SubscribeNewHead(ctx, headers)
	if err != nil {
		return nil, fmt.Errorf("chain: subscribe new heads: %w", err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case err, ok := <-sub.Err():
				if ok && err != nil {
					r.logger.Error("block subscription failed", "error", err)
				}
				return
			case h := <-headers:
				select {
				case blocks <- h.Number.Uint64():
				default:
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.Unsubscribe()
			close(done)
		})
	}, nil
}

// --- hint.SortedList ---

func (r *EthReader) Size(ctx context.Context) (uint64, error) {
	n, err := r.callDecimal(ctx, r.addrs.SortedVaults, "getSize")
	if err != nil {
		return 0, err
	}
	return n.BigInt().Uint64(), nil
}

func (r *EthReader) First(ctx context.Context) (common.Address, error) {
	return r.callAddress(ctx, r.addrs.SortedVaults, "getFirst")
}

func (r *EthReader) Last(ctx context.Context) (common.Address, error) {
	return r.callAddress(ctx, r.addrs.SortedVaults, "getLast")
}

func (r *EthReader) Prev(ctx context.Context, id common.Address) (common.Address, error) {
	return r.callAddress(ctx, r.addrs.SortedVaults, "getPrev", id)
}

func (r *EthReader) Next(ctx context.Context, id common.Address) (common.Address, error) {
	return r.callAddress(ctx, r.addrs.SortedVaults, "getNext", id)
}

func (r *EthReader) FindInsertPosition(ctx context.Context, nicr fixed.Decimal, prevHint, nextHint common.Address) (common.Address, common.Address, error) {
	out, err := r.call(ctx, r.addrs.SortedVaults, "findInsertPosition", nicr.BigInt(), prevHint, nextHint)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	prev, err := addressAt(out, 0)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	next, err := addressAt(out, 1)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return prev, next, nil
}

// --- hint.ApproxHinter, hint.RedemptionSource ---

func (r *EthReader) ApproxHint(ctx context.Context, nicr fixed.Decimal, trials uint64, seed *big.Int) (hint.Probe, error) {
	out, err := r.call(ctx, r.addrs.HintHelpers, "getApproxHint", nicr.BigInt(), new(big.Int).SetUint64(trials), seed)
	if err != nil {
		return hint.Probe{}, err
	}
	addr, err := addressAt(out, 0)
	if err != nil {
		return hint.Probe{}, err
	}
	diff, err := decimalAt(out, 1)
	if err != nil {
		return hint.Probe{}, err
	}
	next, ok := out[2].(*big.Int)
	if !ok {
		return hint.Probe{}, fmt.Errorf("chain: output 2 is %T, want uint", out[2])
	}
	return hint.Probe{Trials: trials, Hint: addr, Diff: diff, Seed: next}, nil
}

// EntireVault reads a vault with its pending redistribution applied.
func (r *EthReader) EntireVault(ctx context.Context, owner common.Address) (vault.Vault, error) {
	out, err := r.call(ctx, r.addrs.VaultManager, "getEntireDebtAndColl", owner)
	if err != nil {
		return vault.Empty, err
	}
	amounts, err := decimals(out, 2)
	if err != nil {
		return vault.Empty, err
	}
	return vault.New(amounts[1], amounts[0]), nil
}
