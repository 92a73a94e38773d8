package hint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/moneyprotocol/engineering-sub002/internal/fees"
	"github.com/moneyprotocol/engineering-sub002/internal/fixed"
	"github.com/moneyprotocol/engineering-sub002/internal/metrics"
	"github.com/moneyprotocol/engineering-sub002/internal/vault"
)

// ErrAmountTooLow is returned when not even one redemption quantum fits in
// the requested amount.
var ErrAmountTooLow = fmt.Errorf("hint: amount too low to redeem (try at least %s)", vault.MinimumNetDebt)

// DefaultSlippageTolerance is added to the expected redemption rate when
// the caller does not choose a maximum.
var DefaultSlippageTolerance = fixed.MustParse("0.001")

// RedemptionSource reads the vaults a redemption walks through.
type RedemptionSource interface {
	SortedList
	// EntireVault returns the vault including pending redistribution.
	EntireVault(ctx context.Context, owner common.Address) (vault.Vault, error)
}

// RedemptionHints is the result of walking the list from the tail.
type RedemptionHints struct {
	First       common.Address
	PartialNICR fixed.Decimal
	Truncated   fixed.Decimal
}

// ComputeRedemptionHints walks the list from the riskiest vault upward,
// skipping vaults below the minimum collateral ratio, and redeems each
// vault's net debt in turn. A vault that would be left with net debt in
// (0, MinimumNetDebt) is only partially redeemed, down to exactly
// MinimumNetDebt, and the walk stops there. maxIterations of zero means
// no limit.
func ComputeRedemptionHints(ctx context.Context, src RedemptionSource, amount, price fixed.Decimal, maxIterations uint64) (RedemptionHints, error) {
	current, err := src.Last(ctx)
	if err != nil {
		return RedemptionHints{}, fmt.Errorf("hint: list tail: %w", err)
	}
	var v vault.Vault
	for current != (common.Address{}) {
		if v, err = src.EntireVault(ctx, current); err != nil {
			return RedemptionHints{}, fmt.Errorf("hint: vault %s: %w", current.Hex(), err)
		}
		if !v.CollateralRatioIsBelowMinimum(price) {
			break
		}
		if current, err = src.Prev(ctx, current); err != nil {
			return RedemptionHints{}, fmt.Errorf("hint: walk list: %w", err)
		}
	}

	hints := RedemptionHints{First: current}
	remaining := amount
	for i := uint64(0); current != (common.Address{}) && remaining.NonZero(); i++ {
		if maxIterations > 0 && i == maxIterations {
			break
		}
		if i > 0 {
			if v, err = src.EntireVault(ctx, current); err != nil {
				return RedemptionHints{}, fmt.Errorf("hint: vault %s: %w", current.Hex(), err)
			}
		}
		netDebt := v.NetDebt()
		if netDebt.Gt(remaining) {
			if netDebt.Gt(vault.MinimumNetDebt) {
				redeemable := fixed.Min(remaining, netDebt.Sub(vault.MinimumNetDebt))
				left := vault.New(
					v.Collateral.Sub(fixed.Min(v.Collateral, redeemable.Div(price))),
					netDebt.Sub(redeemable).Add(vault.LiquidationReserve),
				)
				hints.PartialNICR = left.NominalCollateralRatio()
				remaining = remaining.Sub(redeemable)
			}
			break
		}
		remaining = remaining.Sub(netDebt)
		if current, err = src.Prev(ctx, current); err != nil {
			return RedemptionHints{}, fmt.Errorf("hint: walk list: %w", err)
		}
	}

	hints.Truncated = amount.Sub(remaining)
	return hints, nil
}

// Conditions are the protocol values a redemption plan depends on, usually
// taken from the mirror.
type Conditions struct {
	Price fixed.Decimal
	Total vault.Vault
	Fees  fees.Fees
	Now   time.Time
}

// Redemption is a truncation-aware redemption plan. Truncation is a normal
// outcome: Redeemable may be lower than Attempted, and Escalate moves to
// the next redeemable amount.
type Redemption struct {
	Attempted         fixed.Decimal  `json:"attempted_amount"`
	Redeemable        fixed.Decimal  `json:"redeemable_amount"`
	IsTruncated       bool           `json:"is_truncated"`
	FirstHint         common.Address `json:"first_redemption_hint"`
	PartialNICR       fixed.Decimal  `json:"partial_redemption_hint_nicr"`
	UpperPartialHint  common.Address `json:"upper_partial_redemption_hint"`
	LowerPartialHint  common.Address `json:"lower_partial_redemption_hint"`
	MaxIterations     uint64         `json:"max_iterations"`
	MaxRedemptionRate fixed.Decimal  `json:"max_redemption_rate"`

	// callerRate is the maximum rate the caller chose, nil for the default.
	callerRate *fixed.Decimal
}

// Planner builds redemption plans.
type Planner struct {
	source        RedemptionSource
	finder        *Finder
	maxIterations uint64
	slippage      fixed.Decimal
	logger        *slog.Logger
}

// NewPlanner creates a planner. A zero slippage selects
// DefaultSlippageTolerance.
func NewPlanner(source RedemptionSource, finder *Finder, maxIterations uint64, slippage fixed.Decimal, logger *slog.Logger) *Planner {
	if slippage.IsZero() {
		slippage = DefaultSlippageTolerance
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{source: source, finder: finder, maxIterations: maxIterations, slippage: slippage, logger: logger}
}

// Redeem plans redeeming amount. maxRate, when nil, defaults to the
// expected redemption rate for the redeemable amount plus slippage.
func (p *Planner) Redeem(ctx context.Context, amount fixed.Decimal, maxRate *fixed.Decimal, c Conditions) (Redemption, error) {
	r, err := p.plan(ctx, amount, maxRate, c)
	if err != nil {
		if errors.Is(err, ErrAmountTooLow) {
			metrics.Redemptions.WithLabelValues("too_low").Inc()
		}
		return Redemption{}, err
	}
	if r.IsTruncated {
		metrics.Redemptions.WithLabelValues("truncated").Inc()
	} else {
		metrics.Redemptions.WithLabelValues("exact").Inc()
	}
	return r, nil
}

// Escalate plans the next redeemable amount above a truncated plan:
// exactly Redeemable + MinimumNetDebt. Any amount strictly between the two
// cannot be redeemed, so none is tried. A nil maxRate keeps the rate the
// caller chose for r, if any.
func (p *Planner) Escalate(ctx context.Context, r Redemption, maxRate *fixed.Decimal, c Conditions) (Redemption, error) {
	if !r.IsTruncated {
		return r, nil
	}
	if maxRate == nil {
		maxRate = r.callerRate
	}
	next, err := p.plan(ctx, r.Redeemable.Add(vault.MinimumNetDebt), maxRate, c)
	if err != nil {
		return Redemption{}, err
	}
	metrics.Redemptions.WithLabelValues("escalated").Inc()
	p.logger.Info("redemption escalated",
		"from", r.Redeemable,
		"to", next.Attempted,
		"is_truncated", next.IsTruncated,
	)
	return next, nil
}

func (p *Planner) plan(ctx context.Context, amount fixed.Decimal, maxRate *fixed.Decimal, c Conditions) (Redemption, error) {
	hints, err := ComputeRedemptionHints(ctx, p.source, amount, c.Price, p.maxIterations)
	if err != nil {
		return Redemption{}, err
	}
	if hints.Truncated.IsZero() {
		return Redemption{}, ErrAmountTooLow
	}

	r := Redemption{
		Attempted:     amount,
		Redeemable:    hints.Truncated,
		IsTruncated:   hints.Truncated.Lt(amount),
		FirstHint:     hints.First,
		PartialNICR:   hints.PartialNICR,
		MaxIterations: p.maxIterations,
		callerRate:    maxRate,
	}
	if hints.PartialNICR.NonZero() {
		partial, err := p.finder.ForNominalCollateralRatio(ctx, hints.PartialNICR, common.Address{})
		if err != nil {
			return Redemption{}, err
		}
		r.UpperPartialHint, r.LowerPartialHint = partial.Upper, partial.Lower
	}

	if maxRate != nil {
		r.MaxRedemptionRate = *maxRate
	} else {
		r.MaxRedemptionRate = p.defaultMaxRate(r.Redeemable, c)
	}
	return r, nil
}

// defaultMaxRate is min(1, redemptionRate(amount/totalDebt) + slippage).
func (p *Planner) defaultMaxRate(amount fixed.Decimal, c Conditions) fixed.Decimal {
	fraction := fixed.One
	if c.Total.Debt.NonZero() {
		fraction = amount.Div(c.Total.Debt)
	}
	return fixed.Min(c.Fees.RedemptionRate(fraction, c.Now).Add(p.slippage), fixed.One)
}
