// Package hint finds insertion hints for the externally sorted vault list
// and plans redemptions that avoid leaving a vault below the minimum net
// debt.
//
// The list is ordered by nominal collateral ratio, highest first. It cannot
// be scanned cheaply, so hints come from repeated random sampling on chain
// (ApproxHint) refined by one exact probe (FindInsertPosition).
package hint

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"math/big"
	"math/rand/v2"

	"github.com/ethereum/go-ethereum/common"

	"github.com/moneyprotocol/engineering-sub002/internal/fixed"
	"github.com/moneyprotocol/engineering-sub002/internal/metrics"
	"github.com/moneyprotocol/engineering-sub002/internal/vault"
)

// DefaultMaxTrialsPerCall keeps a single ApproxHint call within the node's
// gas budget for eth_call.
const DefaultMaxTrialsPerCall = 2500

// SortedList is read access to the on-chain sorted vault list.
type SortedList interface {
	Size(ctx context.Context) (uint64, error)
	First(ctx context.Context) (common.Address, error)
	Last(ctx context.Context) (common.Address, error)
	// Prev moves toward the head (higher ratio); Next toward the tail.
	Prev(ctx context.Context, id common.Address) (common.Address, error)
	Next(ctx context.Context, id common.Address) (common.Address, error)
	FindInsertPosition(ctx context.Context, nicr fixed.Decimal, prevHint, nextHint common.Address) (prev, next common.Address, err error)
}

// ApproxHinter samples trials random vaults and returns the one whose
// nominal ratio is closest to nicr, plus the seed to continue sampling.
type ApproxHinter interface {
	ApproxHint(ctx context.Context, nicr fixed.Decimal, trials uint64, seed *big.Int) (Probe, error)
}

// Probe is the result of one ApproxHint call.
type Probe struct {
	Trials uint64
	Hint   common.Address
	Diff   fixed.Decimal
	Seed   *big.Int
}

// Hints are the neighbours to pass to a transaction that inserts or moves a
// vault: Upper has the higher ratio.
type Hints struct {
	Upper common.Address `json:"upper"`
	Lower common.Address `json:"lower"`
}

// Trials returns the total number of random trials for a list of n vaults,
// ceil(10·√n), split into chunks of at most maxPerCall.
func Trials(n, maxPerCall uint64) []uint64 {
	if n == 0 {
		return nil
	}
	if maxPerCall == 0 {
		maxPerCall = DefaultMaxTrialsPerCall
	}
	total := uint64(math.Ceil(10 * math.Sqrt(float64(n))))
	chunks := make([]uint64, 0, total/maxPerCall+1)
	for ; total > maxPerCall; total -= maxPerCall {
		chunks = append(chunks, maxPerCall)
	}
	return append(chunks, total)
}

// Finder computes insertion hints.
type Finder struct {
	list       SortedList
	approx     ApproxHinter
	maxPerCall uint64
	seed       func() *big.Int
	logger     *slog.Logger
}

// NewFinder creates a finder. maxPerCall of zero selects
// DefaultMaxTrialsPerCall.
func NewFinder(list SortedList, approx ApproxHinter, maxPerCall uint64, logger *slog.Logger) *Finder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finder{
		list:       list,
		approx:     approx,
		maxPerCall: maxPerCall,
		seed:       func() *big.Int { return new(big.Int).SetUint64(rand.Uint64()) },
		logger:     logger,
	}
}

// Probes yields one result per ApproxHint batch for a list of n vaults.
// Each batch continues from the seed the previous one returned. The
// sequence stops after the first error; a consumer that stops early
// cancels the remaining batches.
func (f *Finder) Probes(ctx context.Context, nicr fixed.Decimal, n uint64) iter.Seq2[Probe, error] {
	return func(yield func(Probe, error) bool) {
		seed := f.seed()
		for _, trials := range Trials(n, f.maxPerCall) {
			if err := ctx.Err(); err != nil {
				yield(Probe{}, err)
				return
			}
			metrics.HintProbeCalls.Inc()
			metrics.HintTrials.Add(float64(trials))
			probe, err := f.approx.ApproxHint(ctx, nicr, trials, seed)
			if err != nil {
				yield(Probe{}, fmt.Errorf("hint: approx hint: %w", err))
				return
			}
			probe.Trials = trials
			if !yield(probe, nil) {
				return
			}
			seed = probe.Seed
		}
	}
}

// ForVault returns hints for inserting v. owner, when non-zero, is the
// address of a vault being moved; it is skipped because it is removed from
// the list before reinsertion.
func (f *Finder) ForVault(ctx context.Context, v vault.Vault, owner common.Address) (Hints, error) {
	return f.ForNominalCollateralRatio(ctx, v.NominalCollateralRatio(), owner)
}

// ForNominalCollateralRatio returns hints for inserting a vault with the
// given nominal ratio.
func (f *Finder) ForNominalCollateralRatio(ctx context.Context, nicr fixed.Decimal, owner common.Address) (Hints, error) {
	n, err := f.list.Size(ctx)
	if err != nil {
		return Hints{}, fmt.Errorf("hint: list size: %w", err)
	}
	if n == 0 {
		return Hints{}, nil
	}
	if nicr.IsInfinite() {
		first, err := f.list.First(ctx)
		if err != nil {
			return Hints{}, fmt.Errorf("hint: list head: %w", err)
		}
		return Hints{Lower: first}, nil
	}

	var best *Probe
	for probe, err := range f.Probes(ctx, nicr, n) {
		if err != nil {
			return Hints{}, err
		}
		if best == nil || probe.Diff.Lt(best.Diff) {
			p := probe
			best = &p
		}
	}

	prev, next, err := f.list.FindInsertPosition(ctx, nicr, best.Hint, best.Hint)
	if err != nil {
		return Hints{}, fmt.Errorf("hint: find insert position: %w", err)
	}

	if owner != (common.Address{}) {
		switch owner {
		case prev:
			if prev, err = f.list.Prev(ctx, prev); err != nil {
				return Hints{}, fmt.Errorf("hint: skip own vault: %w", err)
			}
		case next:
			if next, err = f.list.Next(ctx, next); err != nil {
				return Hints{}, fmt.Errorf("hint: skip own vault: %w", err)
			}
		}
	}

	// The zero address as a hint makes the contract walk the whole list.
	switch {
	case prev == (common.Address{}):
		prev = next
	case next == (common.Address{}):
		next = prev
	}

	f.logger.Debug("hints found",
		"nicr", nicr,
		"vaults", n,
		"best_diff", best.Diff,
		"upper", prev.Hex(),
		"lower", next.Hex(),
	)
	return Hints{Upper: prev, Lower: next}, nil
}
