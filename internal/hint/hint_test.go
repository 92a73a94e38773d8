package hint

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/moneyprotocol/engineering-sub002/internal/fees"
	"github.com/moneyprotocol/engineering-sub002/internal/fixed"
	"github.com/moneyprotocol/engineering-sub002/internal/vault"
)

func d(s string) fixed.Decimal {
	return fixed.MustParse(s)
}

func addr(n int64) common.Address {
	return common.BigToAddress(big.NewInt(n))
}

type entry struct {
	id common.Address
	v  vault.Vault
}

// memList is a sorted vault list held in memory, highest ratio first.
type memList struct {
	entries     []entry
	approxCalls int
	seeds       []*big.Int
	failApprox  error
}

func newList(vaults ...vault.Vault) *memList {
	l := &memList{}
	for i, v := range vaults {
		l.entries = append(l.entries, entry{id: addr(int64(i + 1)), v: v})
	}
	return l
}

func (l *memList) index(id common.Address) int {
	for i, e := range l.entries {
		if e.id == id {
			return i
		}
	}
	return -1
}

func (l *memList) at(i int) common.Address {
	if i < 0 || i >= len(l.entries) {
		return common.Address{}
	}
	return l.entries[i].id
}

func (l *memList) Size(context.Context) (uint64, error) { return uint64(len(l.entries)), nil }

func (l *memList) First(context.Context) (common.Address, error) { return l.at(0), nil }

func (l *memList) Last(context.Context) (common.Address, error) {
	return l.at(len(l.entries) - 1), nil
}

func (l *memList) Prev(_ context.Context, id common.Address) (common.Address, error) {
	return l.at(l.index(id) - 1), nil
}

func (l *memList) Next(_ context.Context, id common.Address) (common.Address, error) {
	i := l.index(id)
	if i < 0 {
		return common.Address{}, nil
	}
	return l.at(i + 1), nil
}

func (l *memList) FindInsertPosition(_ context.Context, nicr fixed.Decimal, _, _ common.Address) (common.Address, common.Address, error) {
	for i, e := range l.entries {
		if e.v.NominalCollateralRatio().Lt(nicr) {
			return l.at(i - 1), e.id, nil
		}
	}
	return l.at(len(l.entries) - 1), common.Address{}, nil
}

func (l *memList) ApproxHint(_ context.Context, nicr fixed.Decimal, trials uint64, seed *big.Int) (Probe, error) {
	l.approxCalls++
	l.seeds = append(l.seeds, seed)
	if l.failApprox != nil {
		return Probe{}, l.failApprox
	}
	r := rand.New(rand.NewSource(seed.Int64()))
	best := Probe{Diff: fixed.Infinity}
	for i := uint64(0); i < trials; i++ {
		e := l.entries[r.Intn(len(l.entries))]
		ratio := e.v.NominalCollateralRatio()
		var diff fixed.Decimal
		if ratio.Gt(nicr) {
			diff = ratio.Sub(nicr)
		} else {
			diff = nicr.Sub(ratio)
		}
		if diff.Lt(best.Diff) {
			best.Hint, best.Diff = e.id, diff
		}
	}
	best.Seed = new(big.Int).Add(seed, big.NewInt(1))
	return best, nil
}

func (l *memList) EntireVault(_ context.Context, id common.Address) (vault.Vault, error) {
	i := l.index(id)
	if i < 0 {
		return vault.Empty, errors.New("no such vault")
	}
	return l.entries[i].v, nil
}

func newFinder(l *memList, maxPerCall uint64) *Finder {
	f := NewFinder(l, l, maxPerCall, nil)
	f.seed = func() *big.Int { return big.NewInt(42) }
	return f
}

// --- Trials ---

func TestTrials(t *testing.T) {
	tests := []struct {
		n    uint64
		want []uint64
	}{
		{0, nil},
		{1, []uint64{10}},
		{100, []uint64{100}},
		{62500, []uint64{2500}},
		{250000, []uint64{2500, 2500}},
		{300000, []uint64{2500, 2500, 478}},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Trials(tt.n, DefaultMaxTrialsPerCall), "n=%d", tt.n)
	}
}

// --- Probes ---

func TestProbesChainSeeds(t *testing.T) {
	l := newList(vault.New(d("10"), d("2000")))
	f := newFinder(l, 4)

	var trials []uint64
	for probe, err := range f.Probes(context.Background(), d("0.5"), 1) {
		require.NoError(t, err)
		trials = append(trials, probe.Trials)
	}
	require.Equal(t, []uint64{4, 4, 2}, trials)
	require.Equal(t, []*big.Int{big.NewInt(42), big.NewInt(43), big.NewInt(44)}, l.seeds)
}

func TestProbesStopWhenConsumerStops(t *testing.T) {
	l := newList(vault.New(d("10"), d("2000")))
	f := newFinder(l, 10)

	seen := 0
	for _, err := range f.Probes(context.Background(), d("0.5"), 100) {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	require.Equal(t, 2, l.approxCalls, "remaining batches must not be issued")
}

func TestProbesStopOnError(t *testing.T) {
	l := newList(vault.New(d("10"), d("2000")))
	l.failApprox = errors.New("execution reverted")
	f := newFinder(l, 10)

	var errs []error
	for _, err := range f.Probes(context.Background(), d("0.5"), 100) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], l.failApprox)
}

// --- Insertion hints ---

func TestHintsEmptyList(t *testing.T) {
	h, err := newFinder(newList(), 0).ForVault(context.Background(), vault.New(d("1"), d("2000")), common.Address{})
	require.NoError(t, err)
	require.Equal(t, Hints{}, h)
}

func TestHintsInfiniteRatioGoesToHead(t *testing.T) {
	l := newList(vault.New(d("30"), d("2000")), vault.New(d("20"), d("2000")))
	h, err := newFinder(l, 0).ForVault(context.Background(), vault.New(d("1"), fixed.Zero), common.Address{})
	require.NoError(t, err)
	require.Equal(t, Hints{Lower: addr(1)}, h)
	require.Zero(t, l.approxCalls)
}

func TestHintsBetweenNeighbours(t *testing.T) {
	l := newList(
		vault.New(d("30"), d("2000")),
		vault.New(d("20"), d("2000")),
		vault.New(d("10"), d("2000")),
	)
	h, err := newFinder(l, 0).ForVault(context.Background(), vault.New(d("15"), d("2000")), common.Address{})
	require.NoError(t, err)
	require.Equal(t, Hints{Upper: addr(2), Lower: addr(3)}, h)
	require.Equal(t, 1, l.approxCalls)
}

func TestHintsJumpOverOwnVault(t *testing.T) {
	l := newList(
		vault.New(d("30"), d("2000")),
		vault.New(d("20"), d("2000")),
		vault.New(d("10"), d("2000")),
	)
	h, err := newFinder(l, 0).ForVault(context.Background(), vault.New(d("20"), d("2000")), addr(2))
	require.NoError(t, err)
	require.Equal(t, Hints{Upper: addr(1), Lower: addr(3)}, h)
}

func TestHintsNeverZeroAddress(t *testing.T) {
	l := newList(vault.New(d("30"), d("2000")), vault.New(d("20"), d("2000")))
	f := newFinder(l, 0)

	top, err := f.ForVault(context.Background(), vault.New(d("50"), d("2000")), common.Address{})
	require.NoError(t, err)
	require.Equal(t, Hints{Upper: addr(1), Lower: addr(1)}, top)

	bottom, err := f.ForVault(context.Background(), vault.New(d("1"), d("2000")), common.Address{})
	require.NoError(t, err)
	require.Equal(t, Hints{Upper: addr(2), Lower: addr(2)}, bottom)
}

// --- Redemptions ---

var now = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func conditions() Conditions {
	return Conditions{
		Price: d("200"),
		Total: vault.New(d("1000"), d("100000")),
		Fees:  fees.New(fixed.Zero, now, false),
		Now:   now,
	}
}

// threeVaults have net debt 2010 each and a safe ratio.
func threeVaults() *memList {
	return newList(
		vault.New(d("20"), d("2210")),
		vault.New(d("20"), d("2210")),
		vault.New(d("20"), d("2210")),
	)
}

func TestRedemptionTruncatesAndEscalates(t *testing.T) {
	l := threeVaults()
	p := NewPlanner(l, newFinder(l, 0), 0, fixed.Zero, nil)
	ctx := context.Background()

	r, err := p.Redeem(ctx, d("3000"), nil, conditions())
	require.NoError(t, err)
	require.True(t, r.Attempted.Eq(d("3000")))
	require.True(t, r.Redeemable.Eq(d("2220")), "redeemable %s", r.Redeemable) // 2010*2 - 1800
	require.True(t, r.IsTruncated)
	require.Equal(t, addr(3), r.FirstHint)
	// 18.95 collateral over 2000 debt left in the second vault.
	require.True(t, r.PartialNICR.Eq(d("0.9475")), "partial NICR %s", r.PartialNICR)
	require.NotEqual(t, common.Address{}, r.UpperPartialHint)
	require.NotEqual(t, common.Address{}, r.LowerPartialHint)

	next, err := p.Escalate(ctx, r, nil, conditions())
	require.NoError(t, err)
	require.True(t, next.Attempted.Eq(d("4020")), "escalated to %s", next.Attempted)
	require.True(t, next.Redeemable.Eq(d("4020")))
	require.False(t, next.IsTruncated)
	require.True(t, next.PartialNICR.IsZero())

	again, err := p.Escalate(ctx, next, nil, conditions())
	require.NoError(t, err)
	require.Equal(t, next, again, "escalating an exact plan is a no-op")
}

func TestRedemptionSkipsVaultsBelowMinimumRatio(t *testing.T) {
	l := newList(
		vault.New(d("20"), d("2210")),
		vault.New(d("20"), d("2210")),
		vault.New(d("1"), d("2210")), // ratio 0.09 at price 200
	)
	hints, err := ComputeRedemptionHints(context.Background(), l, d("2010"), d("200"), 0)
	require.NoError(t, err)
	require.Equal(t, addr(2), hints.First)
	require.True(t, hints.Truncated.Eq(d("2010")))
}

func TestRedemptionMaxIterations(t *testing.T) {
	hints, err := ComputeRedemptionHints(context.Background(), threeVaults(), d("3000"), d("200"), 1)
	require.NoError(t, err)
	require.True(t, hints.Truncated.Eq(d("2010")))
	require.True(t, hints.PartialNICR.IsZero())
}

func TestRedemptionAmountTooLow(t *testing.T) {
	l := newList(vault.New(d("20"), d("2000"))) // net debt exactly at the minimum
	p := NewPlanner(l, newFinder(l, 0), 0, fixed.Zero, nil)
	_, err := p.Redeem(context.Background(), d("100"), nil, conditions())
	require.ErrorIs(t, err, ErrAmountTooLow)
}

func TestRedemptionMaxRate(t *testing.T) {
	l := threeVaults()
	p := NewPlanner(l, newFinder(l, 0), 0, fixed.Zero, nil)
	c := conditions()

	r, err := p.Redeem(context.Background(), d("3000"), nil, c)
	require.NoError(t, err)
	expected := c.Fees.RedemptionRate(d("2220").Div(d("100000")), now).Add(DefaultSlippageTolerance)
	require.True(t, r.MaxRedemptionRate.Eq(expected), "default rate %s, want %s", r.MaxRedemptionRate, expected)

	chosen := d("0.02")
	r, err = p.Redeem(context.Background(), d("3000"), &chosen, c)
	require.NoError(t, err)
	require.True(t, r.MaxRedemptionRate.Eq(chosen))

	next, err := p.Escalate(context.Background(), r, nil, c)
	require.NoError(t, err)
	require.True(t, next.MaxRedemptionRate.Eq(chosen), "escalation keeps the caller's rate")
}
