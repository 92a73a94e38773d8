package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/moneyprotocol/engineering-sub002/internal/fees"
	"github.com/moneyprotocol/engineering-sub002/internal/fixed"
	"github.com/moneyprotocol/engineering-sub002/internal/metrics"
	"github.com/moneyprotocol/engineering-sub002/internal/model"
	"github.com/moneyprotocol/engineering-sub002/internal/vault"
)

// Source is the chain reader. Every read may fail independently.
type Source interface {
	Price(ctx context.Context) (fixed.Decimal, error)
	NumberOfVaults(ctx context.Context) (uint64, error)
	Total(ctx context.Context) (vault.Vault, error)
	TotalRedistributed(ctx context.Context) (vault.Vault, error)
	VaultBeforeRedistribution(ctx context.Context, owner common.Address) (vault.WithPendingRedistribution, error)
	RiskiestVaultBeforeRedistribution(ctx context.Context) (vault.WithPendingRedistribution, error)
	AccountBalance(ctx context.Context, owner common.Address) (fixed.Decimal, error)
	BPDBalance(ctx context.Context, owner common.Address) (fixed.Decimal, error)
	MPBalance(ctx context.Context, owner common.Address) (fixed.Decimal, error)
	CollateralSurplusBalance(ctx context.Context, owner common.Address) (fixed.Decimal, error)
	BPDInStabilityPool(ctx context.Context) (fixed.Decimal, error)
	StabilityDeposit(ctx context.Context, owner common.Address) (model.StabilityDeposit, error)
	RemainingStabilityPoolMPReward(ctx context.Context) (fixed.Decimal, error)
	MPStake(ctx context.Context, owner common.Address) (model.MPStake, error)
	TotalStakedMP(ctx context.Context) (fixed.Decimal, error)
	FeesInNormalMode(ctx context.Context) (fees.Fees, error)
	BlockTimestamp(ctx context.Context) (time.Time, error)
}

// BlockSubscriber pushes new block numbers. Unsubscribe stops delivery.
type BlockSubscriber interface {
	SubscribeBlocks(ctx context.Context, blocks chan<- uint64) (unsubscribe func(), err error)
}

// PartialReadError reports one failed sub-read of a refresh.
type PartialReadError struct {
	Field Field
	Err   error
}

func (e *PartialReadError) Error() string {
	return fmt.Sprintf("mirror: read %s: %v", e.Field, e.Err)
}

func (e *PartialReadError) Unwrap() error { return e.Err }

// Poller feeds a Mirror from a Source: one complete read to load it, then a
// refresh on every new block and whenever the fallback timer fires.
type Poller struct {
	mirror *Mirror
	source Source
	blocks BlockSubscriber
	owner  common.Address
	logger *slog.Logger
}

// NewPoller creates a poller tracking owner. blocks may be nil, in which
// case only the fallback timer drives refreshes.
func NewPoller(m *Mirror, source Source, blocks BlockSubscriber, owner common.Address, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{mirror: m, source: source, blocks: blocks, owner: owner, logger: logger}
}

// read fetches one field into the partial.
type read struct {
	field Field
	fetch func(ctx context.Context, p *Partial) error
}

func readInto[T any](dst **T, value T, err error) error {
	if err != nil {
		return err
	}
	*dst = &value
	return nil
}

func (p *Poller) reads() []read {
	s, owner := p.source, p.owner
	return []read{
		{FieldPrice, func(ctx context.Context, out *Partial) error {
			v, err := s.Price(ctx)
			return readInto(&out.Price, v, err)
		}},
		{FieldNumberOfVaults, func(ctx context.Context, out *Partial) error {
			v, err := s.NumberOfVaults(ctx)
			return readInto(&out.NumberOfVaults, v, err)
		}},
		{FieldTotal, func(ctx context.Context, out *Partial) error {
			v, err := s.Total(ctx)
			return readInto(&out.Total, v, err)
		}},
		{FieldTotalRedistributed, func(ctx context.Context, out *Partial) error {
			v, err := s.TotalRedistributed(ctx)
			return readInto(&out.TotalRedistributed, v, err)
		}},
		{FieldVaultBeforeRedistribution, func(ctx context.Context, out *Partial) error {
			v, err := s.VaultBeforeRedistribution(ctx, owner)
			return readInto(&out.VaultBeforeRedistribution, v, err)
		}},
		{FieldRiskiestVaultBeforeRedistribution, func(ctx context.Context, out *Partial) error {
			v, err := s.RiskiestVaultBeforeRedistribution(ctx)
			return readInto(&out.RiskiestVaultBeforeRedistribution, v, err)
		}},
		{FieldAccountBalance, func(ctx context.Context, out *Partial) error {
			v, err := s.AccountBalance(ctx, owner)
			return readInto(&out.AccountBalance, v, err)
		}},
		{FieldBPDBalance, func(ctx context.Context, out *Partial) error {
			v, err := s.BPDBalance(ctx, owner)
			return readInto(&out.BPDBalance, v, err)
		}},
		{FieldMPBalance, func(ctx context.Context, out *Partial) error {
			v, err := s.MPBalance(ctx, owner)
			return readInto(&out.MPBalance, v, err)
		}},
		{FieldCollateralSurplusBalance, func(ctx context.Context, out *Partial) error {
			v, err := s.CollateralSurplusBalance(ctx, owner)
			return readInto(&out.CollateralSurplusBalance, v, err)
		}},
		{FieldBPDInStabilityPool, func(ctx context.Context, out *Partial) error {
			v, err := s.BPDInStabilityPool(ctx)
			return readInto(&out.BPDInStabilityPool, v, err)
		}},
		{FieldStabilityDeposit, func(ctx context.Context, out *Partial) error {
			v, err := s.StabilityDeposit(ctx, owner)
			return readInto(&out.StabilityDeposit, v, err)
		}},
		{FieldRemainingStabilityPoolMPReward, func(ctx context.Context, out *Partial) error {
			v, err := s.RemainingStabilityPoolMPReward(ctx)
			return readInto(&out.RemainingStabilityPoolMPReward, v, err)
		}},
		{FieldMPStake, func(ctx context.Context, out *Partial) error {
			v, err := s.MPStake(ctx, owner)
			return readInto(&out.MPStake, v, err)
		}},
		{FieldTotalStakedMP, func(ctx context.Context, out *Partial) error {
			v, err := s.TotalStakedMP(ctx)
			return readInto(&out.TotalStakedMP, v, err)
		}},
		{FieldFeesInNormalMode, func(ctx context.Context, out *Partial) error {
			v, err := s.FeesInNormalMode(ctx)
			return readInto(&out.FeesInNormalMode, v, err)
		}},
		{FieldBlockTimestamp, func(ctx context.Context, out *Partial) error {
			v, err := s.BlockTimestamp(ctx)
			return readInto(&out.BlockTimestamp, v, err)
		}},
	}
}

// Fetch issues every sub-read concurrently and joins them. A failed
// sub-read leaves its field nil and is reported in the returned slice; it
// never affects the other fields.
func (p *Poller) Fetch(ctx context.Context) (Partial, []*PartialReadError) {
	var (
		out    Partial
		wg     sync.WaitGroup
		errMu  sync.Mutex
		failed []*PartialReadError
	)
	for _, r := range p.reads() {
		wg.Add(1)
		go func(r read) {
			defer wg.Done()
			if err := r.fetch(ctx, &out); err != nil {
				errMu.Lock()
				failed = append(failed, &PartialReadError{Field: r.field, Err: err})
				errMu.Unlock()
			}
		}(r)
	}
	wg.Wait()

	for _, e := range failed {
		metrics.PartialReadFailures.WithLabelValues(string(e.Field)).Inc()
		p.logger.Warn("partial read failed, keeping stale value", "field", e.Field, "error", e.Err)
	}
	return out, failed
}

// Load performs the initial read. Every field is required.
func (p *Poller) Load(ctx context.Context) error {
	partial, failed := p.Fetch(ctx)
	if len(failed) > 0 {
		errs := make([]error, len(failed))
		for i, e := range failed {
			errs[i] = e
		}
		return fmt.Errorf("mirror: initial load: %w", errors.Join(errs...))
	}
	return p.mirror.Load(complete(partial))
}

// Refresh reads the chain and merges the result.
func (p *Poller) Refresh(ctx context.Context) {
	partial, _ := p.Fetch(ctx)
	if _, err := p.mirror.Update(partial); err != nil && !errors.Is(err, ErrStopped) {
		p.logger.Error("mirror update failed", "error", err)
	}
}

// Run loads the mirror, then refreshes on every new block until ctx is
// done or the mirror is stopped.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.Load(ctx); err != nil {
		return err
	}
	p.mirror.SetRefresher(func() { p.Refresh(ctx) })

	if p.blocks == nil {
		<-ctx.Done()
		p.mirror.Stop()
		return nil
	}

	blocks := make(chan uint64, 1)
	unsubscribe, err := p.blocks.SubscribeBlocks(ctx, blocks)
	if err != nil {
		p.logger.Warn("block subscription unavailable, relying on fallback refresh", "error", err)
		<-ctx.Done()
		p.mirror.Stop()
		return nil
	}
	p.mirror.OnStop(unsubscribe)
	defer p.mirror.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case block, ok := <-blocks:
			if !ok {
				return nil
			}
			p.logger.Debug("new block", "number", block)
			p.Refresh(ctx)
		}
	}
}

func complete(p Partial) Base {
	return Base{
		Price:                             *p.Price,
		NumberOfVaults:                    *p.NumberOfVaults,
		Total:                             *p.Total,
		TotalRedistributed:                *p.TotalRedistributed,
		VaultBeforeRedistribution:         *p.VaultBeforeRedistribution,
		RiskiestVaultBeforeRedistribution: *p.RiskiestVaultBeforeRedistribution,
		AccountBalance:                    *p.AccountBalance,
		BPDBalance:                        *p.BPDBalance,
		MPBalance:                         *p.MPBalance,
		CollateralSurplusBalance:          *p.CollateralSurplusBalance,
		BPDInStabilityPool:                *p.BPDInStabilityPool,
		StabilityDeposit:                  *p.StabilityDeposit,
		RemainingStabilityPoolMPReward:    *p.RemainingStabilityPoolMPReward,
		MPStake:                           *p.MPStake,
		TotalStakedMP:                     *p.TotalStakedMP,
		FeesInNormalMode:                  *p.FeesInNormalMode,
		BlockTimestamp:                    *p.BlockTimestamp,
	}
}
