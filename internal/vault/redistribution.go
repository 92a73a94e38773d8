package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/moneyprotocol/engineering-sub002/internal/fixed"
)

// Status is the lifecycle state of a user's vault as recorded on chain.
type Status uint8

const (
	NonExistent Status = iota
	Open
	ClosedByOwner
	ClosedByLiquidation
	ClosedByRedemption
)

var statusNames = [...]string{
	NonExistent:         "non_existent",
	Open:                "open",
	ClosedByOwner:       "closed_by_owner",
	ClosedByLiquidation: "closed_by_liquidation",
	ClosedByRedemption:  "closed_by_redemption",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("vault: unknown status %q", text)
}

// UserVault is a vault owned by an address.
type UserVault struct {
	Owner  common.Address `json:"owner"`
	Status Status         `json:"status"`
	Vault
}

// Equal compares owner, status and amounts.
func (u UserVault) Equal(o UserVault) bool {
	return u.Owner == o.Owner && u.Status == o.Status && u.Vault.Equal(o.Vault)
}

// WithPendingRedistribution is a vault as last written by a direct
// modification, before liquidation redistributions are applied. Stake and
// Snapshot are frozen until the next direct modification.
type WithPendingRedistribution struct {
	UserVault
	Stake    fixed.Decimal `json:"stake"`
	Snapshot Vault         `json:"snapshot"`
}

// NonExistentVault returns the record of an owner without a vault. Its zero
// stake makes redistribution a no-op.
func NonExistentVault(owner common.Address) WithPendingRedistribution {
	return WithPendingRedistribution{UserVault: UserVault{Owner: owner, Status: NonExistent}}
}

// ApplyRedistribution returns the vault's effective amounts:
// v + (totalRedistributed - snapshot)·stake.
func (w WithPendingRedistribution) ApplyRedistribution(totalRedistributed Vault) UserVault {
	pending := totalRedistributed.Subtract(w.Snapshot).Multiply(w.Stake)
	return UserVault{Owner: w.Owner, Status: w.Status, Vault: w.Vault.Add(pending)}
}

// Resnapshot models a direct modification: pending redistribution is folded
// into the vault, and the snapshot moves to the current total with the
// given stake. Skipping it after a modification lets the vault re-absorb
// rewards it already received.
func (w WithPendingRedistribution) Resnapshot(totalRedistributed Vault, stake fixed.Decimal) WithPendingRedistribution {
	return WithPendingRedistribution{
		UserVault: w.ApplyRedistribution(totalRedistributed),
		Stake:     stake,
		Snapshot:  totalRedistributed,
	}
}

// Equal compares the vault together with its stake and snapshot.
func (w WithPendingRedistribution) Equal(o WithPendingRedistribution) bool {
	return w.UserVault.Equal(o.UserVault) && w.Stake.Eq(o.Stake) && w.Snapshot.Equal(o.Snapshot)
}

// ComputeStake returns the stake of a vault holding collateral, given the
// system-wide stake and collateral totals snapshotted at the last
// liquidation. Before any liquidation the stake equals the collateral.
func ComputeStake(collateral, totalStakesSnapshot, totalCollateralSnapshot fixed.Decimal) fixed.Decimal {
	if totalCollateralSnapshot.IsZero() {
		return collateral
	}
	return collateral.MulDiv(totalStakesSnapshot, totalCollateralSnapshot)
}
