package vault

import (
	"errors"
	"fmt"
)

// ErrDomainInvariant is wrapped by every error that signals a caller
// broke a vault invariant. These are programming errors, never user-facing
// conditions, and are never coerced into a valid result.
var ErrDomainInvariant = errors.New("vault: domain invariant violated")

var (
	ErrCreateOntoExisting        = fmt.Errorf("%w: can't create onto existing vault", ErrDomainInvariant)
	ErrCloseEmpty                = fmt.Errorf("%w: can't close empty vault", ErrDomainInvariant)
	ErrMissingLiquidationReserve = fmt.Errorf("%w: net debt below minimum", ErrDomainInvariant)
	ErrNotCreation               = fmt.Errorf("%w: change is not a creation", ErrDomainInvariant)
	ErrEmptyAdjustment           = fmt.Errorf("%w: adjustment moves nothing", ErrDomainInvariant)
	ErrNotAdjustment             = fmt.Errorf("%w: change is not an adjustment", ErrDomainInvariant)
	ErrConflictingChange         = fmt.Errorf("%w: conflicting change fields", ErrDomainInvariant)
	ErrUnknownChange             = fmt.Errorf("%w: unknown change type", ErrDomainInvariant)
)
