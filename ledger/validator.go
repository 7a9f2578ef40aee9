/*
validator.go - Structural validation of proposed trades

PURPOSE:
  Turns a TradeProposal into fully-resolved TradeLines or a structured
  rejection. Performs reads only; a proposal that fails any check leaves no
  trace, and the whole trade is rejected on the first violation.

CHECKS, IN ORDER (fail fast):
  1. Header default locations belong to the calling tenant
  2. Per line: quantity > 0 and a recognized direction label
  3. Per line, per side: exactly one of {user, location} after filling the
     header default in for a missing location (user XOR location)
  4. Users referenced on either side are members of the calling tenant
  5. The reason code, when given, exists and is active for the tenant
  6. A side resolving to an external location requires the other side to be
     an internal location, never a user

The engine runs validation inside the same transaction as the writes, so
membership and location facts cannot change between check and commit.
*/
package ledger

import (
	"context"
	"fmt"
)

// Validator checks proposals against the catalog. It performs no writes.
type Validator struct {
	catalog Catalog
}

func NewValidator(catalog Catalog) *Validator {
	return &Validator{catalog: catalog}
}

// resolvedSide is one side of a line after party resolution, carrying the
// location row when the party is a location so the external rule can be
// checked without refetching.
type resolvedSide struct {
	party Party
	loc   *Location // nil when the party is a user
}

// ValidateTrade resolves and checks every line of the proposal. On success
// it returns lines ready for persistence (IDs unassigned); on failure it
// returns a HeaderError or LineError unwrapping to a validation sentinel.
func (v *Validator) ValidateTrade(ctx context.Context, p TradeProposal) ([]TradeLine, error) {
	if err := v.checkHeaderLocation(ctx, p.Tenant, p.DefaultFrom, "from_location"); err != nil {
		return nil, err
	}
	if err := v.checkHeaderLocation(ctx, p.Tenant, p.DefaultTo, "to_location"); err != nil {
		return nil, err
	}

	lines := make([]TradeLine, 0, len(p.Lines))
	for i, ln := range p.Lines {
		if ln.Quantity <= 0 {
			return nil, &LineError{Index: i, Err: ErrInvalidQuantity,
				Detail: fmt.Sprintf("quantity must be positive, got %d", ln.Quantity)}
		}
		if !ln.Direction.Valid() {
			return nil, &LineError{Index: i, Err: ErrInvalidQuantity,
				Detail: fmt.Sprintf("unrecognized direction %q", ln.Direction)}
		}

		from, err := v.resolveSide(ctx, p.Tenant, i, "from", ln.FromUser, ln.FromLocation, p.DefaultFrom)
		if err != nil {
			return nil, err
		}
		to, err := v.resolveSide(ctx, p.Tenant, i, "to", ln.ToUser, ln.ToLocation, p.DefaultTo)
		if err != nil {
			return nil, err
		}

		if ln.Reason != "" {
			reason, err := v.catalog.ActiveReason(ctx, p.Tenant, ln.Reason)
			if err != nil {
				return nil, err
			}
			if reason == nil {
				return nil, &LineError{Index: i, Err: ErrInvalidReason,
					Detail: fmt.Sprintf("reason %q does not exist or is inactive for tenant", ln.Reason)}
			}
		}

		// External boundary: an external location on one side requires an
		// internal location on the other. Users never face the boundary
		// directly.
		if err := checkExternalRule(i, from, to); err != nil {
			return nil, err
		}

		lines = append(lines, TradeLine{
			ItemID:    ln.ItemID,
			Quantity:  ln.Quantity,
			Direction: ln.Direction,
			From:      from.party,
			To:        to.party,
			Reason:    ln.Reason,
		})
	}

	return lines, nil
}

func (v *Validator) checkHeaderLocation(ctx context.Context, tenant TenantID, id *LocationID, field string) error {
	if id == nil {
		return nil
	}
	loc, err := v.catalog.Location(ctx, tenant, *id)
	if err != nil {
		return err
	}
	if loc == nil {
		return &HeaderError{Field: field, Err: ErrInvalidParty,
			Detail: fmt.Sprintf("location %d is not in your tenant", *id)}
	}
	return nil
}

// resolveSide applies the header default and enforces the XOR invariant,
// then verifies membership or location ownership for the chosen party.
func (v *Validator) resolveSide(ctx context.Context, tenant TenantID, idx int, side string, user *UserID, loc, fallback *LocationID) (resolvedSide, error) {
	locID := loc
	if locID == nil {
		locID = fallback
	}

	hasUser := user != nil
	hasLoc := locID != nil

	if hasUser && hasLoc {
		return resolvedSide{}, &LineError{Index: idx, Side: side, Err: ErrInvalidParty,
			Detail: "both a user and a location given (header default counts); provide exactly one"}
	}
	if !hasUser && !hasLoc {
		return resolvedSide{}, &LineError{Index: idx, Side: side, Err: ErrInvalidParty,
			Detail: "no party given and no header default to fall back on"}
	}

	if hasUser {
		member, err := v.catalog.IsMember(ctx, tenant, *user)
		if err != nil {
			return resolvedSide{}, err
		}
		if !member {
			return resolvedSide{}, &LineError{Index: idx, Side: side, Err: ErrCrossTenantUser,
				Detail: fmt.Sprintf("user %d is not a member of your tenant", *user)}
		}
		return resolvedSide{party: UserParty(*user)}, nil
	}

	l, err := v.catalog.Location(ctx, tenant, *locID)
	if err != nil {
		return resolvedSide{}, err
	}
	if l == nil {
		return resolvedSide{}, &LineError{Index: idx, Side: side, Err: ErrInvalidParty,
			Detail: fmt.Sprintf("location %d is not in your tenant", *locID)}
	}
	return resolvedSide{party: LocationParty(*locID), loc: l}, nil
}

func checkExternalRule(idx int, from, to resolvedSide) error {
	if from.loc != nil && from.loc.External {
		if _, isUser := to.party.User(); isUser {
			return &LineError{Index: idx, Side: "to", Err: ErrExternalBoundary,
				Detail: fmt.Sprintf("items from external location %q must land in an internal location", from.loc.Code)}
		}
		if to.loc == nil || to.loc.External {
			return &LineError{Index: idx, Side: "to", Err: ErrExternalBoundary,
				Detail: "external locations trade only with internal locations"}
		}
	}
	if to.loc != nil && to.loc.External {
		if _, isUser := from.party.User(); isUser {
			return &LineError{Index: idx, Side: "from", Err: ErrExternalBoundary,
				Detail: fmt.Sprintf("items into external location %q must come from an internal location", to.loc.Code)}
		}
		if from.loc == nil || from.loc.External {
			return &LineError{Index: idx, Side: "from", Err: ErrExternalBoundary,
				Detail: "external locations trade only with internal locations"}
		}
	}
	return nil
}
