package acl

import (
	"context"
	"errors"

	"golang.org/x/sync/singleflight"
)

// Oracle derives a user's capabilities on a diagram. An explicit membership
// wins; without one the owner of the parent project is an implicit Owner.
type Oracle struct {
	store  MembershipStore
	owners OwnerLookup
	group  singleflight.Group
}

// NewOracle creates a permission oracle.
func NewOracle(store MembershipStore, owners OwnerLookup) *Oracle {
	return &Oracle{store: store, owners: owners}
}

// Role returns the effective role of the user. The boolean is false when the
// user has no access at all.
func (o *Oracle) Role(ctx context.Context, docID, userID string) (Role, bool, error) {
	role, err := o.store.GetRole(ctx, docID, userID)
	if err == nil {
		return role, true, nil
	}

	if !errors.Is(err, ErrMembershipNotFound) {
		return 0, false, err
	}

	owner, err := o.projectOwner(ctx, docID)
	if err != nil {
		return 0, false, err
	}

	if owner != "" && owner == userID {
		return Owner, true, nil
	}

	return 0, false, nil
}

// projectOwner coalesces concurrent lookups for the same diagram. The shared
// lookup outlives any one caller; each caller stops waiting when its own ctx
// is done.
func (o *Oracle) projectOwner(ctx context.Context, docID string) (string, error) {
	ch := o.group.DoChan(docID, func() (any, error) {
		return o.owners.ProjectOwner(context.WithoutCancel(ctx), docID)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}

		return res.Val.(string), nil
	}
}

// Capabilities returns the capability set of the user.
func (o *Oracle) Capabilities(ctx context.Context, docID, userID string) (Capabilities, error) {
	role, ok, err := o.Role(ctx, docID, userID)
	if err != nil || !ok {
		return Capabilities{}, err
	}

	return role.Capabilities(), nil
}

// CanView reports whether the user may join and read the diagram.
func (o *Oracle) CanView(ctx context.Context, docID, userID string) (bool, error) {
	return o.can(ctx, docID, userID, CapView)
}

// CanEdit reports whether the user may mutate the diagram.
func (o *Oracle) CanEdit(ctx context.Context, docID, userID string) (bool, error) {
	return o.can(ctx, docID, userID, CapEdit)
}

// CanManageMembers reports whether the user may change memberships.
func (o *Oracle) CanManageMembers(ctx context.Context, docID, userID string) (bool, error) {
	return o.can(ctx, docID, userID, CapManageMembers)
}

func (o *Oracle) can(ctx context.Context, docID, userID string, capability Capability) (bool, error) {
	caps, err := o.Capabilities(ctx, docID, userID)
	if err != nil {
		return false, err
	}

	return caps.Has(capability), nil
}

// Require returns ErrAccessDenied unless the user holds the capability.
func (o *Oracle) Require(ctx context.Context, docID, userID string, capability Capability) error {
	allowed, err := o.can(ctx, docID, userID, capability)
	if err != nil {
		return err
	}

	if !allowed {
		return ErrAccessDenied
	}

	return nil
}
