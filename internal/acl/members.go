package acl

import "context"

// AddMember grants or replaces a role on behalf of actorID.
func (o *Oracle) AddMember(ctx context.Context, actorID, docID, userID string, role Role) (Membership, error) {
	if err := o.Require(ctx, docID, actorID, CapManageMembers); err != nil {
		return Membership{}, err
	}

	if err := o.store.Grant(ctx, docID, userID, role); err != nil {
		return Membership{}, err
	}

	return Membership{DocumentID: docID, UserID: userID, Role: role}, nil
}

// ChangeRole updates an existing member's role on behalf of actorID.
func (o *Oracle) ChangeRole(ctx context.Context, actorID, docID, userID string, role Role) (Membership, error) {
	if err := o.Require(ctx, docID, actorID, CapManageMembers); err != nil {
		return Membership{}, err
	}

	if err := o.store.UpdateRole(ctx, docID, userID, role); err != nil {
		return Membership{}, err
	}

	return Membership{DocumentID: docID, UserID: userID, Role: role}, nil
}

// RemoveMember revokes a membership on behalf of actorID.
func (o *Oracle) RemoveMember(ctx context.Context, actorID, docID, userID string) error {
	if err := o.Require(ctx, docID, actorID, CapManageMembers); err != nil {
		return err
	}

	return o.store.Revoke(ctx, docID, userID)
}

// ListMembers returns the explicit memberships of a diagram.
func (o *Oracle) ListMembers(ctx context.Context, actorID, docID string) ([]Membership, error) {
	if err := o.Require(ctx, docID, actorID, CapManageMembers); err != nil {
		return nil, err
	}

	return o.store.ListMembers(ctx, docID)
}
