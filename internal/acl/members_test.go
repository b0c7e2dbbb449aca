package acl_test

import (
	"context"
	"errors"
	"testing"

	"github.com/serroba/online-diagrams/internal/acl"
	"github.com/stretchr/testify/require"
)

func TestOracle_ManageMembers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	oracle, _ := newOracle(t)

	m, err := oracle.AddMember(ctx, "owner", "doc1", "bob", acl.Viewer)
	require.NoError(t, err)
	require.Equal(t, acl.Membership{DocumentID: "doc1", UserID: "bob", Role: acl.Viewer}, m)

	_, err = oracle.ChangeRole(ctx, "owner", "doc1", "bob", acl.Editor)
	require.NoError(t, err)

	canEdit, err := oracle.CanEdit(ctx, "doc1", "bob")
	require.NoError(t, err)
	require.True(t, canEdit)

	members, err := oracle.ListMembers(ctx, "owner", "doc1")
	require.NoError(t, err)
	require.Len(t, members, 1)

	require.NoError(t, oracle.RemoveMember(ctx, "owner", "doc1", "bob"))

	canView, err := oracle.CanView(ctx, "doc1", "bob")
	require.NoError(t, err)
	require.False(t, canView)
}

func TestOracle_ManageMembers_RequiresOwner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	oracle, store := newOracle(t)

	require.NoError(t, store.Grant(ctx, "doc1", "editor", acl.Editor))

	_, err := oracle.AddMember(ctx, "editor", "doc1", "eve", acl.Owner)
	if !errors.Is(err, acl.ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}

	_, err = store.GetRole(ctx, "doc1", "eve")
	require.ErrorIs(t, err, acl.ErrMembershipNotFound)

	err = oracle.RemoveMember(ctx, "editor", "doc1", "owner")
	require.ErrorIs(t, err, acl.ErrAccessDenied)

	_, err = oracle.ListMembers(ctx, "editor", "doc1")
	require.ErrorIs(t, err, acl.ErrAccessDenied)
}

func TestOracle_ChangeRole_NotMember(t *testing.T) {
	t.Parallel()

	oracle, _ := newOracle(t)

	_, err := oracle.ChangeRole(context.Background(), "owner", "doc1", "ghost", acl.Editor)
	require.ErrorIs(t, err, acl.ErrMembershipNotFound)
}
