package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-realtime/backend/internal/security"
	"collab-realtime/backend/internal/session/domain"
)

func newResolver(t *testing.T) (*Resolver, *security.Issuer) {
	t.Helper()
	issuer, err := security.NewTestIssuer()
	require.NoError(t, err)
	verifier, err := security.NewTestVerifier(nil)
	require.NoError(t, err)
	return NewResolver(verifier), issuer
}

func TestResolveDocument_AuthorizedProject(t *testing.T) {
	r, issuer := newResolver(t)
	token, exp, err := issuer.Issue(security.Claims{UserID: 5, EditableProjects: []int64{42}}, 3600*time.Second)
	require.NoError(t, err)

	ctx, err := r.ResolveDocument(token, "project-42")
	require.NoError(t, err)
	assert.Equal(t, domain.ResourceProject, ctx.ResourceKind)
	assert.Equal(t, int64(42), ctx.ResourceID)
	assert.Equal(t, int64(5), ctx.UserID)
	assert.Equal(t, token, ctx.Credential)
	assert.WithinDuration(t, exp, ctx.ExpiresAt, time.Second)
	assert.Equal(t, "project-42", ctx.DocumentName())
}

func TestResolveDocument_ProposalWithProjectOnlyGrant(t *testing.T) {
	r, issuer := newResolver(t)
	token, _, err := issuer.Issue(security.Claims{UserID: 5, EditableProjects: []int64{7}}, time.Hour)
	require.NoError(t, err)

	_, err = r.ResolveDocument(token, "proposal-7")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestResolve_AuthorizedSetMembership(t *testing.T) {
	r, issuer := newResolver(t)
	granted := []int64{1, 2, 3, 1000}
	token, _, err := issuer.Issue(security.Claims{UserID: 9, EditableProposals: granted}, time.Hour)
	require.NoError(t, err)

	for _, id := range granted {
		ctx, err := r.Resolve(token, domain.ResourceProposal, id)
		require.NoError(t, err, "id %d", id)
		assert.Equal(t, id, ctx.ResourceID)
	}
	for _, id := range []int64{4, 999, 1001} {
		ctx, err := r.Resolve(token, domain.ResourceProposal, id)
		assert.ErrorIs(t, err, domain.ErrUnauthorized, "id %d", id)
		assert.Zero(t, ctx)
	}
}

func TestResolve_Errors(t *testing.T) {
	r, issuer := newResolver(t)
	valid, _, err := issuer.Issue(security.Claims{UserID: 1, EditableProjects: []int64{1}}, time.Hour)
	require.NoError(t, err)
	expired, _, err := issuer.Issue(security.Claims{UserID: 1, EditableProjects: []int64{1}}, -time.Second)
	require.NoError(t, err)

	tests := []struct {
		name       string
		credential string
		kind       domain.ResourceKind
		want       error
	}{
		{"missing", "", domain.ResourceProject, domain.ErrCredentialMissing},
		{"garbage", "not-a-jwt", domain.ResourceProject, domain.ErrCredentialInvalid},
		{"tampered", valid + "x", domain.ResourceProject, domain.ErrCredentialInvalid},
		{"expired", expired, domain.ResourceProject, domain.ErrCredentialExpired},
		{"unknown kind", valid, domain.ResourceKind("invoice"), domain.ErrUnknownResourceKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.credential, tt.kind, 1)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestResolveDocument_RejectsBeforeVerification(t *testing.T) {
	r, _ := newResolver(t)
	_, err := r.ResolveDocument("whatever", "project")
	assert.ErrorIs(t, err, domain.ErrInvalidDocumentName)
	_, err = r.ResolveDocument("whatever", "invoice-3")
	assert.ErrorIs(t, err, domain.ErrUnknownResourceKind)
	_, err = r.ResolveDocument("", "project-3")
	assert.ErrorIs(t, err, domain.ErrCredentialMissing)
}
