// Package service resolves bearer credentials into session contexts bound to one document resource.
package service

import (
	"errors"
	"slices"

	"collab-realtime/backend/internal/security"
	"collab-realtime/backend/internal/session/domain"
)

// Verifier is the minimal credential verifier needed by the resolver.
type Verifier interface {
	Verify(token string) (*security.Claims, error)
}

// Resolver verifies credentials and checks them against the per-kind authorization claim.
// It holds the verifier (and through it the key material) for the process lifetime.
type Resolver struct {
	verifier Verifier
}

// NewResolver returns a Resolver using verifier.
func NewResolver(verifier Verifier) *Resolver {
	return &Resolver{verifier: verifier}
}

// Resolve verifies credential and returns a session context for (kind, id).
// Errors: ErrCredentialMissing, ErrCredentialInvalid, ErrCredentialExpired, ErrUnknownResourceKind, ErrUnauthorized.
func (r *Resolver) Resolve(credential string, kind domain.ResourceKind, id int64) (domain.Context, error) {
	if credential == "" {
		return domain.Context{}, domain.ErrCredentialMissing
	}
	spec, ok := kind.Spec()
	if !ok {
		return domain.Context{}, domain.ErrUnknownResourceKind
	}
	claims, err := r.verifier.Verify(credential)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return domain.Context{}, domain.ErrCredentialExpired
		}
		return domain.Context{}, domain.ErrCredentialInvalid
	}
	if claims.ExpiresAt == nil {
		return domain.Context{}, domain.ErrCredentialInvalid
	}
	if !slices.Contains(claims.AuthorizedIDs(spec.Claim), id) {
		return domain.Context{}, domain.ErrUnauthorized
	}
	return domain.Context{
		ResourceKind: kind,
		ResourceID:   id,
		UserID:       claims.UserID,
		Credential:   credential,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

// ResolveDocument parses a "<kind>-<id>" document name and resolves credential against it.
func (r *Resolver) ResolveDocument(credential, documentName string) (domain.Context, error) {
	kind, id, err := domain.ParseDocumentName(documentName)
	if err != nil {
		return domain.Context{}, err
	}
	if credential == "" {
		return domain.Context{}, domain.ErrCredentialMissing
	}
	return r.Resolve(credential, kind, id)
}
