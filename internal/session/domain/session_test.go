package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDocumentName(t *testing.T) {
	tests := []struct {
		name     string
		wantKind ResourceKind
		wantID   int64
		wantErr  error
	}{
		{"project-42", ResourceProject, 42, nil},
		{"proposal-7", ResourceProposal, 7, nil},
		{"project", "", 0, ErrInvalidDocumentName},
		{"-42", "", 0, ErrInvalidDocumentName},
		{"project-", "", 0, ErrInvalidDocumentName},
		{"project-abc", "", 0, ErrInvalidDocumentName},
		{"project-0", "", 0, ErrInvalidDocumentName},
		{"project--3", "", 0, ErrInvalidDocumentName},
		{"project-4-5", "", 0, ErrInvalidDocumentName},
		{"invoice-3", "", 0, ErrUnknownResourceKind},
		{"", "", 0, ErrInvalidDocumentName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, id, err := ParseDocumentName(tt.name)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.name, DocumentName(kind, id))
		})
	}
}

func TestKindTable(t *testing.T) {
	proposal, ok := ResourceProposal.Spec()
	require.True(t, ok)
	assert.Equal(t, "editableProposals", proposal.Claim)
	assert.True(t, ResourceProposal.Persisted())
	assert.ElementsMatch(t, []string{"actionMandate", "comment", "introduction", "reasoning"}, proposal.Fields)

	project, ok := ResourceProject.Spec()
	require.True(t, ok)
	assert.Equal(t, "editableProjects", project.Claim)
	assert.False(t, ResourceProject.Persisted())

	assert.False(t, ResourceKind("invoice").Valid())
	assert.False(t, ResourceKind("invoice").Persisted())
}

func TestContextExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := Context{ExpiresAt: now}
	assert.True(t, c.Expired(now))
	assert.True(t, c.Expired(now.Add(time.Second)))
	assert.False(t, c.Expired(now.Add(-time.Second)))
}
