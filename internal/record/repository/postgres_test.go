package repository

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-realtime/backend/internal/db"
	"collab-realtime/backend/internal/db/migrate"
	"collab-realtime/backend/internal/record"
	"collab-realtime/backend/internal/session/domain"
)

// openTestStore connects to TEST_DATABASE_URL, migrates it, and skips when the variable is unset.
func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, migrate.Run(dsn, "up", 0))
	conn, err := db.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = conn.Exec(`DELETE FROM collab_records WHERE resource_kind = 'proposal' AND resource_id = 990001`)
		_ = conn.Close()
	})
	return NewPostgresStore(conn)
}

func TestPostgresStore_LoadMissingRecord(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Load(context.Background(), domain.ResourceProposal, 990001, "")
	assert.ErrorIs(t, err, record.ErrLoadFailed)
}

func TestPostgresStore_SaveThenLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &record.Record{Fields: map[string]json.RawMessage{
		"comment":   json.RawMessage(`{"type":"doc","content":[]}`),
		"reasoning": nil,
	}}
	require.NoError(t, s.Save(ctx, domain.ResourceProposal, 990001, first, ""))

	second := &record.Record{Fields: map[string]json.RawMessage{"comment": json.RawMessage(`{"type":"doc"}`)}}
	require.NoError(t, s.Save(ctx, domain.ResourceProposal, 990001, second, ""))

	rec, err := s.Load(ctx, domain.ResourceProposal, 990001, "ignored")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"doc"}`, string(rec.Fields["comment"]))
	assert.JSONEq(t, `null`, string(rec.Fields["reasoning"]))
	require.NoError(t, s.Ping(ctx))
}
