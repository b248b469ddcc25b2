// Package repository is the record store backed by the collab_records Postgres table.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"collab-realtime/backend/internal/record"
	"collab-realtime/backend/internal/session/domain"
)

// PostgresStore keeps one row per (resource kind, resource id, field). It trusts the caller's
// authorization and ignores the credential.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a store over db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const loadQuery = `SELECT field, content FROM collab_records WHERE resource_kind = $1 AND resource_id = $2`

const upsertQuery = `INSERT INTO collab_records (resource_kind, resource_id, field, content, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (resource_kind, resource_id, field)
DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at`

// Load returns every stored field of the record. A record with no rows is ErrLoadFailed.
func (s *PostgresStore) Load(ctx context.Context, kind domain.ResourceKind, id int64, _ string) (*record.Record, error) {
	rows, err := s.db.QueryContext(ctx, loadQuery, string(kind), id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", record.ErrLoadFailed, err)
	}
	defer rows.Close()

	fields := make(map[string]json.RawMessage)
	for rows.Next() {
		var field string
		var content []byte
		if err := rows.Scan(&field, &content); err != nil {
			return nil, fmt.Errorf("%w: %v", record.ErrLoadFailed, err)
		}
		fields[field] = json.RawMessage(content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", record.ErrLoadFailed, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no record for %s", record.ErrLoadFailed, domain.DocumentName(kind, id))
	}
	return &record.Record{Fields: fields}, nil
}

// Save upserts every field of rec in one transaction.
func (s *PostgresStore) Save(ctx context.Context, kind domain.ResourceKind, id int64, rec *record.Record, _ string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", record.ErrSaveFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertQuery)
	if err != nil {
		return fmt.Errorf("%w: %v", record.ErrSaveFailed, err)
	}
	defer stmt.Close()

	for field, content := range rec.Fields {
		if len(content) == 0 {
			content = json.RawMessage("null")
		}
		if _, err := stmt.ExecContext(ctx, string(kind), id, field, []byte(content)); err != nil {
			return fmt.Errorf("%w: %s: %v", record.ErrSaveFailed, field, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", record.ErrSaveFailed, err)
	}
	return nil
}

// Ping checks the database. Used by the health checker.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
