// Package auditlog provides the append-only PostgreSQL audit trail for
// state-changing actions.
package auditlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/revsync/revsync/internal/dbx"
)

// PostgresRepository implements audit appends over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, actor *uuid.UUID, action string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	query := `
		INSERT INTO audit_log (actor_user_id, action, data) VALUES ($1, $2, $3)
	`
	if _, err := r.db.ExecContext(ctx, query, actor, action, payload); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}
