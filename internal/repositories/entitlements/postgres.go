// Package entitlements provides PostgreSQL-backed revocation of buyer
// entitlements during enforcement takedowns.
package entitlements

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/revsync/revsync/internal/dbx"
)

// PostgresRepository implements entitlement mutations over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) RevokeForListing(ctx context.Context, listingID uuid.UUID) (int64, error) {
	query := `
		UPDATE entitlements SET is_revoked = TRUE
		WHERE listing_id = $1 AND is_revoked = FALSE
	`
	res, err := r.db.ExecContext(ctx, query, listingID)
	if err != nil {
		return 0, fmt.Errorf("revoke entitlements: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
