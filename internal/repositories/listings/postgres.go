// Package listings provides read access to tune listings for the
// validation pipeline's fitment cross-check.
package listings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/revsync/revsync/internal/common"
	"github.com/revsync/revsync/internal/dbx"
	"github.com/revsync/revsync/internal/models"
)

// PostgresRepository implements listing reads over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TuneListing, error) {
	query := `
		SELECT id, tuner_user_id, vehicle_make, vehicle_model, created_at, updated_at
		FROM tune_listings WHERE id = $1
	`
	var l models.TuneListing
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&l.ID, &l.TunerUserID, &l.VehicleMake, &l.VehicleModel, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select listing: %w", err)
	}
	return &l, nil
}
