// Package tuners provides PostgreSQL-backed persistence for publisher
// profiles and their enforcement counters.
package tuners

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/revsync/revsync/internal/common"
	"github.com/revsync/revsync/internal/dbx"
	"github.com/revsync/revsync/internal/models"
)

// PostgresRepository implements tuner profile storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.TunerProfile, error) {
	query := `
		SELECT user_id, tier, is_suspended, failed_upload_count,
		       malware_strike_count, upload_banned_until, created_at, updated_at
		FROM tuner_profiles WHERE user_id = $1
	`
	var p models.TunerProfile
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID, &p.Tier, &p.IsSuspended, &p.FailedUploadCount,
		&p.MalwareStrikes, &p.UploadBannedUntil, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select tuner profile: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) IncrementFailures(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
		UPDATE tuner_profiles
		SET failed_upload_count = failed_upload_count + 1, updated_at = now()
		WHERE user_id = $1
		RETURNING failed_upload_count
	`
	var count int
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, common.ErrorNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment failures: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) SetUploadBan(ctx context.Context, userID uuid.UUID, until time.Time) error {
	query := `
		UPDATE tuner_profiles SET upload_banned_until = $2, updated_at = now()
		WHERE user_id = $1
	`
	res, err := r.db.ExecContext(ctx, query, userID, until)
	if err != nil {
		return fmt.Errorf("set upload ban: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) RecordMalwareStrike(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
		UPDATE tuner_profiles
		SET is_suspended = TRUE, malware_strike_count = malware_strike_count + 1, updated_at = now()
		WHERE user_id = $1
		RETURNING malware_strike_count
	`
	var strikes int
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&strikes)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, common.ErrorNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("record malware strike: %w", err)
	}
	return strikes, nil
}
