// Package versions provides PostgreSQL-backed persistence for TuneVersion
// lifecycle state and validation results.
package versions

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

// PostgresRepository implements version storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectVersion = `
	SELECT id, listing_id, version_number, status,
	       quarantine_path, validated_path,
	       tune_hash_sha256, manifest_hash_sha256, package_hash_sha256,
	       signature_base64, signing_key_id,
	       manifest_data, file_size_bytes,
	       suspension_reason, suspended_by,
	       signed_at, published_at, removed_at, created_at, updated_at
	FROM tune_versions WHERE id = $1
`

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TuneVersion, error) {
	var v models.TuneVersion
	var manifest []byte
	err := r.db.QueryRowContext(ctx, selectVersion, id).Scan(
		&v.ID, &v.ListingID, &v.VersionNumber, &v.Status,
		&v.QuarantinePath, &v.ValidatedPath,
		&v.TuneHashSHA256, &v.ManifestHashSHA256, &v.PackageHashSHA256,
		&v.SignatureBase64, &v.SigningKeyID,
		&manifest, &v.FileSizeBytes,
		&v.SuspensionReason, &v.SuspendedBy,
		&v.SignedAt, &v.PublishedAt, &v.RemovedAt, &v.CreatedAt, &v.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select version: %w", err)
	}
	v.ManifestData = manifest
	return &v, nil
}

func (r *PostgresRepository) MarkValidating(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE tune_versions SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
	`
	res, err := r.db.ExecContext(ctx, query, id, models.StatusValidating, models.StatusUploaded)
	if err != nil {
		return fmt.Errorf("mark validating: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrAlreadyValidating
	}
	return nil
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE tune_versions SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
	`
	res, err := r.db.ExecContext(ctx, query, id, models.StatusFailed, models.StatusValidating)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrInvalidTransition
	}
	return nil
}

func (r *PostgresRepository) SetValidationSuccess(ctx context.Context, v *models.TuneVersion) error {
	query := `
		UPDATE tune_versions SET
			status = $2,
			validated_path = $3,
			tune_hash_sha256 = $4,
			manifest_hash_sha256 = $5,
			package_hash_sha256 = $6,
			signature_base64 = $7,
			signing_key_id = $8,
			manifest_data = $9,
			file_size_bytes = $10,
			signed_at = $11,
			published_at = $12,
			updated_at = now()
		WHERE id = $1 AND status = $13
	`
	res, err := r.db.ExecContext(ctx, query,
		v.ID, v.Status, v.ValidatedPath,
		v.TuneHashSHA256, v.ManifestHashSHA256, v.PackageHashSHA256,
		v.SignatureBase64, v.SigningKeyID,
		[]byte(v.ManifestData), v.FileSizeBytes,
		v.SignedAt, v.PublishedAt,
		models.StatusValidating,
	)
	if err != nil {
		return fmt.Errorf("set validation success: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrInvalidTransition
	}
	return nil
}

func (r *PostgresRepository) Suspend(ctx context.Context, id uuid.UUID, reason string, actor *uuid.UUID) (bool, error) {
	query := `
		UPDATE tune_versions
		SET status = $2, suspension_reason = $3, suspended_by = $4, updated_at = now()
		WHERE id = $1 AND status <> $2 AND status <> $5
	`
	res, err := r.db.ExecContext(ctx, query, id, models.StatusSuspended, reason, actor, models.StatusArchived)
	if err != nil {
		return false, fmt.Errorf("suspend version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Archive(ctx context.Context, id uuid.UUID, removedAt time.Time) error {
	query := `
		UPDATE tune_versions SET status = $2, removed_at = $3, updated_at = now()
		WHERE id = $1 AND status IN ($4, $5)
	`
	res, err := r.db.ExecContext(ctx, query, id, models.StatusArchived, removedAt,
		models.StatusSuspended, models.StatusPublished)
	if err != nil {
		return fmt.Errorf("archive version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrNotRemovable
	}
	return nil
}
