// Package reports provides PostgreSQL-backed persistence for validation
// reports, keyed by version id so re-running a pipeline overwrites the
// previous report.
package reports

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/revsync/revsync/internal/common"
	"github.com/revsync/revsync/internal/dbx"
	"github.com/revsync/revsync/internal/models"
)

// PostgresRepository implements report storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, report *models.ValidationReport) error {
	results, err := json.Marshal(orEmptyMap(report.Results))
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	blockers, err := json.Marshal(orEmptyList(report.Blockers))
	if err != nil {
		return fmt.Errorf("marshal blockers: %w", err)
	}
	warnings, err := json.Marshal(orEmptyList(report.Warnings))
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}

	query := `
		INSERT INTO validation_reports (version_id, is_passed, results, blockers, warnings, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (version_id)
		DO UPDATE SET
			is_passed = EXCLUDED.is_passed,
			results = EXCLUDED.results,
			blockers = EXCLUDED.blockers,
			warnings = EXCLUDED.warnings,
			updated_at = now();
	`
	if _, err := r.db.ExecContext(ctx, query, report.VersionID, report.IsPassed, results, blockers, warnings); err != nil {
		return fmt.Errorf("upsert report: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByVersionID(ctx context.Context, versionID uuid.UUID) (*models.ValidationReport, error) {
	query := `
		SELECT version_id, is_passed, results, blockers, warnings, updated_at
		FROM validation_reports WHERE version_id = $1
	`
	var rep models.ValidationReport
	var results, blockers, warnings []byte
	err := r.db.QueryRowContext(ctx, query, versionID).Scan(
		&rep.VersionID, &rep.IsPassed, &results, &blockers, &warnings, &rep.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select report: %w", err)
	}
	if err := json.Unmarshal(results, &rep.Results); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	if err := json.Unmarshal(blockers, &rep.Blockers); err != nil {
		return nil, fmt.Errorf("decode blockers: %w", err)
	}
	if err := json.Unmarshal(warnings, &rep.Warnings); err != nil {
		return nil, fmt.Errorf("decode warnings: %w", err)
	}
	return &rep, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptyList(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
