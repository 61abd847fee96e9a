package reports

import (
	"context"

	"github.com/google/uuid"
	"github.com/revsync/revsync/internal/models"
)

// Repository persists ValidationReports. There is exactly one report per
// version; Upsert overwrites any previous run's report.
type Repository interface {
	Upsert(ctx context.Context, report *models.ValidationReport) error
	GetByVersionID(ctx context.Context, versionID uuid.UUID) (*models.ValidationReport, error)
}
