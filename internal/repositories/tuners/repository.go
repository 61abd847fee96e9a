package tuners

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/revsync/revsync/internal/models"
)

// Repository persists publisher (tuner) profiles. Counter mutations are
// single-statement read-modify-write updates so concurrent failure reports
// for the same publisher cannot lose increments.
type Repository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.TunerProfile, error)

	// IncrementFailures adds one to the rolling failure counter and returns
	// the new value.
	IncrementFailures(ctx context.Context, userID uuid.UUID) (int, error)

	// SetUploadBan records a time-boxed upload ban.
	SetUploadBan(ctx context.Context, userID uuid.UUID, until time.Time) error

	// RecordMalwareStrike suspends the account and adds one malware strike
	// in a single statement, returning the new strike count.
	RecordMalwareStrike(ctx context.Context, userID uuid.UUID) (int, error)
}
