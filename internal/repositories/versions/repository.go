package versions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/revsync/revsync/internal/models"
)

// Repository persists TuneVersion records. Status writes are conditional on
// the current status so that lifecycle transitions stay monotonic even under
// concurrent callers.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.TuneVersion, error)

	// MarkValidating moves UPLOADED -> VALIDATING. It is the concurrency
	// guard: a second caller gets common.ErrAlreadyValidating.
	MarkValidating(ctx context.Context, id uuid.UUID) error

	// MarkFailed moves VALIDATING -> FAILED.
	MarkFailed(ctx context.Context, id uuid.UUID) error

	// SetValidationSuccess writes, in one statement, the terminal fields of
	// a successful run: target status, validated path, the three hashes,
	// signature, key id, manifest, declared size, and timestamps.
	SetValidationSuccess(ctx context.Context, v *models.TuneVersion) error

	// Suspend conditionally moves the version to SUSPENDED with a reason
	// and acting identity. Returns false without error when the version was
	// already suspended.
	Suspend(ctx context.Context, id uuid.UUID, reason string, actor *uuid.UUID) (bool, error)

	// Archive moves SUSPENDED or PUBLISHED -> ARCHIVED, recording the
	// removal timestamp. Other source states get common.ErrNotRemovable.
	Archive(ctx context.Context, id uuid.UUID, removedAt time.Time) error
}
