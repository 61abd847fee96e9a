package listings

import (
	"context"

	"github.com/google/uuid"
	"github.com/revsync/revsync/internal/models"
)

// Repository reads listing records. The pipeline only needs the publisher
// reference and declared fitment; listing CRUD lives in another service.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.TuneListing, error)
}
