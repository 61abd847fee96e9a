package models

import (
	"time"

	"github.com/google/uuid"
)

// TuneListing is the sale unit a version belongs to. The pipeline reads only
// the publisher reference and the declared fitment; listing CRUD lives
// elsewhere.
type TuneListing struct {
	ID           uuid.UUID
	TunerUserID  uuid.UUID
	VehicleMake  string
	VehicleModel string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
