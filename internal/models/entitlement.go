package models

import (
	"time"

	"github.com/google/uuid"
)

// Entitlement is a buyer's proof of access to a listing's validated
// artifact. Revoked in bulk when a version is removed by enforcement.
type Entitlement struct {
	ID          uuid.UUID
	ListingID   uuid.UUID
	BuyerUserID uuid.UUID
	IsRevoked   bool
	CreatedAt   time.Time
}
