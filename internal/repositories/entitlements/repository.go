package entitlements

import (
	"context"

	"github.com/google/uuid"
)

// Repository mutates buyer entitlements. Only bulk revocation is needed by
// the enforcement service; purchases are created elsewhere.
type Repository interface {
	// RevokeForListing revokes every non-revoked entitlement of a listing
	// and returns the number of rows revoked.
	RevokeForListing(ctx context.Context, listingID uuid.UUID) (int64, error)
}
