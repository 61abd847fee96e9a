package models

import (
	"time"

	"github.com/google/uuid"
)

// Tier classifies a publisher. Trusted tiers bypass manual review and
// auto-publish on pipeline success.
type Tier string

const (
	TierNew     Tier = "NEW"
	TierTrusted Tier = "TRUSTED"
)

// TunerProfile tracks a publisher's standing. Failure and strike counters
// persist indefinitely and are never reset automatically.
type TunerProfile struct {
	UserID            uuid.UUID
	Tier              Tier
	IsSuspended       bool
	FailedUploadCount int
	MalwareStrikes    int
	UploadBannedUntil *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UploadBanned reports whether the profile is under an active upload ban at
// the given instant.
func (p *TunerProfile) UploadBanned(now time.Time) bool {
	return p.UploadBannedUntil != nil && now.Before(*p.UploadBannedUntil)
}
