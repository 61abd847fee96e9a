// Package models defines the persistent domain records of the validation
// service: tune versions, validation reports, tuner profiles, listings,
// entitlements, and audit entries.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a TuneVersion. The transition table below
// documents the normal lifecycle. Repository writes are guarded by
// conditional UPDATEs; moderation may step outside the normal flow (a FAILED
// or DRAFT version can still be suspended).
type Status string

const (
	StatusDraft          Status = "DRAFT"
	StatusUploaded       Status = "UPLOADED"
	StatusValidating     Status = "VALIDATING"
	StatusFailed         Status = "FAILED"
	StatusReadyForReview Status = "READY_FOR_REVIEW"
	StatusApproved       Status = "APPROVED"
	StatusPublished      Status = "PUBLISHED"
	StatusSuspended      Status = "SUSPENDED"
	StatusArchived       Status = "ARCHIVED"
)

// transitions lists the permitted next states per state. FAILED loops back
// to DRAFT so a publisher can fix and re-upload. ARCHIVED is terminal.
var transitions = map[Status][]Status{
	StatusDraft:          {StatusUploaded},
	StatusUploaded:       {StatusValidating},
	StatusValidating:     {StatusFailed, StatusReadyForReview, StatusApproved, StatusPublished, StatusSuspended},
	StatusFailed:         {StatusDraft},
	StatusReadyForReview: {StatusApproved, StatusSuspended},
	StatusApproved:       {StatusPublished, StatusSuspended},
	StatusPublished:      {StatusSuspended, StatusArchived},
	StatusSuspended:      {StatusArchived},
	StatusArchived:       {},
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle
// step.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// TuneVersion is an immutable-once-published unit of distributable content.
// Hashes and the signature are set exactly once, by the single successful
// pipeline run that moves the version out of VALIDATING.
type TuneVersion struct {
	ID            uuid.UUID
	ListingID     uuid.UUID
	VersionNumber string
	Status        Status

	QuarantinePath string
	ValidatedPath  string

	TuneHashSHA256     string
	ManifestHashSHA256 string
	PackageHashSHA256  string
	SignatureBase64    string
	SigningKeyID       string

	ManifestData  json.RawMessage
	FileSizeBytes int64

	SuspensionReason string
	SuspendedBy      *uuid.UUID

	SignedAt    *time.Time
	PublishedAt *time.Time
	RemovedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
