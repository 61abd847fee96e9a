package models

import (
	"time"

	"github.com/google/uuid"
)

// ValidationReport holds the outcome of the latest pipeline run for a
// version. Exactly one report exists per version: re-running validation
// overwrites it.
type ValidationReport struct {
	VersionID uuid.UUID
	IsPassed  bool
	// Results maps stage name to its outcome string ("PASS", a scan
	// message, a hash value, ...).
	Results map[string]string
	// Blockers are the ordered fatal errors of the run; empty on success.
	Blockers []string
	// Warnings are ordered non-blocking findings.
	Warnings  []string
	UpdatedAt time.Time
}
