// Package common defines shared sentinel errors used across the RevSync
// validation service. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Version state machine errors.
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyValidating = errors.New("validation already in progress")

	// Enforcement errors.
	ErrProfileNotFound = errors.New("tuner profile not found")
	ErrNotRemovable    = errors.New("version is not in a removable state")

	// Signing errors.
	ErrEphemeralForbidden = errors.New("ephemeral signing key forbidden in production")

	// Scanner errors.
	ErrScannerUnavailable = errors.New("malware scanner unavailable")
)
