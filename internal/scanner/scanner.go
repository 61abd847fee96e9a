// Package scanner provides the pluggable malware scan stage: a minimal
// clamd INSTREAM client and a magic-byte heuristic fallback.
package scanner

import "context"

// Scanner checks one file for malware. clean reports the verdict and
// message carries the scanner's finding (signature name or reason) when
// not clean. A non-nil error means the scan could not be performed at all.
type Scanner interface {
	// Mode is the label recorded in the validation report, so a reviewer
	// can tell an authoritative verdict from heuristic triage.
	Mode() string
	Scan(ctx context.Context, path string) (clean bool, message string, err error)
}
