package repomanager

import (
	"github.com/revsync/revsync/internal/dbx"
	"github.com/revsync/revsync/internal/repositories/auditlog"
	"github.com/revsync/revsync/internal/repositories/entitlements"
	"github.com/revsync/revsync/internal/repositories/listings"
	"github.com/revsync/revsync/internal/repositories/reports"
	"github.com/revsync/revsync/internal/repositories/tuners"
	"github.com/revsync/revsync/internal/repositories/versions"
)

// RepositoryManager hands out repositories bound to a DBTX, so callers can
// run several repository operations inside one transaction by passing the
// same tx handle.
type RepositoryManager interface {
	Versions(db dbx.DBTX) versions.Repository
	Reports(db dbx.DBTX) reports.Repository
	Tuners(db dbx.DBTX) tuners.Repository
	Listings(db dbx.DBTX) listings.Repository
	Entitlements(db dbx.DBTX) entitlements.Repository
	Audit(db dbx.DBTX) auditlog.Repository
}
