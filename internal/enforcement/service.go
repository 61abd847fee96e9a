// Package enforcement implements the trust-and-safety operations on
// published content: version suspension, artifact removal, entitlement
// revocation, publisher escalation, and malware handling. Every operation
// is idempotent and leaves an audit trail.
package enforcement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/revsync/revsync/internal/common"
	"github.com/revsync/revsync/internal/dbx"
	"github.com/revsync/revsync/internal/logging"
	"github.com/revsync/revsync/internal/metrics"
	"github.com/revsync/revsync/internal/models"
	"github.com/revsync/revsync/internal/repositories/repomanager"
	"github.com/revsync/revsync/internal/storage"
)

// Options carries the escalation policy and the validated-area bucket.
type Options struct {
	ValidatedBucket  string
	WarningThreshold int           // failures before a warning entry
	BanThreshold     int           // failures before an upload ban
	BanDuration      time.Duration // length of the upload ban
}

// Service executes enforcement operations.
type Service struct {
	db    *sql.DB
	repos repomanager.RepositoryManager
	store storage.ObjectStorage
	log   logging.Logger
	opts  Options
	now   func() time.Time
}

func NewService(db *sql.DB, repos repomanager.RepositoryManager, store storage.ObjectStorage, log logging.Logger, opts Options) *Service {
	if opts.WarningThreshold == 0 {
		opts.WarningThreshold = 3
	}
	if opts.BanThreshold == 0 {
		opts.BanThreshold = 5
	}
	if opts.BanDuration == 0 {
		opts.BanDuration = 7 * 24 * time.Hour
	}
	return &Service{
		db:    db,
		repos: repos,
		store: store,
		log:   log.With("component", "enforcement"),
		opts:  opts,
		now:   time.Now,
	}
}

// SuspendVersion moves a version to SUSPENDED with a reason and acting
// identity. Already-suspended versions are a logged no-op.
func (s *Service) SuspendVersion(ctx context.Context, versionID uuid.UUID, reason string, actor *uuid.UUID) error {
	changed, err := s.repos.Versions(s.db).Suspend(ctx, versionID, reason, actor)
	if err != nil {
		return fmt.Errorf("suspend version %s: %w", versionID, err)
	}
	if !changed {
		s.log.Info(ctx, "version already suspended", "version_id", versionID)
		return nil
	}

	if err := s.repos.Audit(s.db).Append(ctx, actor, models.AuditSuspendVersion, map[string]any{
		"version_id": versionID,
		"reason":     reason,
	}); err != nil {
		return fmt.Errorf("audit suspension of %s: %w", versionID, err)
	}
	metrics.EnforcementActions.WithLabelValues(models.AuditSuspendVersion).Inc()
	s.log.Warn(ctx, "version suspended", "version_id", versionID, "reason", reason)
	return nil
}

// RemoveVersionArtifacts deletes the validated-area package, signature, and
// hashes artifacts of a SUSPENDED or PUBLISHED version and marks it
// ARCHIVED. The version row is retained for audit. An ARCHIVED version is a
// no-op.
func (s *Service) RemoveVersionArtifacts(ctx context.Context, versionID uuid.UUID, actor *uuid.UUID) error {
	v, err := s.repos.Versions(s.db).GetByID(ctx, versionID)
	if err != nil {
		return fmt.Errorf("load version %s: %w", versionID, err)
	}
	if v.Status == models.StatusArchived {
		s.log.Info(ctx, "version already archived", "version_id", versionID)
		return nil
	}
	if v.Status != models.StatusSuspended && v.Status != models.StatusPublished {
		return fmt.Errorf("remove artifacts of %s in status %s: %w", versionID, v.Status, common.ErrNotRemovable)
	}

	paths := storage.ValidatedPathsFor(v.ListingID, v.ID)
	for _, key := range []string{paths.Package, paths.Signature, paths.Hashes} {
		if err := s.store.Delete(ctx, s.opts.ValidatedBucket, key); err != nil {
			return fmt.Errorf("delete artifact %s: %w", key, err)
		}
	}

	removedAt := s.now().UTC()
	if err := s.repos.Versions(s.db).Archive(ctx, versionID, removedAt); err != nil {
		return fmt.Errorf("archive version %s: %w", versionID, err)
	}

	if err := s.repos.Audit(s.db).Append(ctx, actor, models.AuditRemoveVersion, map[string]any{
		"version_id": versionID,
		"removed_at": removedAt,
	}); err != nil {
		return fmt.Errorf("audit removal of %s: %w", versionID, err)
	}
	metrics.EnforcementActions.WithLabelValues(models.AuditRemoveVersion).Inc()
	s.log.Warn(ctx, "version artifacts removed", "version_id", versionID)
	return nil
}

// RevokeEntitlements bulk-revokes all live entitlements of the version's
// listing and returns the count. Zero revocations produce no audit entry.
func (s *Service) RevokeEntitlements(ctx context.Context, versionID uuid.UUID, actor *uuid.UUID) (int64, error) {
	v, err := s.repos.Versions(s.db).GetByID(ctx, versionID)
	if err != nil {
		return 0, fmt.Errorf("load version %s: %w", versionID, err)
	}

	count, err := s.repos.Entitlements(s.db).RevokeForListing(ctx, v.ListingID)
	if err != nil {
		return 0, fmt.Errorf("revoke entitlements for listing %s: %w", v.ListingID, err)
	}
	if count == 0 {
		return 0, nil
	}

	if err := s.repos.Audit(s.db).Append(ctx, actor, models.AuditRevokeEntitlements, map[string]any{
		"version_id": versionID,
		"listing_id": v.ListingID,
		"count":      count,
	}); err != nil {
		return count, fmt.Errorf("audit revocation for %s: %w", versionID, err)
	}
	metrics.EnforcementActions.WithLabelValues(models.AuditRevokeEntitlements).Inc()
	s.log.Warn(ctx, "entitlements revoked", "listing_id", v.ListingID, "count", count)
	return count, nil
}

// EscalateTuner increments the publisher's rolling failure counter and
// applies the policy: a warning entry at the warning threshold, a
// time-boxed upload ban at the ban threshold. The ban supersedes the
// warning.
func (s *Service) EscalateTuner(ctx context.Context, userID uuid.UUID) error {
	count, err := s.repos.Tuners(s.db).IncrementFailures(ctx, userID)
	if err != nil {
		return fmt.Errorf("increment failures for %s: %w", userID, err)
	}
	s.log.Info(ctx, "tuner failure recorded", "user_id", userID, "failed_uploads", count)

	switch {
	case count >= s.opts.BanThreshold:
		until := s.now().UTC().Add(s.opts.BanDuration)
		if err := s.repos.Tuners(s.db).SetUploadBan(ctx, userID, until); err != nil {
			return fmt.Errorf("set upload ban for %s: %w", userID, err)
		}
		if err := s.repos.Audit(s.db).Append(ctx, nil, models.AuditUploadBan, map[string]any{
			"user_id":      userID,
			"failed_count": count,
			"banned_until": until,
		}); err != nil {
			return fmt.Errorf("audit upload ban for %s: %w", userID, err)
		}
		metrics.EnforcementActions.WithLabelValues(models.AuditUploadBan).Inc()
		s.log.Warn(ctx, "tuner upload-banned", "user_id", userID, "until", until)

	case count >= s.opts.WarningThreshold:
		if err := s.repos.Audit(s.db).Append(ctx, nil, models.AuditTunerWarning, map[string]any{
			"user_id":      userID,
			"failed_count": count,
		}); err != nil {
			return fmt.Errorf("audit warning for %s: %w", userID, err)
		}
		metrics.EnforcementActions.WithLabelValues(models.AuditTunerWarning).Inc()
		s.log.Warn(ctx, "tuner warned", "user_id", userID, "failed_uploads", count)
	}
	return nil
}

// HandleMalware is the most severe path: suspend the version with the
// scan-derived reason, suspend the publisher account, and record a malware
// strike, all in one transaction. A missing publisher profile is a hard
// error.
func (s *Service) HandleMalware(ctx context.Context, versionID uuid.UUID, scanMessage string) error {
	reason := "malware detected: " + scanMessage

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		v, err := s.repos.Versions(tx).GetByID(ctx, versionID)
		if err != nil {
			return fmt.Errorf("load version %s: %w", versionID, err)
		}
		listing, err := s.repos.Listings(tx).GetByID(ctx, v.ListingID)
		if err != nil {
			return fmt.Errorf("load listing %s: %w", v.ListingID, err)
		}

		if _, err := s.repos.Versions(tx).Suspend(ctx, versionID, reason, nil); err != nil {
			return fmt.Errorf("suspend version %s: %w", versionID, err)
		}

		strikes, err := s.repos.Tuners(tx).RecordMalwareStrike(ctx, listing.TunerUserID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return fmt.Errorf("tuner %s: %w", listing.TunerUserID, common.ErrProfileNotFound)
			}
			return fmt.Errorf("record malware strike for %s: %w", listing.TunerUserID, err)
		}

		return s.repos.Audit(tx).Append(ctx, nil, models.AuditMalwareSuspension, map[string]any{
			"version_id":      versionID,
			"user_id":         listing.TunerUserID,
			"scan_message":    scanMessage,
			"malware_strikes": strikes,
		})
	})
	if err != nil {
		return err
	}

	metrics.EnforcementActions.WithLabelValues(models.AuditMalwareSuspension).Inc()
	s.log.Error(ctx, "malware confirmed, tuner suspended", "version_id", versionID, "scan_message", scanMessage)
	return nil
}
