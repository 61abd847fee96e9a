// Package pipeline orchestrates the validation run for one uploaded tune
// version: ingest, malware scan, hardened extraction, binary heuristics,
// manifest validation, cross-checks, hashing, signing, and relocation to
// the validated area. One run resolves VALIDATING into exactly one of
// FAILED, READY_FOR_REVIEW, or PUBLISHED.
package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/revsync/revsync/internal/bincheck"
	"github.com/revsync/revsync/internal/extract"
	"github.com/revsync/revsync/internal/hashx"
	"github.com/revsync/revsync/internal/logging"
	"github.com/revsync/revsync/internal/manifest"
	"github.com/revsync/revsync/internal/metrics"
	"github.com/revsync/revsync/internal/models"
	"github.com/revsync/revsync/internal/repositories/repomanager"
	"github.com/revsync/revsync/internal/scanner"
	"github.com/revsync/revsync/internal/signing"
	"github.com/revsync/revsync/internal/storage"
)

// Enforcer is the slice of the enforcement service the pipeline invokes on
// failing runs.
type Enforcer interface {
	EscalateTuner(ctx context.Context, userID uuid.UUID) error
	HandleMalware(ctx context.Context, versionID uuid.UUID, scanMessage string) error
}

// Options carries the bucket names and policy switches.
type Options struct {
	QuarantineBucket string
	ValidatedBucket  string
	MaxPackageSize   int64
	// RequireScanner makes an unreachable external scanner a blocking
	// failure instead of falling back to heuristics.
	RequireScanner bool
}

// Pipeline runs validation for uploaded versions.
type Pipeline struct {
	db        *sql.DB
	repos     repomanager.RepositoryManager
	store     storage.ObjectStorage
	signer    *signing.Signer
	primary   scanner.Scanner // external scanner, nil when not configured
	fallback  scanner.Scanner
	extractor *extract.Extractor
	checker   *bincheck.Checker
	enforcer  Enforcer
	log       logging.Logger
	opts      Options
	now       func() time.Time
}

func New(db *sql.DB, repos repomanager.RepositoryManager, store storage.ObjectStorage,
	signer *signing.Signer, primary scanner.Scanner, extractor *extract.Extractor,
	checker *bincheck.Checker, enforcer Enforcer, log logging.Logger, opts Options) *Pipeline {
	if opts.MaxPackageSize == 0 {
		opts.MaxPackageSize = 50 * 1024 * 1024
	}
	return &Pipeline{
		db:        db,
		repos:     repos,
		store:     store,
		signer:    signer,
		primary:   primary,
		fallback:  scanner.NewHeuristicScanner(),
		extractor: extractor,
		checker:   checker,
		enforcer:  enforcer,
		log:       log.With("component", "pipeline"),
		opts:      opts,
		now:       time.Now,
	}
}

// run accumulates the report of one validation attempt.
type run struct {
	version  *models.TuneVersion
	listing  *models.TuneListing
	profile  *models.TunerProfile
	manifest *manifest.Manifest

	results  map[string]string
	blockers []string
	warnings []string

	localPkg   string
	workDir    string
	malwareMsg string // non-empty when a confirmed scanner verdict failed the run
}

// Run validates one version end to end. The returned error is non-nil only
// when the run could not be attempted at all (version missing, already
// validating, report unwritable); a run that fails validation resolves to
// FAILED and returns nil.
func (p *Pipeline) Run(ctx context.Context, versionID uuid.UUID) error {
	log := p.log.With("version_id", versionID)

	v, err := p.repos.Versions(p.db).GetByID(ctx, versionID)
	if err != nil {
		return fmt.Errorf("load version %s: %w", versionID, err)
	}
	listing, err := p.repos.Listings(p.db).GetByID(ctx, v.ListingID)
	if err != nil {
		return fmt.Errorf("load listing %s: %w", v.ListingID, err)
	}
	profile, err := p.repos.Tuners(p.db).GetByUserID(ctx, listing.TunerUserID)
	if err != nil {
		return fmt.Errorf("load tuner %s: %w", listing.TunerUserID, err)
	}

	// Entering VALIDATING is the concurrency guard: only one run per
	// upload attempt gets past this point.
	if err := p.repos.Versions(p.db).MarkValidating(ctx, versionID); err != nil {
		return fmt.Errorf("mark validating %s: %w", versionID, err)
	}
	log.Info(ctx, "validation started", "listing_id", v.ListingID, "tier", profile.Tier)

	r := &run{
		version: v,
		listing: listing,
		profile: profile,
		results: map[string]string{},
	}
	defer r.cleanup(ctx, log)

	if stage := p.execute(ctx, log, r); stage != "" {
		return p.fail(ctx, log, r, stage)
	}
	return p.succeed(ctx, log, r)
}

// execute runs the stage sequence and returns the name of the blocking
// stage, or "" when every stage passed.
func (p *Pipeline) execute(ctx context.Context, log logging.Logger, r *run) string {
	for _, s := range []struct {
		name string
		fn   func(context.Context, logging.Logger, *run) bool
	}{
		{"ingest", p.stageIngest},
		{"malware_scan", p.stageScan},
		{"zip_extraction", p.stageExtract},
		{"binary_check", p.stageBinCheck},
		{"manifest_validation", p.stageManifest},
		{"size_check", p.stageSizeCheck},
		{"compatibility", p.stageCompatibility},
		{"hashing", p.stageHash},
		{"signing", p.stageSign},
		{"move", p.stageMove},
	} {
		if !s.fn(ctx, log, r) {
			if _, ok := r.results[s.name]; !ok {
				r.results[s.name] = "FAIL"
			}
			return s.name
		}
		if _, ok := r.results[s.name]; !ok {
			r.results[s.name] = "PASS"
		}
		log.Debug(ctx, "stage passed", "stage", s.name)
	}
	return ""
}

func (r *run) block(format string, args ...any) bool {
	r.blockers = append(r.blockers, fmt.Sprintf(format, args...))
	return false
}

func (r *run) cleanup(ctx context.Context, log logging.Logger) {
	if r.localPkg != "" {
		if err := os.Remove(r.localPkg); err != nil && !os.IsNotExist(err) {
			log.Warn(ctx, "could not remove downloaded package", "path", r.localPkg, "error", err)
		}
	}
	if r.workDir != "" {
		if err := os.RemoveAll(r.workDir); err != nil {
			log.Warn(ctx, "could not remove extraction dir", "path", r.workDir, "error", err)
		}
	}
}

func (p *Pipeline) stageIngest(ctx context.Context, log logging.Logger, r *run) bool {
	if r.version.QuarantinePath == "" {
		return r.block("no quarantine path set on version record")
	}
	local, err := p.store.DownloadToTemp(ctx, p.opts.QuarantineBucket, r.version.QuarantinePath)
	if err != nil {
		return r.block("could not fetch package from quarantine: %v", err)
	}
	r.localPkg = local

	info, err := os.Stat(local)
	if err != nil {
		return r.block("could not stat downloaded package: %v", err)
	}
	if info.Size() > p.opts.MaxPackageSize {
		return r.block("package too large: %d bytes (max %d)", info.Size(), p.opts.MaxPackageSize)
	}
	return true
}

func (p *Pipeline) stageScan(ctx context.Context, log logging.Logger, r *run) bool {
	sc := p.primary
	confirmed := true
	if sc == nil {
		sc = p.fallback
		confirmed = false
	}

	clean, msg, err := sc.Scan(ctx, r.localPkg)
	if err != nil && confirmed {
		if p.opts.RequireScanner {
			return r.block("malware scanner unavailable: %v", err)
		}
		log.Warn(ctx, "external scanner unavailable, falling back to heuristics", "error", err)
		sc, confirmed = p.fallback, false
		clean, msg, err = sc.Scan(ctx, r.localPkg)
	}
	if err != nil {
		return r.block("malware scan failed: %v", err)
	}

	r.results["scan_mode"] = sc.Mode()
	metrics.ScanModes.WithLabelValues(sc.Mode()).Inc()

	if !clean {
		r.results["malware_scan"] = msg
		if confirmed {
			r.malwareMsg = msg
		}
		return r.block("malware detected: %s", msg)
	}
	return true
}

func (p *Pipeline) stageExtract(ctx context.Context, log logging.Logger, r *run) bool {
	dir, err := os.MkdirTemp("", "revsync-validate-*")
	if err != nil {
		return r.block("could not create extraction dir: %v", err)
	}
	r.workDir = dir

	res, err := p.extractor.Extract(r.localPkg, dir)
	if err != nil {
		return r.block("extraction failed: %v", err)
	}
	r.warnings = append(r.warnings, res.Warnings...)
	if !res.OK {
		r.blockers = append(r.blockers, res.Blockers...)
		return false
	}
	return true
}

func (p *Pipeline) stageBinCheck(ctx context.Context, log logging.Logger, r *run) bool {
	res, err := p.checker.Check(filepath.Join(r.workDir, "tune.bin"))
	if err != nil {
		return r.block("binary check failed: %v", err)
	}
	r.warnings = append(r.warnings, res.Warnings...)
	if len(res.Blockers) > 0 {
		r.blockers = append(r.blockers, res.Blockers...)
		return false
	}
	return true
}

func (p *Pipeline) stageManifest(ctx context.Context, log logging.Logger, r *run) bool {
	raw, err := os.ReadFile(filepath.Join(r.workDir, "manifest.json"))
	if err != nil {
		return r.block("could not read manifest.json: %v", err)
	}
	r.version.ManifestData = raw

	m, errs := manifest.Validate(raw)
	if len(errs) > 0 {
		for _, e := range errs {
			r.block("manifest schema error: %s", e)
		}
		return false
	}
	r.manifest = m
	return true
}

func (p *Pipeline) stageSizeCheck(ctx context.Context, log logging.Logger, r *run) bool {
	tunePath := filepath.Join(r.workDir, r.manifest.File.TuneFilename)
	info, err := os.Stat(tunePath)
	if err != nil {
		return r.block("tune file %q declared in manifest but not found in package",
			r.manifest.File.TuneFilename)
	}
	if info.Size() != r.manifest.File.TuneSizeBytes {
		return r.block("tune file size mismatch: actual=%d, declared=%d",
			info.Size(), r.manifest.File.TuneSizeBytes)
	}
	r.version.FileSizeBytes = info.Size()
	return true
}

func (p *Pipeline) stageCompatibility(ctx context.Context, log logging.Logger, r *run) bool {
	ecu := r.manifest.SupportedECU
	if len(ecu.ECUFamily) < 2 {
		return r.block("invalid ECU family: %q", ecu.ECUFamily)
	}
	if len(ecu.HWIDs) == 0 {
		return r.block("no hardware IDs specified")
	}

	fit := r.manifest.BikeFitment
	if !strings.EqualFold(fit.Make, r.listing.VehicleMake) ||
		!strings.EqualFold(fit.Model, r.listing.VehicleModel) {
		r.warnings = append(r.warnings, fmt.Sprintf(
			"manifest fitment (%s %s) differs from listing (%s %s)",
			fit.Make, fit.Model, r.listing.VehicleMake, r.listing.VehicleModel))
	}
	return true
}

func (p *Pipeline) stageHash(ctx context.Context, log logging.Logger, r *run) bool {
	tuneHash, err := hashx.SHA256File(filepath.Join(r.workDir, r.manifest.File.TuneFilename))
	if err != nil {
		return r.block("could not hash tune file: %v", err)
	}
	canonical, err := manifest.Canonicalize(r.version.ManifestData)
	if err != nil {
		return r.block("could not canonicalize manifest: %v", err)
	}
	pkgHash, err := hashx.SHA256File(r.localPkg)
	if err != nil {
		return r.block("could not hash package: %v", err)
	}

	r.version.TuneHashSHA256 = tuneHash
	r.version.ManifestHashSHA256 = hashx.SHA256Bytes(canonical)
	r.version.PackageHashSHA256 = pkgHash

	r.results["tune_hash_sha256"] = r.version.TuneHashSHA256
	r.results["manifest_hash_sha256"] = r.version.ManifestHashSHA256
	r.results["package_hash_sha256"] = r.version.PackageHashSHA256
	return true
}

func (p *Pipeline) stageSign(ctx context.Context, log logging.Logger, r *run) bool {
	sig, err := p.signer.SignBinding(signing.Binding{
		ManifestHash: r.version.ManifestHashSHA256,
		PackageHash:  r.version.PackageHashSHA256,
		TuneHash:     r.version.TuneHashSHA256,
		VersionID:    r.version.ID,
	})
	if err != nil {
		return r.block("could not sign package binding: %v", err)
	}
	signedAt := p.now().UTC()
	r.version.SignatureBase64 = sig
	r.version.SigningKeyID = p.signer.KeyID()
	r.version.SignedAt = &signedAt
	return true
}

func (p *Pipeline) stageMove(ctx context.Context, log logging.Logger, r *run) bool {
	artifact := signing.HashesArtifact{
		VersionID:       r.version.ID,
		ListingID:       r.version.ListingID,
		VersionNumber:   r.version.VersionNumber,
		TuneBinSHA256:   r.version.TuneHashSHA256,
		ManifestSHA256:  r.version.ManifestHashSHA256,
		PackageSHA256:   r.version.PackageHashSHA256,
		TuneFilename:    r.manifest.File.TuneFilename,
		TuneSizeBytes:   r.version.FileSizeBytes,
		SignedAt:        *r.version.SignedAt,
		SigningKeyID:    r.version.SigningKeyID,
		SignatureBase64: r.version.SignatureBase64,
	}
	hashesJSON, err := artifact.Marshal()
	if err != nil {
		return r.block("could not build hashes artifact: %v", err)
	}

	sigPath := filepath.Join(r.workDir, "signature.sig")
	hashesPath := filepath.Join(r.workDir, "hashes.json")
	if err := os.WriteFile(sigPath, []byte(r.version.SignatureBase64), 0o640); err != nil {
		return r.block("could not stage signature artifact: %v", err)
	}
	if err := os.WriteFile(hashesPath, hashesJSON, 0o640); err != nil {
		return r.block("could not stage hashes artifact: %v", err)
	}

	// The signature and hashes artifacts go up first; the destructive
	// quarantine move runs last so a failed run never strands the package
	// outside quarantine. Staged uploads are removed when a later step fails.
	paths := storage.ValidatedPathsFor(r.version.ListingID, r.version.ID)
	if err := p.store.Upload(ctx, p.opts.ValidatedBucket, paths.Signature, sigPath); err != nil {
		return r.block("could not upload signature: %v", err)
	}
	if err := p.store.Upload(ctx, p.opts.ValidatedBucket, paths.Hashes, hashesPath); err != nil {
		p.removeStaged(ctx, log, paths.Signature)
		return r.block("could not upload hashes artifact: %v", err)
	}
	if err := p.store.Move(ctx, p.opts.QuarantineBucket, r.version.QuarantinePath,
		p.opts.ValidatedBucket, paths.Package); err != nil {
		p.removeStaged(ctx, log, paths.Signature, paths.Hashes)
		return r.block("could not move package to validated area: %v", err)
	}
	r.version.ValidatedPath = paths.Package
	return true
}

func (p *Pipeline) removeStaged(ctx context.Context, log logging.Logger, keys ...string) {
	for _, key := range keys {
		if err := p.store.Delete(ctx, p.opts.ValidatedBucket, key); err != nil {
			log.Warn(ctx, "could not remove staged artifact", "key", key, "error", err)
		}
	}
}

func (p *Pipeline) succeed(ctx context.Context, log logging.Logger, r *run) error {
	target := models.StatusReadyForReview
	result := "ready_for_review"
	if r.profile.Tier == models.TierTrusted {
		target = models.StatusPublished
		result = "published"
		publishedAt := p.now().UTC()
		r.version.PublishedAt = &publishedAt
	}
	r.version.Status = target

	if err := p.repos.Versions(p.db).SetValidationSuccess(ctx, r.version); err != nil {
		return fmt.Errorf("persist validation success for %s: %w", r.version.ID, err)
	}
	if err := p.repos.Reports(p.db).Upsert(ctx, &models.ValidationReport{
		VersionID: r.version.ID,
		IsPassed:  true,
		Results:   r.results,
		Warnings:  r.warnings,
	}); err != nil {
		return fmt.Errorf("persist report for %s: %w", r.version.ID, err)
	}

	metrics.PipelineRuns.WithLabelValues(result).Inc()
	log.Info(ctx, "validation passed", "target_status", target, "warnings", len(r.warnings))
	return nil
}

func (p *Pipeline) fail(ctx context.Context, log logging.Logger, r *run, stage string) error {
	metrics.StageFailures.WithLabelValues(stage).Inc()

	if err := p.repos.Versions(p.db).MarkFailed(ctx, r.version.ID); err != nil {
		return fmt.Errorf("mark failed %s: %w", r.version.ID, err)
	}
	if err := p.repos.Reports(p.db).Upsert(ctx, &models.ValidationReport{
		VersionID: r.version.ID,
		IsPassed:  false,
		Results:   r.results,
		Blockers:  r.blockers,
		Warnings:  r.warnings,
	}); err != nil {
		return fmt.Errorf("persist report for %s: %w", r.version.ID, err)
	}

	if err := p.enforcer.EscalateTuner(ctx, r.listing.TunerUserID); err != nil {
		log.Error(ctx, "tuner escalation failed", "user_id", r.listing.TunerUserID, "error", err)
	}
	if r.malwareMsg != "" {
		if err := p.enforcer.HandleMalware(ctx, r.version.ID, r.malwareMsg); err != nil {
			return fmt.Errorf("handle malware for %s: %w", r.version.ID, err)
		}
	}

	metrics.PipelineRuns.WithLabelValues("failed").Inc()
	log.Warn(ctx, "validation failed", "stage", stage, "blockers", r.blockers)
	return nil
}
