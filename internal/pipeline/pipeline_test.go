package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revsync/revsync/internal/bincheck"
	"github.com/revsync/revsync/internal/common"
	"github.com/revsync/revsync/internal/dbx"
	"github.com/revsync/revsync/internal/extract"
	"github.com/revsync/revsync/internal/hashx"
	"github.com/revsync/revsync/internal/logging"
	"github.com/revsync/revsync/internal/models"
	"github.com/revsync/revsync/internal/repositories/auditlog"
	"github.com/revsync/revsync/internal/repositories/entitlements"
	"github.com/revsync/revsync/internal/repositories/listings"
	"github.com/revsync/revsync/internal/repositories/reports"
	"github.com/revsync/revsync/internal/repositories/tuners"
	"github.com/revsync/revsync/internal/repositories/versions"
	"github.com/revsync/revsync/internal/signing"
	"github.com/revsync/revsync/internal/storage"
)

var (
	versionID = uuid.MustParse("bbbbbbbb-0000-4000-8000-000000000001")
	listingID = uuid.MustParse("bbbbbbbb-0000-4000-8000-000000000002")
	tunerID   = uuid.MustParse("bbbbbbbb-0000-4000-8000-000000000003")
)

// In-memory repository fakes; the DBTX argument is ignored.

type fakeState struct {
	versions map[uuid.UUID]*models.TuneVersion
	listings map[uuid.UUID]*models.TuneListing
	tuners   map[uuid.UUID]*models.TunerProfile
	reports  map[uuid.UUID]*models.ValidationReport
}

func (s *fakeState) Versions(dbx.DBTX) versions.Repository { return fakeVersions{s} }
func (s *fakeState) Reports(dbx.DBTX) reports.Repository   { return fakeReports{s} }
func (s *fakeState) Tuners(dbx.DBTX) tuners.Repository     { return fakeTuners{s} }
func (s *fakeState) Listings(dbx.DBTX) listings.Repository { return fakeListings{s} }
func (s *fakeState) Entitlements(dbx.DBTX) entitlements.Repository {
	return nil // not used by the pipeline
}
func (s *fakeState) Audit(dbx.DBTX) auditlog.Repository {
	return nil // not used by the pipeline
}

type fakeVersions struct{ s *fakeState }

func (f fakeVersions) GetByID(_ context.Context, id uuid.UUID) (*models.TuneVersion, error) {
	v, ok := f.s.versions[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *v
	return &cp, nil
}

func (f fakeVersions) MarkValidating(_ context.Context, id uuid.UUID) error {
	v := f.s.versions[id]
	if v.Status != models.StatusUploaded {
		return common.ErrAlreadyValidating
	}
	v.Status = models.StatusValidating
	return nil
}

func (f fakeVersions) MarkFailed(_ context.Context, id uuid.UUID) error {
	f.s.versions[id].Status = models.StatusFailed
	return nil
}

func (f fakeVersions) SetValidationSuccess(_ context.Context, v *models.TuneVersion) error {
	if f.s.versions[v.ID].Status != models.StatusValidating {
		return common.ErrInvalidTransition
	}
	cp := *v
	f.s.versions[v.ID] = &cp
	return nil
}

func (f fakeVersions) Suspend(_ context.Context, id uuid.UUID, reason string, actor *uuid.UUID) (bool, error) {
	f.s.versions[id].Status = models.StatusSuspended
	f.s.versions[id].SuspensionReason = reason
	return true, nil
}

func (f fakeVersions) Archive(_ context.Context, id uuid.UUID, removedAt time.Time) error {
	return nil
}

type fakeReports struct{ s *fakeState }

func (f fakeReports) Upsert(_ context.Context, r *models.ValidationReport) error {
	cp := *r
	f.s.reports[r.VersionID] = &cp
	return nil
}

func (f fakeReports) GetByVersionID(_ context.Context, id uuid.UUID) (*models.ValidationReport, error) {
	r, ok := f.s.reports[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return r, nil
}

type fakeTuners struct{ s *fakeState }

func (f fakeTuners) GetByUserID(_ context.Context, id uuid.UUID) (*models.TunerProfile, error) {
	p, ok := f.s.tuners[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *p
	return &cp, nil
}

func (f fakeTuners) IncrementFailures(_ context.Context, id uuid.UUID) (int, error) {
	f.s.tuners[id].FailedUploadCount++
	return f.s.tuners[id].FailedUploadCount, nil
}

func (f fakeTuners) SetUploadBan(_ context.Context, id uuid.UUID, until time.Time) error {
	return nil
}

func (f fakeTuners) RecordMalwareStrike(_ context.Context, id uuid.UUID) (int, error) {
	f.s.tuners[id].MalwareStrikes++
	f.s.tuners[id].IsSuspended = true
	return f.s.tuners[id].MalwareStrikes, nil
}

type fakeListings struct{ s *fakeState }

func (f fakeListings) GetByID(_ context.Context, id uuid.UUID) (*models.TuneListing, error) {
	l, ok := f.s.listings[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *l
	return &cp, nil
}

// memStorage is an in-memory object store keyed by bucket/key.
type memStorage struct {
	objects map[string][]byte
}

func newMemStorage() *memStorage { return &memStorage{objects: map[string][]byte{}} }

func (m *memStorage) key(bucket, key string) string { return bucket + "/" + key }

func (m *memStorage) DownloadToTemp(_ context.Context, bucket, key string) (string, error) {
	data, ok := m.objects[m.key(bucket, key)]
	if !ok {
		return "", fmt.Errorf("object %s/%s not found", bucket, key)
	}
	tmp, err := os.CreateTemp("", "memstorage-*")
	if err != nil {
		return "", err
	}
	defer tmp.Close()
	if _, err := tmp.Write(data); err != nil {
		return "", err
	}
	return tmp.Name(), nil
}

func (m *memStorage) Upload(_ context.Context, bucket, key, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.objects[m.key(bucket, key)] = data
	return nil
}

func (m *memStorage) Delete(_ context.Context, bucket, key string) error {
	delete(m.objects, m.key(bucket, key))
	return nil
}

func (m *memStorage) Move(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	data, ok := m.objects[m.key(srcBucket, srcKey)]
	if !ok {
		return fmt.Errorf("object %s/%s not found", srcBucket, srcKey)
	}
	m.objects[m.key(dstBucket, dstKey)] = data
	delete(m.objects, m.key(srcBucket, srcKey))
	return nil
}

func (m *memStorage) SignedURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "https://example.test/" + m.key(bucket, key), nil
}

// flakyStorage fails selected operations to simulate storage outages
// mid-relocation.
type flakyStorage struct {
	*memStorage
	failUploadKey string
	failMove      bool
}

func (f *flakyStorage) Upload(ctx context.Context, bucket, key, localPath string) error {
	if key == f.failUploadKey {
		return fmt.Errorf("upload %s: connection reset", key)
	}
	return f.memStorage.Upload(ctx, bucket, key, localPath)
}

func (f *flakyStorage) Move(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	if f.failMove {
		return fmt.Errorf("move %s: connection reset", srcKey)
	}
	return f.memStorage.Move(ctx, srcBucket, srcKey, dstBucket, dstKey)
}

type fakeEnforcer struct {
	escalated []uuid.UUID
	malware   []string
}

func (f *fakeEnforcer) EscalateTuner(_ context.Context, userID uuid.UUID) error {
	f.escalated = append(f.escalated, userID)
	return nil
}

func (f *fakeEnforcer) HandleMalware(_ context.Context, versionID uuid.UUID, msg string) error {
	f.malware = append(f.malware, msg)
	return nil
}

// stubScanner simulates an external scanner.
type stubScanner struct {
	clean bool
	msg   string
	err   error
}

func (s stubScanner) Mode() string { return "clamd" }
func (s stubScanner) Scan(context.Context, string) (bool, string, error) {
	return s.clean, s.msg, s.err
}

func plausibleTune(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i*7 + i/3) % 64)
	}
	return data
}

func validManifest(t *testing.T, tuneSize int) []byte {
	t.Helper()
	doc := map[string]any{
		"uploader_user_id": tunerID.String(),
		"listing_id":       listingID.String(),
		"version":          "1.0.0",
		"created_at":       "2026-02-01T09:00:00Z",
		"supported_ecu": map[string]any{
			"ecu_family": "Bosch_ME17",
			"hw_ids":     []any{"ME17.9.74-HW01"},
		},
		"bike_fitment": map[string]any{
			"make":      "Yamaha",
			"model":     "MT-09",
			"year_from": 2021,
			"year_to":   2024,
		},
		"requirements": map[string]any{"fuel_octane_min": 95},
		"safety":       map[string]any{"risk_level": "MED"},
		"file": map[string]any{
			"tune_filename":   "tune.bin",
			"tune_size_bytes": tuneSize,
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func buildPackage(t *testing.T, manifestJSON, tuneBin []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range map[string][]byte{
		"manifest.json": manifestJSON,
		"tune.bin":      tuneBin,
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type testEnv struct {
	pipeline *Pipeline
	state    *fakeState
	store    *memStorage
	enforcer *fakeEnforcer
	signer   *signing.Signer
	quarKey  string
}

func newTestEnv(t *testing.T, tier models.Tier, primary *stubScanner, requireScanner bool) *testEnv {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	quarKey := storage.QuarantinePath(tunerID, listingID, versionID)
	state := &fakeState{
		versions: map[uuid.UUID]*models.TuneVersion{
			versionID: {
				ID:             versionID,
				ListingID:      listingID,
				VersionNumber:  "1.0.0",
				Status:         models.StatusUploaded,
				QuarantinePath: quarKey,
			},
		},
		listings: map[uuid.UUID]*models.TuneListing{
			listingID: {ID: listingID, TunerUserID: tunerID, VehicleMake: "Yamaha", VehicleModel: "MT-09"},
		},
		tuners: map[uuid.UUID]*models.TunerProfile{
			tunerID: {UserID: tunerID, Tier: tier},
		},
		reports: map[uuid.UUID]*models.ValidationReport{},
	}
	store := newMemStorage()
	enforcer := &fakeEnforcer{}

	signer, err := signing.NewSigner(signing.Options{})
	require.NoError(t, err)

	p := New(db, state, store, signer, nil, extract.New(extract.Limits{}),
		bincheck.New(bincheck.Bounds{}), enforcer, logging.NewNopLogger(), Options{
			QuarantineBucket: "revsync-quarantine",
			ValidatedBucket:  "revsync-validated",
			RequireScanner:   requireScanner,
		})
	if primary != nil {
		p.primary = *primary
	}

	return &testEnv{pipeline: p, state: state, store: store, enforcer: enforcer, signer: signer, quarKey: quarKey}
}

func (e *testEnv) seedUpload(t *testing.T, pkg []byte) {
	t.Helper()
	e.store.objects["revsync-quarantine/"+e.quarKey] = pkg
}

func TestRun_TrustedTunerPublishes(t *testing.T) {
	env := newTestEnv(t, models.TierTrusted, nil, false)
	tune := plausibleTune(1024)
	pkg := buildPackage(t, validManifest(t, len(tune)), tune)
	env.seedUpload(t, pkg)

	require.NoError(t, env.pipeline.Run(context.Background(), versionID))

	v := env.state.versions[versionID]
	assert.Equal(t, models.StatusPublished, v.Status)
	require.NotNil(t, v.PublishedAt)
	require.NotNil(t, v.SignedAt)
	assert.NotEmpty(t, v.SignatureBase64)
	assert.Equal(t, env.signer.KeyID(), v.SigningKeyID)
	assert.Equal(t, int64(1024), v.FileSizeBytes)

	// The signature must verify against the recorded hash triple.
	ok, err := env.signer.Verify(signing.Binding{
		ManifestHash: v.ManifestHashSHA256,
		PackageHash:  v.PackageHashSHA256,
		TuneHash:     v.TuneHashSHA256,
		VersionID:    versionID,
	}, v.SignatureBase64)
	require.NoError(t, err)
	assert.True(t, ok)

	// Package moved, signature and hashes uploaded, quarantine emptied.
	prefix := "revsync-validated/listing/" + listingID.String() + "/" + versionID.String() + "/"
	assert.Equal(t, pkg, env.store.objects[prefix+"package.revsyncpkg"])
	assert.Equal(t, []byte(v.SignatureBase64), env.store.objects[prefix+"signature.sig"])
	assert.NotEmpty(t, env.store.objects[prefix+"hashes.json"])
	assert.NotContains(t, env.store.objects, "revsync-quarantine/"+env.quarKey)
	assert.Equal(t, prefix[len("revsync-validated/"):]+"package.revsyncpkg", v.ValidatedPath)

	report := env.state.reports[versionID]
	require.NotNil(t, report)
	assert.True(t, report.IsPassed)
	assert.Empty(t, report.Blockers)
	assert.Equal(t, "PASS", report.Results["zip_extraction"])
	assert.Equal(t, "heuristic", report.Results["scan_mode"])
	assert.Empty(t, env.enforcer.escalated)
}

func TestRun_NewTunerLandsInReview(t *testing.T) {
	env := newTestEnv(t, models.TierNew, nil, false)
	tune := plausibleTune(1024)
	env.seedUpload(t, buildPackage(t, validManifest(t, len(tune)), tune))

	require.NoError(t, env.pipeline.Run(context.Background(), versionID))

	v := env.state.versions[versionID]
	assert.Equal(t, models.StatusReadyForReview, v.Status)
	assert.Nil(t, v.PublishedAt)
}

func TestRun_HashesAreDeterministic(t *testing.T) {
	tune := plausibleTune(1024)
	manifestJSON := validManifest(t, len(tune))
	pkg := buildPackage(t, manifestJSON, tune)

	env := newTestEnv(t, models.TierTrusted, nil, false)
	env.seedUpload(t, pkg)
	require.NoError(t, env.pipeline.Run(context.Background(), versionID))

	v := env.state.versions[versionID]
	assert.Equal(t, hashx.SHA256Bytes(tune), v.TuneHashSHA256)
	assert.Equal(t, hashx.SHA256Bytes(pkg), v.PackageHashSHA256)

	report := env.state.reports[versionID]
	assert.Equal(t, v.TuneHashSHA256, report.Results["tune_hash_sha256"])
	assert.Equal(t, v.ManifestHashSHA256, report.Results["manifest_hash_sha256"])
	assert.Equal(t, v.PackageHashSHA256, report.Results["package_hash_sha256"])
}

func TestRun_LowEntropyTuneFails(t *testing.T) {
	env := newTestEnv(t, models.TierTrusted, nil, false)
	tune := make([]byte, 120) // all zeros, entropy 0
	env.seedUpload(t, buildPackage(t, validManifest(t, len(tune)), tune))

	require.NoError(t, env.pipeline.Run(context.Background(), versionID))

	v := env.state.versions[versionID]
	assert.Equal(t, models.StatusFailed, v.Status)
	assert.Empty(t, v.SignatureBase64)

	// Nothing may be relocated on a failed run.
	for key := range env.store.objects {
		assert.NotContains(t, key, "revsync-validated")
	}
	assert.Contains(t, env.store.objects, "revsync-quarantine/"+env.quarKey)

	report := env.state.reports[versionID]
	require.NotNil(t, report)
	assert.False(t, report.IsPassed)
	require.NotEmpty(t, report.Blockers)
	assert.Contains(t, report.Blockers[0], "low entropy")
	assert.Equal(t, "FAIL", report.Results["binary_check"])

	assert.Equal(t, []uuid.UUID{tunerID}, env.enforcer.escalated)
	assert.Empty(t, env.enforcer.malware)
}

func TestRun_FitmentMismatchIsWarning(t *testing.T) {
	env := newTestEnv(t, models.TierTrusted, nil, false)
	env.state.listings[listingID].VehicleModel = "MT-07"
	tune := plausibleTune(1024)
	env.seedUpload(t, buildPackage(t, validManifest(t, len(tune)), tune))

	require.NoError(t, env.pipeline.Run(context.Background(), versionID))

	assert.Equal(t, models.StatusPublished, env.state.versions[versionID].Status)
	report := env.state.reports[versionID]
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[0], "differs from listing")
}

func TestRun_ConfirmedMalwareInvokesEnforcement(t *testing.T) {
	env := newTestEnv(t, models.TierNew, &stubScanner{clean: false, msg: "Eicar-Test-Signature"}, false)
	tune := plausibleTune(1024)
	env.seedUpload(t, buildPackage(t, validManifest(t, len(tune)), tune))

	require.NoError(t, env.pipeline.Run(context.Background(), versionID))

	report := env.state.reports[versionID]
	require.NotNil(t, report)
	assert.False(t, report.IsPassed)
	assert.Contains(t, report.Blockers[0], "malware detected")
	assert.Equal(t, "clamd", report.Results["scan_mode"])

	assert.Equal(t, []string{"Eicar-Test-Signature"}, env.enforcer.malware)
	assert.Equal(t, []uuid.UUID{tunerID}, env.enforcer.escalated)
}

func TestRun_ScannerDownFallsBackToHeuristic(t *testing.T) {
	env := newTestEnv(t, models.TierTrusted, &stubScanner{err: fmt.Errorf("connection refused")}, false)
	tune := plausibleTune(1024)
	env.seedUpload(t, buildPackage(t, validManifest(t, len(tune)), tune))

	require.NoError(t, env.pipeline.Run(context.Background(), versionID))

	assert.Equal(t, models.StatusPublished, env.state.versions[versionID].Status)
	assert.Equal(t, "heuristic", env.state.reports[versionID].Results["scan_mode"])
}

func TestRun_ScannerDownInStrictModeFails(t *testing.T) {
	env := newTestEnv(t, models.TierTrusted, &stubScanner{err: fmt.Errorf("connection refused")}, true)
	tune := plausibleTune(1024)
	env.seedUpload(t, buildPackage(t, validManifest(t, len(tune)), tune))

	require.NoError(t, env.pipeline.Run(context.Background(), versionID))

	assert.Equal(t, models.StatusFailed, env.state.versions[versionID].Status)
	report := env.state.reports[versionID]
	assert.Contains(t, report.Blockers[0], "scanner unavailable")
	assert.Empty(t, env.enforcer.malware)
}

func TestRun_SecondTriggerRejected(t *testing.T) {
	env := newTestEnv(t, models.TierTrusted, nil, false)
	env.state.versions[versionID].Status = models.StatusValidating

	err := env.pipeline.Run(context.Background(), versionID)
	assert.ErrorIs(t, err, common.ErrAlreadyValidating)
}

func TestRun_ArtifactUploadFailureLeavesQuarantineIntact(t *testing.T) {
	env := newTestEnv(t, models.TierTrusted, nil, false)
	paths := storage.ValidatedPathsFor(listingID, versionID)
	env.pipeline.store = &flakyStorage{memStorage: env.store, failUploadKey: paths.Hashes}

	tune := plausibleTune(1024)
	env.seedUpload(t, buildPackage(t, validManifest(t, len(tune)), tune))

	require.NoError(t, env.pipeline.Run(context.Background(), versionID))

	v := env.state.versions[versionID]
	assert.Equal(t, models.StatusFailed, v.Status)
	assert.Empty(t, v.ValidatedPath)

	// The package must remain ingestible and no artifact may survive in the
	// validated area, including the already-staged signature.
	assert.Contains(t, env.store.objects, "revsync-quarantine/"+env.quarKey)
	for key := range env.store.objects {
		assert.NotContains(t, key, "revsync-validated")
	}

	report := env.state.reports[versionID]
	require.NotEmpty(t, report.Blockers)
	assert.Contains(t, report.Blockers[0], "hashes artifact")
}

func TestRun_MoveFailureLeavesQuarantineIntact(t *testing.T) {
	env := newTestEnv(t, models.TierTrusted, nil, false)
	env.pipeline.store = &flakyStorage{memStorage: env.store, failMove: true}

	tune := plausibleTune(1024)
	env.seedUpload(t, buildPackage(t, validManifest(t, len(tune)), tune))

	require.NoError(t, env.pipeline.Run(context.Background(), versionID))

	v := env.state.versions[versionID]
	assert.Equal(t, models.StatusFailed, v.Status)
	assert.Empty(t, v.ValidatedPath)

	assert.Contains(t, env.store.objects, "revsync-quarantine/"+env.quarKey)
	for key := range env.store.objects {
		assert.NotContains(t, key, "revsync-validated")
	}

	report := env.state.reports[versionID]
	require.NotEmpty(t, report.Blockers)
	assert.Contains(t, report.Blockers[0], "move package")
}

func TestRun_SizeMismatchFails(t *testing.T) {
	env := newTestEnv(t, models.TierTrusted, nil, false)
	tune := plausibleTune(1024)
	env.seedUpload(t, buildPackage(t, validManifest(t, 999), tune))

	require.NoError(t, env.pipeline.Run(context.Background(), versionID))

	assert.Equal(t, models.StatusFailed, env.state.versions[versionID].Status)
	report := env.state.reports[versionID]
	assert.Contains(t, report.Blockers[0], "size mismatch")
}
