package versions

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/revsync/revsync/internal/common"
	"github.com/revsync/revsync/internal/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var (
	testID      = uuid.MustParse("cccccccc-0000-4000-8000-000000000001")
	testListing = uuid.MustParse("cccccccc-0000-4000-8000-000000000002")
)

func TestGetByID_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "listing_id", "version_number", "status",
		"quarantine_path", "validated_path",
		"tune_hash_sha256", "manifest_hash_sha256", "package_hash_sha256",
		"signature_base64", "signing_key_id",
		"manifest_data", "file_size_bytes",
		"suspension_reason", "suspended_by",
		"signed_at", "published_at", "removed_at", "created_at", "updated_at",
	}).AddRow(
		testID.String(), testListing.String(), "1.2.0", "UPLOADED",
		"tuner/u/l/v/upload.revsyncpkg", "",
		"", "", "",
		"", "",
		[]byte(`{"version":"1.2.0"}`), int64(0),
		"", nil,
		nil, nil, nil, now, now,
	)
	mock.ExpectQuery(`SELECT\s+id,\s*listing_id.+FROM tune_versions WHERE id = \$1`).
		WithArgs(testID).
		WillReturnRows(rows)

	got, err := repo.GetByID(context.Background(), testID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if got.ID != testID || got.Status != models.StatusUploaded || got.VersionNumber != "1.2.0" {
		t.Fatalf("unexpected version: %+v", got)
	}
	if got.SuspendedBy != nil || got.SignedAt != nil {
		t.Fatalf("expected nil optional fields: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM tune_versions WHERE id = \$1`).
		WithArgs(testID).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), testID)
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

func TestMarkValidating_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE tune_versions SET status = \$2`).
		WithArgs(testID, string(models.StatusValidating), string(models.StatusUploaded)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkValidating(context.Background(), testID); err != nil {
		t.Fatalf("MarkValidating error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkValidating_Guard(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	// Zero rows updated means the version was not in UPLOADED: a second
	// trigger while VALIDATING must be rejected.
	mock.ExpectExec(`UPDATE tune_versions SET status = \$2`).
		WithArgs(testID, string(models.StatusValidating), string(models.StatusUploaded)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkValidating(context.Background(), testID)
	if !errors.Is(err, common.ErrAlreadyValidating) {
		t.Fatalf("expected ErrAlreadyValidating, got %v", err)
	}
}

func TestSetValidationSuccess_RequiresValidating(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE tune_versions SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	signedAt := time.Now()
	v := &models.TuneVersion{
		ID:            testID,
		Status:        models.StatusPublished,
		ValidatedPath: "listing/l/v/package.revsyncpkg",
		ManifestData:  []byte(`{}`),
		SignedAt:      &signedAt,
	}
	err := repo.SetValidationSuccess(context.Background(), v)
	if !errors.Is(err, common.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestSuspend_ReportsChange(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE tune_versions\s+SET status = \$2, suspension_reason = \$3`).
		WithArgs(testID, string(models.StatusSuspended), "malware", nil, string(models.StatusArchived)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := repo.Suspend(context.Background(), testID, "malware", nil)
	if err != nil {
		t.Fatalf("Suspend error: %v", err)
	}
	if !changed {
		t.Fatal("expected changed=true")
	}

	mock.ExpectExec(`UPDATE tune_versions\s+SET status = \$2, suspension_reason = \$3`).
		WithArgs(testID, string(models.StatusSuspended), "malware", nil, string(models.StatusArchived)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err = repo.Suspend(context.Background(), testID, "malware", nil)
	if err != nil {
		t.Fatalf("Suspend error: %v", err)
	}
	if changed {
		t.Fatal("expected changed=false for already-suspended version")
	}
}

func TestArchive_WrongStatus(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE tune_versions SET status = \$2, removed_at = \$3`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Archive(context.Background(), testID, time.Now())
	if !errors.Is(err, common.ErrNotRemovable) {
		t.Fatalf("expected ErrNotRemovable, got %v", err)
	}
}
