package entitlements

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

var testListingID = uuid.MustParse("ffffffff-0000-4000-8000-000000000001")

func TestRevokeForListing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepository(db)

	mock.ExpectExec(`UPDATE entitlements SET is_revoked = TRUE\s+WHERE listing_id = \$1 AND is_revoked = FALSE`).
		WithArgs(testListingID).
		WillReturnResult(sqlmock.NewResult(0, 7))

	count, err := repo.RevokeForListing(context.Background(), testListingID)
	if err != nil {
		t.Fatalf("RevokeForListing error: %v", err)
	}
	if count != 7 {
		t.Fatalf("expected 7 revocations, got %d", count)
	}

	// A second pass finds nothing left to revoke.
	mock.ExpectExec(`UPDATE entitlements SET is_revoked = TRUE`).
		WithArgs(testListingID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	count, err = repo.RevokeForListing(context.Background(), testListingID)
	if err != nil {
		t.Fatalf("RevokeForListing error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 revocations, got %d", count)
	}
}

func TestRevokeForListing_DBError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepository(db)

	mock.ExpectExec(`UPDATE entitlements SET is_revoked = TRUE`).
		WithArgs(testListingID).
		WillReturnError(errors.New("db down"))

	if _, err := repo.RevokeForListing(context.Background(), testListingID); err == nil {
		t.Fatal("expected error")
	}
}
