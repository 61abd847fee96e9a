package storage

import (
	"fmt"

	"github.com/google/uuid"
)

// Artifact filenames in the validated area.
const (
	PackageObject   = "package.revsyncpkg"
	SignatureObject = "signature.sig"
	HashesObject    = "hashes.json"

	uploadObject = "upload.revsyncpkg"
)

// QuarantinePath is the key of a raw upload in the quarantine bucket.
func QuarantinePath(userID, listingID, versionID uuid.UUID) string {
	return fmt.Sprintf("tuner/%s/%s/%s/%s", userID, listingID, versionID, uploadObject)
}

// ValidatedPaths holds the three artifact keys for one validated version.
type ValidatedPaths struct {
	Package   string
	Signature string
	Hashes    string
}

// ValidatedPathsFor returns the validated-area keys for a version.
func ValidatedPathsFor(listingID, versionID uuid.UUID) ValidatedPaths {
	prefix := fmt.Sprintf("listing/%s/%s", listingID, versionID)
	return ValidatedPaths{
		Package:   prefix + "/" + PackageObject,
		Signature: prefix + "/" + SignatureObject,
		Hashes:    prefix + "/" + HashesObject,
	}
}
