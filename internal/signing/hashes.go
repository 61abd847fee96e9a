package signing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HashesArtifact is the hashes.json companion written next to a validated
// package. It carries everything a client needs to verify the download:
// the three digests, the signing key id, and the signed binding inputs.
type HashesArtifact struct {
	VersionID       uuid.UUID `json:"version_id"`
	ListingID       uuid.UUID `json:"listing_id"`
	VersionNumber   string    `json:"version_number"`
	TuneBinSHA256   string    `json:"tune_bin_sha256"`
	ManifestSHA256  string    `json:"manifest_sha256"`
	PackageSHA256   string    `json:"package_sha256"`
	TuneFilename    string    `json:"tune_filename"`
	TuneSizeBytes   int64     `json:"tune_size_bytes"`
	SignedAt        time.Time `json:"signed_at"`
	SigningKeyID    string    `json:"signing_key_id"`
	SignatureBase64 string    `json:"signature_b64"`
}

// Marshal renders the artifact as indented JSON for human inspection.
func (h HashesArtifact) Marshal() ([]byte, error) {
	out, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal hashes artifact: %w", err)
	}
	return out, nil
}
