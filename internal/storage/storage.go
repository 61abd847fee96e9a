// Package storage is the object-store boundary for package artifacts:
// quarantine holds raw uploads, the validated area holds signed packages.
package storage

import (
	"context"
	"time"
)

// ObjectStorage abstracts the artifact store. The production implementation
// is S3-compatible; tests substitute an in-memory fake.
type ObjectStorage interface {
	// DownloadToTemp fetches an object into a new temporary file and
	// returns its path. The caller owns the file and removes it.
	DownloadToTemp(ctx context.Context, bucket, key string) (string, error)
	// Upload stores a local file under bucket/key.
	Upload(ctx context.Context, bucket, key, localPath string) error
	Delete(ctx context.Context, bucket, key string) error
	// Move relocates an object across buckets as download, upload, then
	// delete-source. The source is retained if the upload fails.
	Move(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error
	// SignedURL returns a presigned GET URL for client downloads.
	SignedURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
}
