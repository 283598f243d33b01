package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StoreType selects a workspace backend.
type StoreType string

const (
	StoreTypeFS     StoreType = "fs"
	StoreTypeMemory StoreType = "memory"
	StoreTypeS3     StoreType = "s3"
	StoreTypeGCS    StoreType = "gcs"
)

// NewStoreFromEnv creates a workspace store from environment variables.
//
// Environment variables:
//   - ATTEST_WORKSPACE_TYPE: "fs" (default), "memory", "s3", or "gcs"
//   - ATTEST_DATA_DIR: base directory for the filesystem store (default: "data")
//
// For S3:
//   - ATTEST_S3_BUCKET (required)
//   - ATTEST_S3_REGION or AWS_REGION
//   - ATTEST_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - ATTEST_S3_PREFIX (optional)
//
// For GCS:
//   - ATTEST_GCS_BUCKET (required)
//   - ATTEST_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	storeType := StoreType(os.Getenv("ATTEST_WORKSPACE_TYPE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		return newFileStoreFromEnv()
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported workspace type: %s", storeType)
	}
}

func newFileStoreFromEnv() (Store, error) {
	dataDir := os.Getenv("ATTEST_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	return NewFileStore(filepath.Join(dataDir, "workspaces"))
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("ATTEST_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("ATTEST_S3_BUCKET is required for S3 workspaces")
	}

	region := os.Getenv("ATTEST_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3Config{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("ATTEST_S3_ENDPOINT"),
		Prefix:   os.Getenv("ATTEST_S3_PREFIX"),
	})
}
