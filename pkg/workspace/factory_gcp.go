//go:build gcp

package workspace

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("ATTEST_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("ATTEST_GCS_BUCKET is required for GCS workspaces")
	}

	return NewGCSStore(ctx, GCSConfig{
		Bucket: bucket,
		Prefix: os.Getenv("ATTEST_GCS_PREFIX"),
	})
}
