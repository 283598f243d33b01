//go:build !gcp

package workspace

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	return nil, fmt.Errorf("GCS workspaces are not enabled in this build (use -tags gcp)")
}
