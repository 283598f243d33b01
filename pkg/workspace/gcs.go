//go:build gcp

package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStore keeps run artifacts under runs/<runID>/<name> in one bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig holds the bucket coordinates.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore builds a store using application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) key(runID, name string) string {
	return s.prefix + "runs/" + runID + "/" + name
}

// EnsureRun is a no-op; GCS has no directories to create.
func (s *GCSStore) EnsureRun(_ context.Context, runID string) error {
	return validRunID(runID)
}

func (s *GCSStore) Put(ctx context.Context, runID, name string, data []byte) error {
	if err := validRunID(runID); err != nil {
		return err
	}
	if err := validName(name); err != nil {
		return err
	}
	w := s.client.Bucket(s.bucket).Object(s.key(runID, name)).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write %s/%s: %w", runID, name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs commit %s/%s: %w", runID, name, err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, runID, name string) ([]byte, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	if err := validName(name); err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(s.bucket).Object(s.key(runID, name)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotExist, runID, name)
		}
		return nil, fmt.Errorf("gcs open %s/%s: %w", runID, name, err)
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read %s/%s: %w", runID, name, err)
	}
	return data, nil
}

func (s *GCSStore) Exists(ctx context.Context, runID, name string) (bool, error) {
	if err := validRunID(runID); err != nil {
		return false, err
	}
	if err := validName(name); err != nil {
		return false, err
	}
	_, err := s.client.Bucket(s.bucket).Object(s.key(runID, name)).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("gcs attrs %s/%s: %w", runID, name, err)
}

func (s *GCSStore) List(ctx context.Context, runID string) ([]string, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	prefix := s.prefix + "runs/" + runID + "/"
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list %s: %w", runID, err)
		}
		name := strings.TrimPrefix(attrs.Name, prefix)
		if name != "" && !strings.Contains(name, "/") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
