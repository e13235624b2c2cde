package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var _ Store = (*GCSStore)(nil)

// GCSStore serves a bucket prefix on Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore creates a GCSStore. Without opts.GCSKeyFile the client uses
// application default credentials.
func NewGCSStore(ctx context.Context, bucket, prefix string, opts StoreOptions) (*GCSStore, error) {
	var copts []option.ClientOption
	if opts.GCSKeyFile != "" {
		copts = append(copts, option.WithAuthCredentialsFile(option.ServiceAccount, opts.GCSKeyFile))
	}
	client, err := storage.NewClient(ctx, copts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *GCSStore) String() string { return "gs://" + s.bucket + "/" + s.prefix }

// List implements Store.
func (s *GCSStore) List(ctx context.Context, dir string) ([]string, error) {
	prefix := dirPrefix(s.prefix, dir)
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", s.bucket, prefix, err)
		}
		if attrs.Prefix != "" {
			continue // synthetic directory entry
		}
		if name := childName(attrs.Name, prefix); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Read implements Store.
func (s *GCSStore) Read(ctx context.Context, p string) ([]byte, error) {
	key := objectKey(s.prefix, p)
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("gs://%s/%s: %w", s.bucket, key, fs.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", s.bucket, key, err)
	}
	return readAll(r)
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
