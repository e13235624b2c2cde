// Package loader reads semantic definitions and connection secrets from a
// directory tree, either on local disk or in object storage.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Store is a read-only view of a directory tree addressed by slash-separated
// relative paths. Implementations: DirStore, S3Store, GCSStore, AzureStore.
type Store interface {
	// List returns the names of the files directly under dir, sorted. A
	// missing dir yields no names and no error.
	List(ctx context.Context, dir string) ([]string, error)
	// Read returns the content of the file at p. A missing file yields an
	// error matching fs.ErrNotExist.
	Read(ctx context.Context, p string) ([]byte, error)
}

// StoreOptions carries object storage credentials. Only the fields of the
// selected scheme are used.
type StoreOptions struct {
	S3KeyID    string
	S3Secret   string
	S3Endpoint string
	S3Region   string
	// S3URLStyle is "path" (default) or "vhost".
	S3URLStyle string

	GCSKeyFile string

	AzureAccountName string
	AzureAccountKey  string
}

// OpenStore selects a Store from location:
//
//	configs                        local directory
//	file:///etc/mimir              local directory
//	s3://bucket/prefix             S3 or an S3-compatible endpoint
//	gs://bucket/prefix             Google Cloud Storage
//	az://container/prefix          Azure Blob Storage
//	abfss://container@account.dfs.core.windows.net/prefix
//	https://account.blob.core.windows.net/container/prefix
func OpenStore(ctx context.Context, location string, opts StoreOptions) (Store, error) {
	if location == "" {
		return nil, errors.New("empty store location")
	}
	u, err := url.Parse(location)
	if err != nil || len(u.Scheme) <= 1 {
		// No scheme, or a Windows drive letter.
		return NewDirStore(location), nil
	}

	switch u.Scheme {
	case "file":
		return NewDirStore(u.Path), nil
	case "s3":
		bucket, prefix, err := parseBucketURI(u)
		if err != nil {
			return nil, err
		}
		return NewS3Store(bucket, prefix, opts), nil
	case "gs":
		bucket, prefix, err := parseBucketURI(u)
		if err != nil {
			return nil, err
		}
		return NewGCSStore(ctx, bucket, prefix, opts)
	case "az", "abfss", "https":
		account, container, prefix, err := parseAzureLocation(u)
		if err != nil {
			return nil, err
		}
		if account == "" {
			account = opts.AzureAccountName
		}
		return NewAzureStore(account, container, prefix, opts)
	default:
		return nil, fmt.Errorf("unsupported store scheme %q in %q", u.Scheme, location)
	}
}

// parseBucketURI splits scheme://bucket/prefix.
func parseBucketURI(u *url.URL) (bucket, prefix string, err error) {
	if u.Host == "" {
		return "", "", fmt.Errorf("%s location %q has no bucket", u.Scheme, u.String())
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// parseAzureLocation extracts the account, container and prefix of an Azure
// location. The az:// form carries no account.
func parseAzureLocation(u *url.URL) (account, container, prefix string, err error) {
	switch u.Scheme {
	case "abfss":
		// Go's url.Parse puts the container in the userinfo.
		if u.User == nil {
			return "", "", "", fmt.Errorf("abfss location %q missing container@account component", u.String())
		}
		container = u.User.Username()
		account, _, _ = strings.Cut(u.Hostname(), ".")
		prefix = strings.Trim(u.Path, "/")
	case "az":
		container = u.Host
		prefix = strings.Trim(u.Path, "/")
	case "https":
		if !strings.HasSuffix(u.Hostname(), ".blob.core.windows.net") {
			return "", "", "", fmt.Errorf("unrecognized Azure HTTPS host %q", u.Host)
		}
		account, _, _ = strings.Cut(u.Hostname(), ".")
		container, prefix, _ = strings.Cut(strings.Trim(u.Path, "/"), "/")
	}
	if container == "" {
		return "", "", "", fmt.Errorf("empty container in Azure location %q", u.String())
	}
	return account, container, prefix, nil
}

// objectKey joins a store prefix and a relative path into an object key.
func objectKey(prefix, p string) string {
	return strings.TrimPrefix(path.Join(prefix, p), "/")
}

// dirPrefix is the key prefix that lists the objects directly under dir.
func dirPrefix(prefix, dir string) string {
	k := objectKey(prefix, dir)
	if k == "" || k == "." {
		return ""
	}
	return k + "/"
}

// childName returns the object name relative to the listed prefix, or ""
// when the key is the prefix itself or lies in a nested directory.
func childName(key, prefix string) string {
	name := strings.TrimPrefix(key, prefix)
	if name == "" || strings.Contains(name, "/") {
		return ""
	}
	return name
}

func readAll(r io.ReadCloser) ([]byte, error) {
	defer r.Close() //nolint:errcheck
	return io.ReadAll(r)
}

// DirStore serves a directory on the local filesystem.
type DirStore struct {
	root string
}

// NewDirStore creates a DirStore rooted at root.
func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

func (s *DirStore) String() string { return s.root }

// List implements Store.
func (s *DirStore) List(_ context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, filepath.FromSlash(dir)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() || e.Type()&fs.ModeSymlink != 0 {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Read implements Store.
func (s *DirStore) Read(_ context.Context, p string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.root, filepath.FromSlash(p)))
}
