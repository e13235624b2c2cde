package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

var _ Store = (*AzureStore)(nil)

// AzureStore serves a container prefix on Azure Blob Storage. Only
// shared-key authentication is supported.
type AzureStore struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzureStore creates an AzureStore for account using opts.AzureAccountKey.
func NewAzureStore(account, container, prefix string, opts StoreOptions) (*AzureStore, error) {
	if account == "" {
		return nil, errors.New("azure store: account name is required")
	}
	if opts.AzureAccountKey == "" {
		return nil, errors.New("azure store: account key is required")
	}
	cred, err := azblob.NewSharedKeyCredential(account, opts.AzureAccountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", account)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzureStore{client: client, container: container, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *AzureStore) String() string { return "az://" + s.container + "/" + s.prefix }

// List implements Store. Blob listing is flat, so nested blobs are skipped.
func (s *AzureStore) List(ctx context.Context, dir string) ([]string, error) {
	prefix := dirPrefix(s.prefix, dir)
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	var names []string
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			if bloberror.HasCode(err, bloberror.ContainerNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("list az://%s/%s: %w", s.container, prefix, err)
		}
		if resp.Segment == nil {
			continue
		}
		for _, item := range resp.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			if name := childName(*item.Name, prefix); name != "" {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// Read implements Store.
func (s *AzureStore) Read(ctx context.Context, p string) ([]byte, error) {
	key := objectKey(s.prefix, p)
	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, fmt.Errorf("az://%s/%s: %w", s.container, key, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("download az://%s/%s: %w", s.container, key, err)
	}
	return readAll(resp.Body)
}
