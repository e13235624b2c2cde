package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

var _ Store = (*S3Store)(nil)

// S3Store serves a bucket prefix on S3 or an S3-compatible endpoint
// (MinIO, Hetzner, R2).
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates an S3Store. Path-style addressing is used unless
// opts.S3URLStyle is "vhost".
func NewS3Store(bucket, prefix string, opts StoreOptions) *S3Store {
	region := opts.S3Region
	if region == "" {
		region = "us-east-1"
	}
	o := s3.Options{
		Region:       region,
		UsePathStyle: opts.S3URLStyle != "vhost",
	}
	if opts.S3KeyID != "" {
		o.Credentials = credentials.NewStaticCredentialsProvider(opts.S3KeyID, opts.S3Secret, "")
	}
	if ep := opts.S3Endpoint; ep != "" {
		if !strings.Contains(ep, "://") {
			ep = "https://" + ep
		}
		o.BaseEndpoint = aws.String(ep)
	}
	return &S3Store{client: s3.New(o), bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3Store) String() string { return "s3://" + s.bucket + "/" + s.prefix }

// List implements Store.
func (s *S3Store) List(ctx context.Context, dir string) ([]string, error) {
	prefix := dirPrefix(s.prefix, dir)
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	var names []string
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			if name := childName(aws.ToString(obj.Key), prefix); name != "" {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// Read implements Store.
func (s *S3Store) Read(ctx context.Context, p string) ([]byte, error) {
	key := objectKey(s.prefix, p)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	return readAll(out.Body)
}
