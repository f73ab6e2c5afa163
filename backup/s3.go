package backup

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Client is the subset of the S3 API the target uses. *s3.Client
// satisfies it; tests supply a fake.
type Client interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Target stores snapshots as objects under a key prefix. Uploads
// stream through the SDK's managed uploader, so large snapshots never
// buffer fully in memory.
type S3Target struct {
	client   Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Target creates a target writing to bucket under prefix.
func NewS3Target(client Client, bucket, prefix string) *S3Target {
	return &S3Target{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}
}

func (t *S3Target) key(name string) string {
	return path.Join(t.prefix, path.Base(name))
}

func (t *S3Target) Put(ctx context.Context, name string, r io.Reader) error {
	_, err := t.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.key(name)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("s3 upload %q: %w", t.key(name), err)
	}
	return nil
}

func (t *S3Target) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.key(name)),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %q: %w", t.key(name), err)
	}
	return out.Body, nil
}
