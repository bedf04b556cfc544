package aws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/blue-mimo/image-labelling/pkg/imageutil"
	istypes "github.com/blue-mimo/image-labelling/pkg/types"
)

// S3ImageStore implements the types.ImageStore interface on S3. Images are
// stored under the uploads prefix of the bucket.
type S3ImageStore struct {
	bucket   string
	s3Client *s3.Client
}

var _ istypes.ImageStore = (*S3ImageStore)(nil)

// Get implements types.ImageStore.
func (s *S3ImageStore) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(imageutil.ObjectKey(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("getting image %s: %w", name, istypes.ErrKeyNotFound)
		}
		return nil, fmt.Errorf("getting image %s: %w", name, err)
	}
	return out.Body, nil
}

// Put implements types.ImageStore.
func (s *S3ImageStore) Put(ctx context.Context, name string, contentType string, size int64, body io.Reader) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(imageutil.ObjectKey(name)),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("putting image %s: %w", name, err)
	}
	return nil
}

// Delete implements types.ImageStore.
func (s *S3ImageStore) Delete(ctx context.Context, name string) error {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(imageutil.ObjectKey(name)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("deleting image %s: %w", name, err)
	}
	return nil
}

// List implements types.ImageStore. Objects under the uploads prefix without an
// allowed image extension are skipped.
func (s *S3ImageStore) List(ctx context.Context) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(imageutil.UploadsPrefix),
	})
	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing images: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if name, ok := imageutil.NameFromKey(key); ok && !strings.Contains(name, "/") {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// Bucket returns the name of the bucket holding the images.
func (s *S3ImageStore) Bucket() string {
	return s.bucket
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey"
}

// NewS3ImageStoreWithClient returns an ImageStore using the given S3 client.
func NewS3ImageStoreWithClient(client *s3.Client, bucket string) *S3ImageStore {
	return &S3ImageStore{s3Client: client, bucket: bucket}
}

// NewS3ImageStore returns an ImageStore for the bucket.
func NewS3ImageStore(cfg aws.Config, bucket string) *S3ImageStore {
	client := s3.NewFromConfig(cfg, func(options *s3.Options) {
		options.DisableLogOutputChecksumValidationSkipped = true
	})
	return NewS3ImageStoreWithClient(client, bucket)
}
