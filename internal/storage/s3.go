package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

const delimiter = "/"

// S3Service drains objects from a single bucket of an S3-compatible store.
type S3Service struct {
	client *s3.Client
	bucket string
}

func NewS3Service(client *s3.Client, bucket string) *S3Service {
	return &S3Service{
		client: client,
		bucket: bucket,
	}
}

func (s *S3Service) CheckBucket(ctx context.Context) error {
	if s.bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", s.bucket, classifyError(err, ErrBucketNotFound))
	}
	return nil
}

// ListChildren issues delimiter-scoped ListObjectsV2 requests for one
// directory level. Continuation tokens are followed within the level only.
func (s *S3Service) ListChildren(ctx context.Context, prefix string) (Listing, error) {
	listing := Listing{Prefix: prefix}

	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Delimiter: aws.String(delimiter),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, input, func(o *s3.ListObjectsV2PaginatorOptions) {
		o.StopOnDuplicateToken = true
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return Listing{}, fmt.Errorf("list objects %q: %w", prefix, classifyError(err, ErrBucketNotFound))
		}

		for _, obj := range page.Contents {
			listing.Objects = append(listing.Objects, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: obj.LastModified,
			})
		}
		for _, cp := range page.CommonPrefixes {
			listing.SubPrefixes = append(listing.SubPrefixes, aws.ToString(cp.Prefix))
		}
	}

	return listing, nil
}

// Download streams the object body into dst from offset zero with a single
// unranged GET.
func (s *S3Service) Download(ctx context.Context, key string, dst io.WriterAt) (int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("get object %s: %w", key, classifyError(err, ErrObjectNotFound))
	}
	defer out.Body.Close()

	n, err := io.Copy(io.NewOffsetWriter(dst, 0), out.Body)
	if err != nil {
		return n, fmt.Errorf("read object %s: %w", key, err)
	}
	if want := aws.ToInt64(out.ContentLength); out.ContentLength != nil && n != want {
		return n, fmt.Errorf("read object %s: got %d of %d bytes: %w", key, n, want, io.ErrUnexpectedEOF)
	}
	return n, nil
}

func (s *S3Service) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, classifyError(err, ErrObjectNotFound))
	}
	return nil
}

// classifyError maps SDK errors onto the package sentinels. notFound is used
// for 404 responses that carry no more specific error code.
func classifyError(err error, notFound error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return fmt.Errorf("%w: %w", ErrBucketNotFound, err)
		case "NoSuchKey":
			return fmt.Errorf("%w: %w", ErrObjectNotFound, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %w", ErrAccessDenied, err)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", notFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrAccessDenied, err)
		}
	}
	return err
}

var _ Service = (*S3Service)(nil)
