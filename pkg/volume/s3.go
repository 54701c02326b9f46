package volume

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3 stores each granule as one object named <prefix><granule index in
// hex>. Missing objects read as zeros.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
	size   int64
}

var _ Volume = (*S3)(nil)

// OpenS3 builds an S3 client from spec. Static credentials are used when
// both keys are set; otherwise the SDK default chain applies.
func OpenS3(ctx context.Context, spec S3Spec, size int64) (*S3, error) {
	if spec.Bucket == "" {
		return nil, errors.New("s3 volume: bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if spec.Region != "" {
		opts = append(opts, awsconfig.WithRegion(spec.Region))
	}
	if spec.AccessKeyID != "" && spec.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(spec.AccessKeyID, spec.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if spec.Endpoint != "" {
			o.BaseEndpoint = aws.String(spec.Endpoint)
		}
		o.UsePathStyle = spec.ForcePathStyle
	})
	return NewS3(client, spec.Bucket, spec.KeyPrefix, size), nil
}

// NewS3 wraps an existing client.
func NewS3(client *s3.Client, bucket, prefix string, size int64) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix, size: size}
}

func (v *S3) key(idx int64) string {
	return fmt.Sprintf("%s%016x", v.prefix, idx)
}

func (v *S3) ReadAt(ctx context.Context, p []byte, off int64) error {
	first, n, err := checkGranule(p, off, v.size)
	if err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		dst := p[i*GranuleSize : (i+1)*GranuleSize]
		key := v.key(first + int64(i))

		resp, err := v.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(v.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isNotFound(err) {
				clear(dst)
				continue
			}
			return fmt.Errorf("s3 get object %s: %w", key, err)
		}
		err = readGranule(resp.Body, dst)
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("read s3 object %s: %w", key, err)
		}
	}
	return nil
}

// readGranule fills dst from r. Short and empty objects read as zeros past
// their end, like missing ones.
func readGranule(r io.Reader, dst []byte) error {
	n, err := io.ReadFull(r, dst)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return err
	}
	clear(dst[n:])
	return nil
}

func (v *S3) WriteAt(ctx context.Context, p []byte, off int64) error {
	first, n, err := checkGranule(p, off, v.size)
	if err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		key := v.key(first + int64(i))
		_, err := v.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(v.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(p[i*GranuleSize : (i+1)*GranuleSize]),
			ContentLength: aws.Int64(GranuleSize),
		})
		if err != nil {
			return fmt.Errorf("s3 put object %s: %w", key, err)
		}
	}
	return nil
}

// Sync is a no-op: a successful PutObject is already durable.
func (v *S3) Sync(context.Context) error { return nil }

// Healthcheck verifies the bucket is reachable.
func (v *S3) Healthcheck(ctx context.Context) error {
	_, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(v.bucket)})
	if err != nil {
		return fmt.Errorf("s3 head bucket %s: %w", v.bucket, err)
	}
	return nil
}

func (v *S3) Close() error { return nil }

func (v *S3) String() string { return "s3://" + v.bucket + "/" + v.prefix }

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "NoSuchKey") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "404")
}
