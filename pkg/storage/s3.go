package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// S3Config holds object storage settings. Static keys are optional; without
// them the default AWS credential chain is used.
type S3Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// ObjectPutter is the subset of the S3 API the archiver needs
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// BlobStore writes objects to a single bucket
type BlobStore struct {
	client ObjectPutter
	bucket string
}

// NewS3Client builds an S3 client from cfg. Endpoint and path-style are for
// MinIO and other S3-compatible stores.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// NewBlobStore wraps client for bucket
func NewBlobStore(client ObjectPutter, bucket string) *BlobStore {
	return &BlobStore{client: client, bucket: bucket}
}

// Put uploads data under key
func (b *BlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, span := otel.Tracer("github.com/pharoshq/pharos/pkg/storage").Start(ctx, "s3.PutObject")
	defer span.End()
	span.SetAttributes(
		attribute.String("s3.bucket", b.bucket),
		attribute.String("s3.key", key),
		attribute.Int("s3.size", len(data)),
	)

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "put failed")
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}
