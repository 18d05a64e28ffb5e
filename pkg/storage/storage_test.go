package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = params
	f.body, _ = io.ReadAll(params.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestBlobStore_Put(t *testing.T) {
	fp := &fakePutter{}
	store := NewBlobStore(fp, "archive")

	require.NoError(t, store.Put(context.Background(), "audit/2026-01.ndjson", []byte("{}\n"), "application/x-ndjson"))
	assert.Equal(t, "archive", *fp.input.Bucket)
	assert.Equal(t, "audit/2026-01.ndjson", *fp.input.Key)
	assert.Equal(t, "application/x-ndjson", *fp.input.ContentType)
	assert.Equal(t, "{}\n", string(fp.body))
}

func TestBlobStore_PutError(t *testing.T) {
	store := NewBlobStore(&fakePutter{err: errors.New("denied")}, "archive")
	err := store.Put(context.Background(), "k", nil, "text/plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestNewS3Client_StaticCredentials(t *testing.T) {
	client, err := NewS3Client(context.Background(), S3Config{
		Endpoint:     "http://localhost:9000",
		Region:       "us-east-1",
		AccessKey:    "minio",
		SecretKey:    "minio123",
		UsePathStyle: true,
	})
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), RedisConfig{URL: "redis://" + mr.Addr(), ReadTimeout: time.Second})
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()).Err())

	_, err = NewRedisClient(context.Background(), RedisConfig{URL: "not a url"})
	assert.Error(t, err)
}
