package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/knowledge-content/pkg/kbcontent"
)

type fakeObjects struct {
	headErr    error
	deleteErr  error
	bucketErr  error
	createErr  error
	created    bool
	deletedKey string
}

func (f *fakeObjects) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return &s3.HeadObjectOutput{}, f.headErr
}

func (f *fakeObjects) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deletedKey = aws.ToString(in.Key)
	return &s3.DeleteObjectOutput{}, f.deleteErr
}

func (f *fakeObjects) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.bucketErr
}

func (f *fakeObjects) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created = true
	return &s3.CreateBucketOutput{}, f.createErr
}

type fakeUploader struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (f *fakeUploader) Upload(ctx context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.input = in
	data, _ := io.ReadAll(in.Body)
	f.body = string(data)
	if f.err != nil {
		return nil, f.err
	}
	return &manager.UploadOutput{}, nil
}

func TestS3Backend_Config(t *testing.T) {
	_, err := New(context.Background(), Config{Region: "us-east-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket name is required")
}

func TestS3Backend_Put(t *testing.T) {
	objects := &fakeObjects{}
	up := &fakeUploader{}
	b := newBackend(Config{Bucket: "kb", EnableSSE: true, SSEAlgorithm: "AES256"}, objects, up, nil)

	res, err := b.Put(context.Background(), "knowledge-content/a-q3.pdf", strings.NewReader("pdf"), kbcontent.PutParams{
		FileName: "q3.pdf",
		MimeType: "application/pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "knowledge-content/a-q3.pdf", res.Key)
	assert.Equal(t, "s3://kb/knowledge-content/a-q3.pdf", res.PublicRef)
	assert.Equal(t, "pdf", up.body)
	assert.Equal(t, "application/pdf", aws.ToString(up.input.ContentType))
	assert.Equal(t, "q3.pdf", up.input.Metadata["original-filename"])
	assert.Equal(t, types.ServerSideEncryptionAes256, up.input.ServerSideEncryption)

	up.err = errors.New("network down")
	_, err = b.Put(context.Background(), "k", strings.NewReader("x"), kbcontent.PutParams{})
	assert.ErrorContains(t, err, "network down")
}

func TestS3Backend_Exists(t *testing.T) {
	objects := &fakeObjects{}
	b := newBackend(Config{Bucket: "kb"}, objects, nil, nil)
	ctx := context.Background()

	ok, err := b.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	objects.headErr = &types.NotFound{}
	ok, err = b.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	objects.headErr = &smithy.GenericAPIError{Code: "NoSuchKey", Message: "gone"}
	ok, err = b.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	objects.headErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "no"}
	_, err = b.Exists(ctx, "k")
	assert.Error(t, err)
}

func TestS3Backend_Delete(t *testing.T) {
	objects := &fakeObjects{}
	b := newBackend(Config{Bucket: "kb"}, objects, nil, nil)
	ctx := context.Background()

	require.NoError(t, b.Delete(ctx, "k1"))
	assert.Equal(t, "k1", objects.deletedKey)

	objects.deleteErr = &types.NoSuchKey{}
	assert.NoError(t, b.Delete(ctx, "k2"))

	objects.deleteErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "no"}
	assert.Error(t, b.Delete(ctx, "k3"))
}

func TestS3Backend_CreateBucket(t *testing.T) {
	objects := &fakeObjects{bucketErr: &types.NotFound{}}
	b := newBackend(Config{Bucket: "kb", Region: "us-east-1"}, objects, nil, nil)
	require.NoError(t, b.createBucketIfNotExists(context.Background()))
	assert.True(t, objects.created)

	objects = &fakeObjects{
		bucketErr: &types.NotFound{},
		createErr: &smithy.GenericAPIError{Code: "BucketAlreadyOwnedByYou"},
	}
	b = newBackend(Config{Bucket: "kb"}, objects, nil, nil)
	assert.NoError(t, b.createBucketIfNotExists(context.Background()))

	objects = &fakeObjects{}
	b = newBackend(Config{Bucket: "kb"}, objects, nil, nil)
	require.NoError(t, b.createBucketIfNotExists(context.Background()))
	assert.False(t, objects.created)
}

func TestS3Backend_Sign(t *testing.T) {
	b, err := New(context.Background(), Config{
		Bucket:          "kb",
		Region:          "us-east-1",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Endpoint:        "http://localhost:9000",
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	signed, err := b.Sign(context.Background(), "knowledge-content/a-q3.pdf", 300*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 300, signed.ExpiresIn)
	assert.True(t, strings.HasPrefix(signed.URL, "http://localhost:9000/kb/knowledge-content/a-q3.pdf?"), signed.URL)
	assert.Contains(t, signed.URL, "X-Amz-Expires=300")
	assert.Contains(t, signed.URL, "X-Amz-Signature=")
}
