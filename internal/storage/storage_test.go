package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func TestValidateImage(t *testing.T) {
	ext, err := ValidateImage("Photo.JPG", 1024)
	require.NoError(t, err)
	assert.Equal(t, ".jpg", ext)

	_, err = ValidateImage("doc.pdf", 10)
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	_, err = ValidateImage("noext", 10)
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	_, err = ValidateImage("big.png", MaxImageSize+1)
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestLocalStoreSaveAndDelete(t *testing.T) {
	root := t.TempDir()
	store := NewLocalStore(root, "http://cdn.local/uploads/")

	img, err := store.Save(context.Background(), "a.png", "", bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(img.Key, "products/"))
	assert.Equal(t, "http://cdn.local/uploads/"+img.Key, img.URL)

	onDisk := filepath.Join(root, filepath.FromSlash(img.Key))
	got, err := os.ReadFile(onDisk)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, got)

	require.NoError(t, store.Delete(context.Background(), img.Key))
	_, err = os.Stat(onDisk)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, store.Delete(context.Background(), img.Key))
}

func TestLocalStoreRefusesEscapes(t *testing.T) {
	store := NewLocalStore(t.TempDir(), "")
	assert.Error(t, store.Delete(context.Background(), "../etc/passwd"))
	assert.Error(t, store.Delete(context.Background(), "other/file.png"))
	assert.NoError(t, store.Delete(context.Background(), "  "))
}

func TestLocalStoreRejectsOversizedStream(t *testing.T) {
	store := NewLocalStore(t.TempDir(), "")
	big := io.LimitReader(zeroReader{}, MaxImageSize+10)

	_, err := store.Save(context.Background(), "a.png", "image/png", big)
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

type fakeS3 struct {
	put     *s3.PutObjectInput
	body    []byte
	deleted string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.put = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = aws.ToString(in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3StoreSave(t *testing.T) {
	fake := &fakeS3{}
	store := &S3Store{client: fake, bucket: "media", baseURL: "https://media.s3.eu-west-1.amazonaws.com"}

	img, err := store.Save(context.Background(), "a.png", "", bytes.NewReader(pngHeader))
	require.NoError(t, err)

	require.NotNil(t, fake.put)
	assert.Equal(t, "media", aws.ToString(fake.put.Bucket))
	assert.Equal(t, img.Key, aws.ToString(fake.put.Key))
	assert.Equal(t, "image/png", aws.ToString(fake.put.ContentType))
	assert.Equal(t, pngHeader, fake.body)
	assert.Equal(t, "https://media.s3.eu-west-1.amazonaws.com/"+img.Key, img.URL)

	require.NoError(t, store.Delete(context.Background(), img.Key))
	assert.Equal(t, img.Key, fake.deleted)
}
