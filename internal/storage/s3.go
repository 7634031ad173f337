package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Store struct {
	client  s3API
	bucket  string
	baseURL string
}

var _ ImageStore = (*S3Store)(nil)

// NewS3Store loads AWS credentials from the default chain.
func NewS3Store(ctx context.Context, region, bucket, publicBaseURL string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	baseURL := strings.TrimRight(publicBaseURL, "/")
	if baseURL == "" || strings.HasPrefix(baseURL, "http://localhost") {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return &S3Store{client: s3.NewFromConfig(cfg), bucket: bucket, baseURL: baseURL}, nil
}

func (s *S3Store) Save(ctx context.Context, name, contentType string, r io.Reader) (StoredImage, error) {
	ext, err := ValidateImage(name, 0)
	if err != nil {
		return StoredImage{}, err
	}
	data, contentType, err := readImage(r, contentType, ext)
	if err != nil {
		return StoredImage{}, err
	}

	key := objectKey(ext)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          newReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		CacheControl:  aws.String("public, max-age=31536000"),
	})
	if err != nil {
		return StoredImage{}, fmt.Errorf("put object %s: %w", key, err)
	}
	return StoredImage{Key: key, URL: s.baseURL + "/" + key}, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}
