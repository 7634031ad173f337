package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const MaxImageSize = 5 << 20

var (
	ErrImageTooLarge    = errors.New("image file too large (max 5MB)")
	ErrUnsupportedImage = errors.New("unsupported image type")
)

var allowedExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

type StoredImage struct {
	Key string
	URL string
}

type ImageStore interface {
	Save(ctx context.Context, name, contentType string, r io.Reader) (StoredImage, error)
	Delete(ctx context.Context, key string) error
}

// ValidateImage checks the file name extension and declared size.
func ValidateImage(name string, size int64) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "", fmt.Errorf("%w: image file extension is required", ErrUnsupportedImage)
	}
	if _, ok := allowedExtensions[ext]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, ext)
	}
	if size > MaxImageSize {
		return "", ErrImageTooLarge
	}
	return ext, nil
}

func objectKey(ext string) string {
	return path.Join("products", primitive.NewObjectID().Hex()+ext)
}

// readImage buffers at most MaxImageSize bytes and sniffs the content type
// when the caller did not provide one.
func readImage(r io.Reader, contentType, ext string) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageSize+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > MaxImageSize {
		return nil, "", ErrImageTooLarge
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = allowedExtensions[ext]
		if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
			contentType = sniffed
		}
	}
	return data, contentType, nil
}

func newReader(data []byte) *bytes.Reader {
	return bytes.NewReader(data)
}
