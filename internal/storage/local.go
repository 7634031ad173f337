package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// LocalStore keeps uploads on disk under root and serves them from baseURL.
type LocalStore struct {
	root    string
	baseURL string
}

var _ ImageStore = (*LocalStore)(nil)

func NewLocalStore(root, baseURL string) *LocalStore {
	return &LocalStore{root: filepath.Clean(root), baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *LocalStore) Save(_ context.Context, name, contentType string, r io.Reader) (StoredImage, error) {
	ext, err := ValidateImage(name, 0)
	if err != nil {
		return StoredImage{}, err
	}
	data, _, err := readImage(r, contentType, ext)
	if err != nil {
		return StoredImage{}, err
	}

	key := objectKey(ext)
	fullPath := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		log.Error().Str("component", "storage").Err(err).Str("dir", filepath.Dir(fullPath)).Msg("create upload dir failed")
		return StoredImage{}, err
	}

	out, err := os.Create(fullPath)
	if err != nil {
		return StoredImage{}, err
	}
	defer out.Close()

	if _, err := io.Copy(out, newReader(data)); err != nil {
		return StoredImage{}, err
	}
	log.Debug().Str("component", "storage").Str("key", key).Int("bytes", len(data)).Msg("image saved")

	return StoredImage{Key: key, URL: s.baseURL + "/" + key}, nil
}

// Delete removes key from disk. Missing files are not an error and keys that
// escape root are refused.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return nil
	}

	cleanRel := strings.TrimPrefix(path.Clean("/"+strings.TrimPrefix(trimmed, "/")), "/")
	if !strings.HasPrefix(cleanRel, "products/") {
		return fmt.Errorf("refusing to delete non-upload path: %s", key)
	}

	target := filepath.Clean(filepath.Join(s.root, filepath.FromSlash(cleanRel)))
	if !strings.HasPrefix(target, s.root+string(os.PathSeparator)) {
		return fmt.Errorf("refusing to delete path outside upload root: %s", key)
	}

	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
