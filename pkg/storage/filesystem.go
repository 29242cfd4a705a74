package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage persists files on disk under a base directory.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./photos"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create photos directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// Save writes the given bytes to the provided relative path under the base dir.
func (s *LocalStorage) Save(filename string, data []byte) (string, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare photo directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write photo file: %w", err)
	}
	return filename, nil
}

// Open returns a read-only handle for the stored file.
func (s *LocalStorage) Open(filename string) (*os.File, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("open photo file: %w", err)
	}
	return file, nil
}

// Remove deletes a stored file if present.
func (s *LocalStorage) Remove(filename string) error {
	path, err := s.resolve(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete photo file: %w", err)
	}
	return nil
}

// CleanupOlderThan removes files last modified before cutoff. It keeps going
// past files it cannot remove and returns the keys it deleted along with a
// joined error for the rest.
func (s *LocalStorage) CleanupOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	var deleted []string
	var failures []error
	err := filepath.WalkDir(s.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			failures = append(failures, err)
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			rel = path
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			failures = append(failures, fmt.Errorf("remove %s: %w", filepath.ToSlash(rel), err))
			return nil
		}
		deleted = append(deleted, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		failures = append(failures, err)
	}
	if len(failures) > 0 {
		return deleted, errors.Join(failures...)
	}
	return deleted, nil
}

// resolve maps a slash separated key into the base dir and refuses keys that
// would escape it.
func (s *LocalStorage) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(s.baseDir, clean), nil
}

// LocalPhotoStore serves photos from disk through signed download links.
type LocalPhotoStore struct {
	files   *LocalStorage
	signer  *SignedURLSigner
	baseURL string
}

// NewLocalPhotoStore builds a BlobStore over local files. baseURL is the
// absolute prefix of the download route, e.g. https://host/api/v1/photos.
func NewLocalPhotoStore(files *LocalStorage, signer *SignedURLSigner, baseURL string) *LocalPhotoStore {
	return &LocalPhotoStore{files: files, signer: signer, baseURL: strings.TrimRight(baseURL, "/")}
}

// Upload writes the photo and returns a signed download URL.
func (p *LocalPhotoStore) Upload(ctx context.Context, key string, data []byte, contentType string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	if _, err := p.files.Save(key, data); err != nil {
		return Object{}, err
	}
	token, _, err := p.signer.Generate(contentType, key)
	if err != nil {
		_ = p.files.Remove(key)
		return Object{}, fmt.Errorf("sign photo url: %w", err)
	}
	return Object{Handle: key, URL: p.baseURL + "/" + url.PathEscape(token)}, nil
}

// Delete removes the photo behind handle.
func (p *LocalPhotoStore) Delete(ctx context.Context, handle string) error {
	return p.files.Remove(handle)
}

// PurgeOlderThan deletes photos stored before cutoff.
func (p *LocalPhotoStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	return p.files.CleanupOlderThan(ctx, cutoff)
}

// OpenSigned validates token and opens the referenced photo.
func (p *LocalPhotoStore) OpenSigned(token string) (io.ReadCloser, string, error) {
	contentType, key, _, err := p.signer.Parse(token, false)
	if err != nil {
		return nil, "", err
	}
	file, err := p.files.Open(key)
	if err != nil {
		return nil, "", err
	}
	return file, contentType, nil
}
