// Package filesystem stores artifacts in a local directory.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/xraph/spool"
	"github.com/xraph/spool/export"
)

// Compile-time interface check.
var _ export.ArtifactStorage = (*Storage)(nil)

// Storage writes artifacts into dir and returns URLs under baseURL.
type Storage struct {
	dir     string
	baseURL string
}

// New creates dir if needed and returns a Storage rooted there. baseURL is
// the public prefix files are served under, e.g. "https://host/files".
func New(dir, baseURL string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("spool/filesystem: create %s: %w", dir, err)
	}
	return &Storage{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the storage directory.
func (s *Storage) Dir() string { return s.dir }

// SaveArtifact writes data under filename. The file appears atomically and
// an existing file is never overwritten.
func (s *Storage) SaveArtifact(_ context.Context, filename, _ string, data []byte) (string, error) {
	path, err := s.path(filename)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("spool/filesystem: save %s: %w", filename, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("spool/filesystem: save %s: %w", filename, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("spool/filesystem: save %s: %w", filename, err)
	}

	// Link fails when the target exists, unlike Rename.
	if err := os.Link(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("spool/filesystem: save %s: %w", filename, err)
	}
	return s.URL(filename), nil
}

// DeleteArtifact removes filename. A missing file reports
// spool.ErrArtifactNotFound.
func (s *Storage) DeleteArtifact(_ context.Context, filename string) error {
	path, err := s.path(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return spool.ErrArtifactNotFound
		}
		return fmt.Errorf("spool/filesystem: delete %s: %w", filename, err)
	}
	return nil
}

// URL returns the public URL of filename.
func (s *Storage) URL(filename string) string {
	return s.baseURL + "/" + url.PathEscape(filename)
}

// Open opens filename for reading.
func (s *Storage) Open(filename string) (*os.File, error) {
	path, err := s.path(filename)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, spool.ErrArtifactNotFound
	}
	return f, err
}

// path resolves filename inside dir, rejecting anything that is not a plain
// file name.
func (s *Storage) path(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return "", fmt.Errorf("spool/filesystem: invalid filename %q", filename)
	}
	return filepath.Join(s.dir, filename), nil
}
