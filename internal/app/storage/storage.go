package storage

import (
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// Storage is a content-addressable directory of artifacts, laid out as
// <root>/blobs/<algorithm>/<hex>.
type Storage struct {
	root string
}

// CreateStorage creates the storage directory tree if necessary.
func CreateStorage(root string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Join(root, "blobs", string(digest.Canonical)), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating storage directory")
	}
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating download directory")
	}
	return &Storage{root: root}, nil
}

// DownloadDir is where in-flight downloads are written before being committed.
func (s *Storage) DownloadDir() string {
	return filepath.Join(s.root, "tmp")
}

// Location returns the path an artifact with the given digest is stored at.
func (s *Storage) Location(dgst digest.Digest) string {
	return filepath.Join(s.root, "blobs", string(dgst.Algorithm()), dgst.Encoded())
}

// Commit moves a downloaded file to its content-addressed location. A file
// already there has the same content and is replaced.
func (s *Storage) Commit(path string, dgst digest.Digest) (string, error) {
	if err := dgst.Validate(); err != nil {
		return "", errors.Wrapf(err, "committing %s", path)
	}
	location := s.Location(dgst)
	if err := os.MkdirAll(filepath.Dir(location), 0o755); err != nil {
		return "", errors.Wrap(err, "creating blob directory")
	}
	if err := os.Rename(path, location); err != nil {
		return "", errors.Wrapf(err, "committing %s", dgst)
	}
	return location, nil
}

// Discard removes a downloaded file whose content is already stored.
func (s *Storage) Discard(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "discarding %s", path)
	}
	return nil
}
