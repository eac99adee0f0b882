package blobs

import (
	"io"
	"os"
	"path/filepath"
)

// LocalStore keeps uploads under <baseDir>/<entity>/<name> on the local
// filesystem.
type LocalStore struct {
	baseDir string
}

// NewLocalStore returns a filesystem store rooted at baseDir. The
// directory is created if missing.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, err
	}
	return &LocalStore{baseDir: baseDir}, nil
}

// Path returns the on-disk location of a stored file.
func (s *LocalStore) Path(entity, name string) string {
	return filepath.Join(s.baseDir, entity, Sanitize(name))
}

// Put writes the content to a temporary file in the target directory and
// renames it into place, so readers never observe partial writes.
func (s *LocalStore) Put(entity, name string, r io.Reader) error {
	dir := filepath.Join(s.baseDir, entity)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err = io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.Path(entity, name))
}

func (s *LocalStore) Get(entity, name string) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(entity, name))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return f, err
}

func (s *LocalStore) Delete(entity, name string) error {
	err := os.Remove(s.Path(entity, name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *LocalStore) DeleteAll(entity string) error {
	return os.RemoveAll(filepath.Join(s.baseDir, entity))
}
