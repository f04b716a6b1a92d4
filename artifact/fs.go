package artifact

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/teranos/compliq/am"
	"github.com/teranos/compliq/errors"
)

// FileStore keeps artifacts under a root directory
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("artifact directory cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve artifact directory %s", root)
	}
	if err := os.MkdirAll(abs, am.DefaultDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "failed to create artifact directory %s", abs)
	}
	return &FileStore{root: abs}, nil
}

// Root returns the absolute root directory
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) path(key string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.NewInvalidRequestError("artifact key %q escapes the artifact directory", key)
	}
	return p, nil
}

// Put writes data atomically through a temp file in the same directory
func (s *FileStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), am.DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".artifact-*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file for %s", key)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write %s", key)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", key)
	}
	if err := os.Chmod(tmp.Name(), am.DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to chmod %s", key)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return errors.Wrapf(err, "failed to move %s into place", key)
	}
	return nil
}

// Get reads the artifact at key
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrapf(errors.ErrNotFound, "artifact %s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", key)
	}
	return data, nil
}

// Location is the absolute file path of key
func (s *FileStore) Location(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}
