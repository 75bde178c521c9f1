// Package blob implements the local binary store on the filesystem.
// Variants are written to a temp file and renamed into place, so a
// cancelled or failed download never leaves a corrupt blob behind.
package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(variantID string) (string, error) {
	if variantID == "" || strings.ContainsAny(variantID, "/\\") || strings.Contains(variantID, "..") {
		return "", fmt.Errorf("invalid variant id: %q", variantID)
	}
	return filepath.Join(s.root, variantID), nil
}

func (s *FileStore) Write(ctx context.Context, variantID string, r io.Reader) (int64, error) {
	target, err := s.path(variantID)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(s.root, ".partial-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *FileStore) Open(ctx context.Context, variantID string) (io.ReadCloser, error) {
	target, err := s.path(variantID)
	if err != nil {
		return nil, err
	}
	return os.Open(target)
}

func (s *FileStore) Has(ctx context.Context, variantID string) bool {
	target, err := s.path(variantID)
	if err != nil {
		return false
	}
	_, err = os.Stat(target)
	return err == nil
}
