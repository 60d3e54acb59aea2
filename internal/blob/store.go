// Package blob stores oversized submission payloads outside the event bus.
// Keys are tenant-scoped; the filesystem is abstracted behind afero so tests
// run against an in-memory FS.
package blob

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// StoreName is the store tag carried in envelope payload references.
const StoreName = "blob"

type Store struct {
	fs  afero.Fs
	dir string
}

func NewStore(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, dir: dir}
}

// Put writes the payload and returns its key.
func (s *Store) Put(_ context.Context, tenantID, submissionID string, data []byte) (string, error) {
	key := path.Join(tenantID, submissionID+".json")
	full := path.Join(s.dir, key)
	if err := s.fs.MkdirAll(path.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("blob: mkdir: %w", err)
	}
	if err := afero.WriteFile(s.fs, full, data, 0o644); err != nil {
		return "", fmt.Errorf("blob: write %s: %w", key, err)
	}
	return key, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, path.Join(s.dir, key))
	if err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", key, err)
	}
	return data, nil
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("blob: invalid key %q", key)
	}
	return nil
}
