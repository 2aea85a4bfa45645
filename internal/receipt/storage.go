package receipt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrFileNotFound is returned when a stored image is missing.
var ErrFileNotFound = errors.New("stored file not found")

// ImageStore holds the uploaded receipt bytes, keyed by the name the
// ingestion service derives from the receipt ID. The pipeline never mutates
// a stored image; replacement is delete plus re-upload.
type ImageStore interface {
	// Put stores a file under the given name.
	Put(name string, data []byte) error

	// Get retrieves a file by name.
	Get(name string) ([]byte, error)

	// Delete removes a file.
	Delete(name string) error
}

// LocalImageStore implements ImageStore on the local filesystem.
type LocalImageStore struct {
	basePath string
}

// NewLocalImageStore creates a LocalImageStore rooted at basePath, creating
// the directory if needed.
func NewLocalImageStore(basePath string) (*LocalImageStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalImageStore{basePath: basePath}, nil
}

// Put stores a file under the given name.
func (l *LocalImageStore) Put(name string, data []byte) error {
	if err := os.WriteFile(filepath.Join(l.basePath, name), data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

// Get retrieves a file by name.
func (l *LocalImageStore) Get(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file.
func (l *LocalImageStore) Delete(name string) error {
	if err := os.Remove(filepath.Join(l.basePath, name)); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
