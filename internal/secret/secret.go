// Package secret stores the credential used by the remote rule client.
// The controller never inspects credential contents; it only moves opaque
// bytes between the store and the client.
package secret

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned when no credential has been stored.
var ErrNotFound = errors.New("credential not found")

// Store is an opaque credential store.
type Store interface {
	Get() ([]byte, error)
	Set(value []byte) error
	Delete() error
}

// FileStore persists the credential to a single file with 0600 permissions.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed credential store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Get reads the credential.
func (s *FileStore) Get() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	return data, nil
}

// Set writes the credential atomically.
func (s *FileStore) Set(value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, value, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// Delete removes the credential. Deleting a missing credential is a no-op.
func (s *FileStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
