package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// IdentityStore keeps the user id a peer presents on Init to resume its
// identity. An empty id means no prior identity.
type IdentityStore interface {
	Load() (string, error)
	Save(id string) error
}

type FileIdentity struct {
	path string
}

func NewFileIdentity(path string) *FileIdentity {
	return &FileIdentity{path: path}
}

func (f *FileIdentity) Load() (string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read identity: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (f *FileIdentity) Save(id string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}
	if err := os.WriteFile(f.path, []byte(id+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}
	return nil
}

// memoryIdentity is used when the peer has nowhere to persist its identity.
type memoryIdentity struct {
	id string
}

func (m *memoryIdentity) Load() (string, error) { return m.id, nil }

func (m *memoryIdentity) Save(id string) error {
	m.id = id
	return nil
}
