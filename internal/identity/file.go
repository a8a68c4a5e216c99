package identity

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps the mapping as a single JSON object on disk, the format
// shared with other tools that read the token file.
type FileStore struct {
	Path string
}

// NewFileStore creates a store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the JSON mapping. A missing file yields an empty mapping.
func (s *FileStore) Load(_ context.Context) (map[string]string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	tokens := map[string]string{}
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// Save rewrites the whole file atomically: the mapping is marshalled to a
// temp file in the same directory and renamed over the old copy, so a
// crashed persist never leaves a truncated cache behind.
func (s *FileStore) Save(_ context.Context, tokens map[string]string) error {
	data, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.Path)
}
