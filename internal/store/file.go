package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps the seen-set as a JSON array of strings, the posted.json
// layout: UTF-8 kept verbatim, two-space indent.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the JSON file at path.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file path.
func (f *FileStore) Path() string { return f.path }

// Load implements Store. A missing file is an empty set; any other read or
// decode failure is an error.
func (f *FileStore) Load(_ context.Context) (Set, error) {
	if f == nil {
		return nil, loadErr(errNotInitialized)
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewSet(), nil
	}
	if err != nil {
		return nil, loadErr(err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return NewSet(), nil
	}

	var links []string
	if err := json.Unmarshal(data, &links); err != nil {
		return nil, loadErr(fmt.Errorf("decode %s: %w", f.path, err))
	}
	return NewSet(links...), nil
}

// Save implements Store. The file is replaced by writing a temp file in the
// same directory and renaming it over the old one.
func (f *FileStore) Save(_ context.Context, s Set) error {
	if f == nil {
		return saveErr(errNotInitialized)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.Sorted()); err != nil {
		return saveErr(fmt.Errorf("encode: %w", err))
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return saveErr(fmt.Errorf("create dir: %w", err))
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return saveErr(err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		cleanup()
		return saveErr(err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return saveErr(err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return saveErr(err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return saveErr(err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return saveErr(err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
