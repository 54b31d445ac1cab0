package tokenstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/jrsteele09/vmcp-gateway/internal/errors"
)

var _ Store = (*File)(nil)

// File is a Store persisted as a single JSON document. Every mutation rewrites
// the file (via a temp file + rename) before returning.
//
// The directory is created 0700 and the file 0600: it holds bearer tokens.
type File struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// NewFile opens (or creates on first write) the store at path.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidRequest, "[tokenstore NewFile] token store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, apperrors.Wrapf(err, "[tokenstore NewFile] failed to create token store directory")
	}

	f := &File{path: path, values: make(map[string]string)}
	data, err := os.ReadFile(path)
	switch {
	case apperrors.Is(err, os.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, apperrors.Wrapf(err, "[tokenstore NewFile] failed to read token store")
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &f.values); err != nil {
			return nil, apperrors.Wrapf(err, "[tokenstore NewFile] failed to parse token store %s", path)
		}
	}
	return f, nil
}

// Path returns the backing file location
func (f *File) Path() string {
	return f.path
}

func (f *File) Get(_ context.Context, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.values[name]
	return v, ok, nil
}

func (f *File) Set(_ context.Context, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, had := f.values[name]
	f.values[name] = value
	if err := f.flush(); err != nil {
		if had {
			f.values[name] = prev
		} else {
			delete(f.values, name)
		}
		return err
	}
	return nil
}

func (f *File) Clear(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, had := f.values[name]
	if !had {
		return nil
	}
	delete(f.values, name)
	if err := f.flush(); err != nil {
		f.values[name] = prev
		return err
	}
	return nil
}

func (f *File) Take(_ context.Context, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.values[name]
	if !ok {
		return "", false, nil
	}
	delete(f.values, name)
	if err := f.flush(); err != nil {
		f.values[name] = v
		return "", false, err
	}
	return v, true, nil
}

func (f *File) flush() error {
	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return apperrors.Wrapf(err, "[tokenstore flush] failed to encode token store")
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".tokens-*")
	if err != nil {
		return apperrors.Wrapf(err, "[tokenstore flush] failed to create temp token file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return apperrors.Wrapf(err, "[tokenstore flush] failed to set token file permissions")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.Wrapf(err, "[tokenstore flush] failed to write token file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperrors.Wrapf(err, "[tokenstore flush] failed to sync token file")
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Wrapf(err, "[tokenstore flush] failed to close token file")
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return apperrors.Wrapf(err, "[tokenstore flush] failed to replace token file")
	}
	return nil
}
