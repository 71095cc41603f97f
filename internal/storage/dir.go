package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultDir is used when no save directory is configured.
const DefaultDir = ".saves"

const fileExt = ".json"

// Dir stores one file per key under a directory.
type Dir struct {
	root string
	log  zerolog.Logger
}

func NewDir(root string, log zerolog.Logger) (*Dir, error) {
	if root == "" {
		root = DefaultDir
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create save directory %s", root)
	}
	log.Debug().Str("dir", root).Msg("directory storage ready")
	return &Dir{root: root, log: log}, nil
}

func (d *Dir) path(key string) string {
	return filepath.Join(d.root, key+fileExt)
}

func (d *Dir) Get(_ context.Context, key string) ([]byte, error) {
	if !validKey(key) {
		return nil, ErrInvalidKey
	}
	data, err := os.ReadFile(d.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", key)
	}
	return data, nil
}

// Set writes through a temporary file so a crash never leaves a half
// written value behind.
func (d *Dir) Set(_ context.Context, key string, value []byte) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	tmp, err := os.CreateTemp(d.root, "."+key+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "write %s", key)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", key)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "write %s", key)
	}
	if err := os.Rename(tmp.Name(), d.path(key)); err != nil {
		return errors.Wrapf(err, "write %s", key)
	}
	return nil
}

func (d *Dir) Delete(_ context.Context, key string) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	err := os.Remove(d.path(key))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "delete %s", key)
	}
	return nil
}

func (d *Dir) Keys(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "list save directory")
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		key := strings.TrimSuffix(name, fileExt)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (d *Dir) Close() error { return nil }
