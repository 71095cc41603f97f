// Package storage is a flat key-value layer. The backend is chosen by
// configuration: a directory of files, a SQLite database, Redis, or memory.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Backend stores opaque values under string keys.
type Backend interface {
	// Get returns ErrNotFound for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete is a no-op for a missing key.
	Delete(ctx context.Context, key string) error
	// Keys lists every key starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Error is a constant storage error.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrNotFound   Error = "storage: key not found"
	ErrInvalidKey Error = "storage: invalid key"
)

// Kind names a backend implementation.
type Kind string

const (
	KindDir    Kind = "dir"
	KindSQLite Kind = "sqlite"
	KindRedis  Kind = "redis"
	KindMemory Kind = "memory"
)

type Options struct {
	Kind       Kind
	Dir        string
	SQLitePath string
	Redis      RedisOptions
}

// Open builds the backend selected by opts.Kind.
func Open(ctx context.Context, opts Options, log zerolog.Logger) (Backend, error) {
	log = log.With().Str("component", "storage").Str("kind", string(opts.Kind)).Logger()
	switch Kind(strings.ToLower(string(opts.Kind))) {
	case KindDir, "":
		return NewDir(opts.Dir, log)
	case KindSQLite:
		return NewSQLite(ctx, opts.SQLitePath, log)
	case KindRedis:
		return NewRedis(ctx, opts.Redis, log)
	case KindMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", opts.Kind)
}

func validKey(key string) bool {
	return key != "" && !strings.ContainsAny(key, `/\`) && key != "." && key != ".."
}
