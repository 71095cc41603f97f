package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	ctx := context.Background()
	log := zerolog.Nop()

	dir, err := NewDir(t.TempDir(), log)
	require.NoError(t, err)
	sqlite, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "test.db"), log)
	require.NoError(t, err)

	out := map[string]Backend{
		"memory": NewMemory(),
		"dir":    dir,
		"sqlite": sqlite,
	}
	if addr := os.Getenv("STORYLOOM_TEST_REDIS_ADDR"); addr != "" {
		r, err := NewRedis(ctx, RedisOptions{Addr: addr, Namespace: "storyloom:test:" + uuid.NewString()}, log)
		require.NoError(t, err)
		t.Cleanup(func() { r.client.Del(context.Background(), r.hash) })
		out["redis"] = r
	}
	for _, b := range out {
		b := b
		t.Cleanup(func() { b.Close() })
	}
	return out
}

func TestBackendContract(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Get(ctx, "save_missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, b.Set(ctx, "save_a", []byte(`{"id":"a"}`)))
			require.NoError(t, b.Set(ctx, "save_b", []byte(`{"id":"b"}`)))
			require.NoError(t, b.Set(ctx, "other_c", []byte(`c`)))

			got, err := b.Get(ctx, "save_a")
			require.NoError(t, err)
			assert.Equal(t, `{"id":"a"}`, string(got))

			require.NoError(t, b.Set(ctx, "save_a", []byte(`{"id":"a","v":2}`)))
			got, err = b.Get(ctx, "save_a")
			require.NoError(t, err)
			assert.Equal(t, `{"id":"a","v":2}`, string(got))

			keys, err := b.Keys(ctx, "save_")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"save_a", "save_b"}, keys)

			require.NoError(t, b.Delete(ctx, "save_a"))
			require.NoError(t, b.Delete(ctx, "save_a"))
			_, err = b.Get(ctx, "save_a")
			assert.ErrorIs(t, err, ErrNotFound)

			keys, err = b.Keys(ctx, "save_")
			require.NoError(t, err)
			assert.Equal(t, []string{"save_b"}, keys)
		})
	}
}

func TestBackendRejectsInvalidKeys(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"", "../escape", `a\b`} {
				assert.ErrorIs(t, b.Set(ctx, key, []byte("x")), ErrInvalidKey, key)
			}
		})
	}
}

func TestSQLitePrefixIsLiteral(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "lit.db"), zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "save_1", []byte("1")))
	require.NoError(t, s.Set(ctx, "saveX1", []byte("2")))

	keys, err := s.Keys(ctx, "save_")
	require.NoError(t, err)
	assert.Equal(t, []string{"save_1"}, keys)
}

func TestDirIgnoresStrayFiles(t *testing.T) {
	root := t.TempDir()
	d, err := NewDir(root, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".save_tmp.json"), []byte("x"), 0o644))
	require.NoError(t, d.Set(context.Background(), "save_1", []byte("{}")))

	keys, err := d.Keys(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"save_1"}, keys)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	b, err := Open(ctx, Options{Kind: KindMemory}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, b)

	b, err = Open(ctx, Options{Kind: KindDir, Dir: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &Dir{}, b)

	_, err = Open(ctx, Options{Kind: "tape"}, zerolog.Nop())
	assert.Error(t, err)
}
