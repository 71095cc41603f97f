package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatianab/storyloom/internal/models"
	"github.com/tatianab/storyloom/internal/saves"
	"github.com/tatianab/storyloom/internal/storage"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSavesListAndDelete(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	saveDir := filepath.Join(dir, "saves")
	t.Setenv("STORYLOOM_SAVE_DIR", saveDir)
	t.Setenv("STORYLOOM_PROVIDERS_FILE", filepath.Join(dir, "providers.yaml"))
	t.Setenv("LOG_LEVEL", "error")

	backend, err := storage.NewDir(saveDir, zerolog.Nop())
	require.NoError(t, err)
	store := saves.New(backend, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, models.SaveSlot{
		SaveSlotMeta: models.SaveSlotMeta{ID: "s1", Timestamp: 1700000000000, Summary: "第1幕 - 夜雨", Provider: models.ProviderGemini},
		GameConfig:   models.GameConfig{Theme: "悬疑"},
		SceneHistory: []models.GameScene{{Narrative: "夜雨"}},
		ChatContext:  models.ChatContext{Provider: models.ProviderGemini, Version: models.ContextVersion, Payload: json.RawMessage(`{"turns":[]}`)},
	}))
	require.NoError(t, backend.Set(ctx, saves.KeyPrefix+"junk", []byte("{")))

	out, err := run(t, "saves", "list", "--store", "dir")
	require.NoError(t, err)
	assert.Contains(t, out, "s1")
	assert.Contains(t, out, "第1幕 - 夜雨")
	assert.Contains(t, out, "CORRUPT")

	out, err = run(t, "saves", "delete", "junk")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted junk")

	listing, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, listing.Saves, 1)
	assert.Empty(t, listing.Corrupted)
}

func TestSavesDeleteNeedsID(t *testing.T) {
	_, err := run(t, "saves", "delete")
	assert.Error(t, err)
}

func TestUnknownStore(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := run(t, "saves", "list", "--store", "cassandra")
	assert.Error(t, err)
}
