package saves

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatianab/storyloom/internal/models"
	"github.com/tatianab/storyloom/internal/schema"
	"github.com/tatianab/storyloom/internal/storage"
)

func newTestStore(t *testing.T) (*Store, storage.Backend) {
	t.Helper()
	backend := storage.NewMemory()
	return New(backend, zerolog.Nop()), backend
}

func testSlot(id string, ts int64) models.SaveSlot {
	gold := 42.5
	history := []models.GameScene{
		{
			Narrative:       "你醒来时，船已靠岸。",
			Options:         []models.GameOption{{Label: "上岸", Action: "我走下跳板"}, {Label: "留下", Action: "我留在船上"}, {Label: "询问", Action: "我问船夫：「这是哪里？」"}},
			CurrentLocation: "码头",
			CurrentTime:     "清晨",
			UserChoice:      "我走下跳板",
		},
		{
			Narrative:       "码头上人声鼎沸。",
			SpeakerName:     "船夫",
			Dialogue:        "客官慢走",
			Options:         []models.GameOption{{Label: "进城", Action: "我向城门走去"}, {Label: "买鱼", Action: "我买了一条鱼"}, {Label: "歇脚", Action: "我坐下歇息"}},
			CurrencyUnit:    "铜钱",
			CurrencyAmount:  &gold,
			CurrentLocation: "码头集市",
			CurrentTime:     "上午",
			GrantedItems:    []string{"船票"},
		},
	}
	return models.SaveSlot{
		SaveSlotMeta: models.SaveSlotMeta{
			ID:        id,
			Timestamp: ts,
			Summary:   Summarize(history),
			Provider:  models.ProviderOpenAI,
		},
		GameConfig:   models.GameConfig{Theme: "武侠", Setting: "江南", Protagonist: "林远", Style: "古典"},
		SceneHistory: history,
		ChatContext: models.ChatContext{
			Provider: models.ProviderOpenAI,
			Version:  models.ContextVersion,
			Payload:  json.RawMessage(`[{"role":"system","content":"rules"},{"role":"user","content":"开始"}]`),
		},
		Inventory: []models.InventoryItem{
			{ID: "i1", Name: "船票", IsFavorite: true},
			{ID: "i2", Name: "旧斗笠", Description: "有个破洞", PendingDiscard: true},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	slot := testSlot("a1", 1000)

	require.NoError(t, store.Save(ctx, slot))
	got, err := store.Load(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, slot, got)
}

func TestSaveLoadRoundTripParsedScene(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	raw := `{
  "narrative": "雨越下越大。",
  "options": [
    {"label": "躲雨", "action": "我躲进屋檐下"},
    {"label": "赶路", "action": "我冒雨前行"},
    {"label": "等待", "action": "我原地等待"}
  ],
  "isGameOver": false,
  "currentLocation": "山道",
  "currentTime": "午后",
  "grantedItems": [],
  "weather": {"kind": "rain", "level": 2}
}`
	scene, err := schema.ParseScene(raw)
	require.NoError(t, err)

	slot := testSlot("p1", 1000)
	slot.SceneHistory = append(slot.SceneHistory, scene)
	require.NoError(t, store.Save(ctx, slot))
	got, err := store.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, slot, got)
	assert.Nil(t, got.SceneHistory[2].GrantedItems)
	assert.Equal(t, `{"kind":"rain","level":2}`, string(got.SceneHistory[2].Extra["weather"]))
}

func TestSaveOverwritesInPlace(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testSlot("a1", 1000)))
	updated := testSlot("a1", 2000)
	updated.Summary = "第9幕 - 新的进度"
	require.NoError(t, store.Save(ctx, updated))

	listing, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, listing.Saves, 1)
	assert.Equal(t, int64(2000), listing.Saves[0].Timestamp)
	assert.Equal(t, "第9幕 - 新的进度", listing.Saves[0].Summary)
}

func TestSaveRequiresIDAndProvider(t *testing.T) {
	store, _ := newTestStore(t)
	slot := testSlot("", 1)
	assert.Error(t, store.Save(context.Background(), slot))

	slot = testSlot("x", 1)
	slot.Provider = "anthropic"
	assert.Error(t, store.Save(context.Background(), slot))
}

func TestCorruptionIsolation(t *testing.T) {
	store, backend := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Save(ctx, testSlot(id, int64(100*(i+1)))))
	}
	require.NoError(t, backend.Set(ctx, KeyPrefix+"bad", []byte(`{"id":"bad","timestamp":`)))
	require.NoError(t, backend.Set(ctx, "unrelated", []byte(`nope`)))

	listing, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, listing.Saves, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{listing.Saves[0].ID, listing.Saves[1].ID, listing.Saves[2].ID})
	require.Len(t, listing.Corrupted, 1)
	assert.Equal(t, "bad", listing.Corrupted[0].ID)
	assert.NotEmpty(t, listing.Corrupted[0].Reason)

	_, err = store.Load(ctx, "bad")
	var corrupt *SaveCorruptError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, "bad", corrupt.ID)

	require.NoError(t, store.Delete(ctx, "bad"))
	listing, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, listing.Saves, 3)
	assert.Empty(t, listing.Corrupted)
}

func TestLoadNotFoundVersusCorrupt(t *testing.T) {
	store, backend := newTestStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx, "ghost")
	assert.ErrorIs(t, err, ErrSaveNotFound)

	tests := []struct {
		name   string
		mutate func(*models.SaveSlot)
		reason string
	}{
		{"id mismatch", func(s *models.SaveSlot) { s.ID = "other" }, "does not match key"},
		{"unknown provider", func(s *models.SaveSlot) { s.Provider = "anthropic"; s.ChatContext.Provider = "anthropic" }, "unknown provider"},
		{"context from other provider", func(s *models.SaveSlot) { s.ChatContext.Provider = models.ProviderGemini }, "does not match save provider"},
		{"future context version", func(s *models.SaveSlot) { s.ChatContext.Version = 7 }, "unsupported chat context version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot := testSlot("x", 1)
			tt.mutate(&slot)
			data, err := json.Marshal(slot)
			require.NoError(t, err)
			require.NoError(t, backend.Set(ctx, KeyPrefix+"x", data))

			_, err = store.Load(ctx, "x")
			var corrupt *SaveCorruptError
			require.ErrorAs(t, err, &corrupt)
			assert.Contains(t, corrupt.Reason, tt.reason)
			assert.NotErrorIs(t, err, ErrSaveNotFound)
		})
	}
}

func TestExists(t *testing.T) {
	store, backend := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, backend.Set(ctx, KeyPrefix+"a", []byte("garbage")))
	ok, err = store.Exists(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "新游戏", Summarize(nil))

	short := []models.GameScene{{Narrative: "雨夜。\n  你推开门。"}}
	assert.Equal(t, "第1幕 - 雨夜。 你推开门。", Summarize(short))

	long := strings.Repeat("长", 40)
	got := Summarize([]models.GameScene{{}, {Narrative: long}})
	assert.Equal(t, "第2幕 - "+strings.Repeat("长", SummaryLength)+"...", got)
}

func TestNewIDUnique(t *testing.T) {
	assert.NotEqual(t, NewID(), NewID())
}
