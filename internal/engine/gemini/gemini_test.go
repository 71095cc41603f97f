package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/tatianab/storyloom/internal/engine"
	"github.com/tatianab/storyloom/internal/models"
	"github.com/tatianab/storyloom/internal/prompt"
	"github.com/tatianab/storyloom/internal/schema"
)

type call struct {
	system     string
	history    []turn
	message    string
	structured bool
}

type reply struct {
	text string
	err  error
}

// scripted answers calls in order and records them.
type scripted struct {
	mu      sync.Mutex
	replies []reply
	calls   []call
}

func (f *scripted) generate(_ context.Context, system string, history []turn, message string, structured bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{system, append([]turn(nil), history...), message, structured})
	if len(f.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r.text, r.err
}

func sceneText(n int) string {
	return fmt.Sprintf(`{"narrative":"第%d幕","currentLocation":"码头","currentTime":"清晨","isGameOver":false,
"options":[{"label":"左","action":"我向左"},{"label":"右","action":"我向右"},{"label":"停","action":"我停下"}]}`, n)
}

var testCfg = models.GameConfig{Theme: "悬疑", Setting: "雾港", Protagonist: "沈舟", Style: "冷峻"}

func newTestService(replies ...reply) (*Service, *scripted) {
	f := &scripted{replies: replies}
	return newService(Config{MaxRetries: 1}, zerolog.Nop(), f.generate), f
}

func TestStartGame(t *testing.T) {
	s, f := newTestService(reply{text: sceneText(0)})

	require.NoError(t, s.StartGame(context.Background(), testCfg))

	snap := s.State().Snapshot()
	require.Len(t, snap.History, 1)
	assert.Equal(t, "第0幕", snap.History[0].Narrative)
	assert.Empty(t, snap.Error)

	require.Len(t, f.calls, 1)
	assert.Equal(t, prompt.StartMessage, f.calls[0].message)
	assert.Contains(t, f.calls[0].system, "雾港")
	assert.True(t, f.calls[0].structured)
	assert.Empty(t, f.calls[0].history)
}

func TestStartGameFailure(t *testing.T) {
	s, _ := newTestService(reply{err: errors.New("network down")})

	require.NoError(t, s.StartGame(context.Background(), testCfg))

	snap := s.State().Snapshot()
	assert.Empty(t, snap.History)
	assert.Contains(t, snap.Error, "故事启动失败")
	assert.False(t, snap.Loading)
}

func TestMakeChoiceBeforeStart(t *testing.T) {
	s, _ := newTestService()
	err := s.MakeChoice(context.Background(), models.GameOption{Label: "左", Action: "我向左"}, nil)
	assert.ErrorIs(t, err, engine.ErrNoContext)
}

func TestMakeChoiceSendsHistoryAndInventory(t *testing.T) {
	s, f := newTestService(reply{text: sceneText(0)}, reply{text: sceneText(1)})
	ctx := context.Background()
	require.NoError(t, s.StartGame(ctx, testCfg))

	opt := models.GameOption{Label: "左", Action: "我向左"}
	inv := &models.InventoryContext{AllItems: []string{"灯笼"}}
	require.NoError(t, s.MakeChoice(ctx, opt, inv))

	snap := s.State().Snapshot()
	require.Len(t, snap.History, 2)
	assert.Equal(t, "我向左", snap.History[0].UserChoice)
	assert.Empty(t, snap.History[1].UserChoice)

	require.Len(t, f.calls, 2)
	second := f.calls[1]
	assert.Equal(t, []turn{
		{Role: roleUser, Text: prompt.StartMessage},
		{Role: roleModel, Text: sceneText(0)},
	}, second.history)
	assert.Contains(t, second.message, "[左] 我向左")
	assert.Contains(t, second.message, "灯笼")
}

func TestFailedTurnLeavesNoDanglingMessage(t *testing.T) {
	s, f := newTestService(
		reply{text: sceneText(0)},
		reply{text: `{"narrative":"x","options":[],"isGameOver":false}`},
		reply{text: sceneText(1)},
	)
	ctx := context.Background()
	require.NoError(t, s.StartGame(ctx, testCfg))
	require.NoError(t, s.MakeChoice(ctx, models.GameOption{Label: "左", Action: "我向左"}, nil))

	snap := s.State().Snapshot()
	require.Len(t, snap.History, 1)
	assert.Equal(t, "我向左", snap.History[0].UserChoice)
	assert.Contains(t, snap.Error, "时间线发生了断裂")

	chat, err := s.GetContext(ctx)
	require.NoError(t, err)
	var p payload
	require.NoError(t, json.Unmarshal(chat.Payload, &p))
	assert.Len(t, p.Turns, 2)

	require.NoError(t, s.RetryLastAction(ctx, nil))
	snap = s.State().Snapshot()
	require.Len(t, snap.History, 2)
	assert.Empty(t, snap.Error)
	assert.Equal(t, f.calls[1].message, f.calls[2].message)
	assert.Len(t, f.calls[2].history, 2)
}

func TestRetryWithoutFailureIsNoop(t *testing.T) {
	s, f := newTestService(reply{text: sceneText(0)})
	require.NoError(t, s.StartGame(context.Background(), testCfg))
	require.NoError(t, s.RetryLastAction(context.Background(), nil))
	assert.Len(t, f.calls, 1)
}

func TestRetryFailedStart(t *testing.T) {
	s, f := newTestService(reply{err: errors.New("timeout")}, reply{text: sceneText(0)})
	ctx := context.Background()
	require.NoError(t, s.StartGame(ctx, testCfg))
	require.NoError(t, s.RetryLastAction(ctx, nil))

	assert.Len(t, s.State().Snapshot().History, 1)
	require.Len(t, f.calls, 2)
	assert.Equal(t, prompt.StartMessage, f.calls[1].message)
}

func TestContextRoundTrip(t *testing.T) {
	s, _ := newTestService(reply{text: sceneText(0)}, reply{text: sceneText(1)})
	ctx := context.Background()
	require.NoError(t, s.StartGame(ctx, testCfg))
	require.NoError(t, s.MakeChoice(ctx, models.GameOption{Label: "右", Action: "我向右"}, nil))

	chat, err := s.GetContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderGemini, chat.Provider)
	assert.Equal(t, models.ContextVersion, chat.Version)
	history := s.State().Snapshot().History

	restored, f := newTestService(reply{text: sceneText(2)})
	require.NoError(t, restored.RestoreSession(history, chat, testCfg))
	assert.Equal(t, history, restored.State().Snapshot().History)

	require.NoError(t, restored.MakeChoice(ctx, models.GameOption{Label: "停", Action: "我停下"}, nil))
	require.Len(t, f.calls, 1)
	assert.Len(t, f.calls[0].history, 4)
	assert.Contains(t, f.calls[0].system, "已存档剧情")
}

func TestRestoreRejectsForeignContext(t *testing.T) {
	s, _ := newTestService()
	chat := models.ChatContext{Provider: models.ProviderOpenAI, Version: models.ContextVersion, Payload: json.RawMessage(`[]`)}
	var mismatch *engine.ContextMismatchError
	assert.ErrorAs(t, s.RestoreSession(nil, chat, testCfg), &mismatch)

	chat = models.ChatContext{Provider: models.ProviderGemini, Version: models.ContextVersion, Payload: json.RawMessage(`{"turns":[{"role":"system","text":"x"}]}`)}
	assert.Error(t, s.RestoreSession(nil, chat, testCfg))
}

func TestResetClearsContext(t *testing.T) {
	s, _ := newTestService(reply{text: sceneText(0)})
	require.NoError(t, s.StartGame(context.Background(), testCfg))
	s.Reset()

	_, err := s.GetContext(context.Background())
	assert.ErrorIs(t, err, engine.ErrNoContext)
	assert.Empty(t, s.State().Snapshot().History)
}

func TestGenerateWorldSetting(t *testing.T) {
	s, f := newTestService(reply{text: `{"setting":"雾港终年不散","protagonist":"沈舟"}`})
	ws, err := s.GenerateWorldSetting(context.Background(), models.WorldSettingRequest{Theme: "悬疑", Style: "冷峻"})
	require.NoError(t, err)
	assert.Equal(t, models.WorldSetting{Setting: "雾港终年不散", Protagonist: "沈舟"}, ws)
	assert.False(t, f.calls[0].structured)
	assert.Empty(t, s.State().Snapshot().History)

	s, _ = newTestService(reply{err: errors.New("quota")})
	_, err = s.GenerateWorldSetting(context.Background(), models.WorldSettingRequest{Theme: "悬疑"})
	var gerr *engine.GenerationError
	assert.ErrorAs(t, err, &gerr)
}

func TestMissingAPIKey(t *testing.T) {
	s, err := New(context.Background(), Config{MaxRetries: 3}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.StartGame(context.Background(), testCfg))
	assert.Contains(t, s.State().Snapshot().Error, engine.ErrMissingAPIKey.Error())
}

func TestRetryable(t *testing.T) {
	assert.False(t, retryable(engine.ErrMissingAPIKey))
	assert.False(t, retryable(&googleapi.Error{Code: 403}))
	assert.True(t, retryable(&googleapi.Error{Code: 429}))
	assert.True(t, retryable(&googleapi.Error{Code: 503}))
	assert.True(t, retryable(errors.New("connection reset")))
}

func TestSceneSchema(t *testing.T) {
	s := sceneSchema()
	assert.Equal(t, genai.TypeObject, s.Type)
	assert.ElementsMatch(t, schema.RequiredSceneKeys, s.Required)
	opts := s.Properties["options"]
	require.NotNil(t, opts)
	assert.Equal(t, genai.TypeArray, opts.Type)
	assert.Equal(t, genai.TypeObject, opts.Items.Type)
	assert.Contains(t, opts.Description, "Exactly 3")
	assert.True(t, s.Properties["currencyAmount"].Nullable)
}
