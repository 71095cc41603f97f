package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGameSceneJSON(t *testing.T) {
	amount := 12.5
	scene := GameScene{
		Narrative:       "雨夜，码头的灯火摇曳。",
		SpeakerName:     "老陈",
		Dialogue:        "你来晚了",
		Options:         []GameOption{{Label: "追问来意", Action: "我追问道：「你在等谁？」"}},
		IsGameOver:      false,
		CurrencyUnit:    "银两",
		CurrencyAmount:  &amount,
		CurrentLocation: "码头",
		CurrentTime:     "深夜",
		GrantedItems:    []string{"旧船票"},
	}

	data, err := json.Marshal(scene)
	require.NoError(t, err)

	var decoded GameScene
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, scene, decoded)
	assert.Nil(t, decoded.Extra)
}

func TestGameSceneKeepsUnknownFields(t *testing.T) {
	raw := `{"narrative":"x","options":[],"isGameOver":true,"weather":"rain","npcMood":{"老陈":"wary"}}`

	var scene GameScene
	require.NoError(t, json.Unmarshal([]byte(raw), &scene))
	assert.True(t, scene.IsGameOver)
	require.Len(t, scene.Extra, 2)
	assert.JSONEq(t, `"rain"`, string(scene.Extra["weather"]))

	data, err := json.Marshal(scene)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(data))
}

func TestGameSceneDecodeNormalizes(t *testing.T) {
	raw := "{\n  \"narrative\": \"x\",\n  \"options\": [],\n  \"grantedItems\": [],\n  \"weather\": { \"kind\": \"rain\" }\n}"

	var scene GameScene
	require.NoError(t, json.Unmarshal([]byte(raw), &scene))
	assert.Nil(t, scene.GrantedItems)
	assert.Equal(t, `{"kind":"rain"}`, string(scene.Extra["weather"]))

	data, err := json.Marshal(scene)
	require.NoError(t, err)
	var again GameScene
	require.NoError(t, json.Unmarshal(data, &again))
	assert.Equal(t, scene, again)
}

func TestCustomOption(t *testing.T) {
	opt := CustomOption("  翻过围墙 ")
	assert.Equal(t, "翻过围墙", opt.Label)
	assert.Equal(t, "我决定：翻过围墙", opt.Action)
}

func TestParseProvider(t *testing.T) {
	for in, want := range map[string]Provider{
		"gemini":            ProviderGemini,
		"google-genai":      ProviderGemini,
		"OpenAI":            ProviderOpenAI,
		"openai-compatible": ProviderOpenAI,
	} {
		got, err := ParseProvider(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseProvider("claude")
	assert.Error(t, err)
	assert.False(t, Provider("claude").Valid())
}
