package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sceneJSON(t *testing.T, options int) string {
	t.Helper()
	opts := make([]map[string]string, 0, options)
	for i := 0; i < options; i++ {
		opts = append(opts, map[string]string{
			"label":  fmt.Sprintf("选项%d", i),
			"action": fmt.Sprintf("我选择第%d条路", i),
		})
	}
	data, err := json.Marshal(map[string]any{
		"narrative":       "你站在十字路口。",
		"options":         opts,
		"isGameOver":      false,
		"currentLocation": "十字路口",
		"currentTime":     "黄昏",
	})
	require.NoError(t, err)
	return string(data)
}

func TestParseSceneValid(t *testing.T) {
	scene, err := ParseScene(sceneJSON(t, 3))
	require.NoError(t, err)
	assert.Len(t, scene.Options, OptionCount)
	assert.False(t, scene.IsGameOver)
	assert.Equal(t, "十字路口", scene.CurrentLocation)
}

func TestParseSceneOptionCount(t *testing.T) {
	for _, n := range []int{0, 1, 2, 4} {
		t.Run(fmt.Sprintf("%d options", n), func(t *testing.T) {
			_, err := ParseScene(sceneJSON(t, n))
			var verr *SchemaValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Error(), "options")
		})
	}
}

func TestParseSceneSingleOptionReportsEverything(t *testing.T) {
	_, err := ParseScene(`{"narrative":"x","options":[{"label":"a","action":"我a"}],"isGameOver":false}`)

	var verr *SchemaValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "options")
	assert.Contains(t, err.Error(), "currentLocation")
	assert.Contains(t, err.Error(), "currentTime")
	assert.Len(t, verr.Problems, 3)

	var merr *MalformedResponseError
	assert.False(t, errors.As(err, &merr))
}

func TestParseSceneMalformed(t *testing.T) {
	_, err := ParseScene(`{not json`)

	var merr *MalformedResponseError
	require.ErrorAs(t, err, &merr)
	assert.NotEmpty(t, merr.Err.Error())

	var verr *SchemaValidationError
	assert.False(t, errors.As(err, &verr))
}

func TestParseSceneRootNotObject(t *testing.T) {
	_, err := ParseScene(`[1,2,3]`)
	var verr *SchemaValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Problems[0], "root")
}

func TestParseSceneOptionFields(t *testing.T) {
	raw := `{"narrative":"x","currentLocation":"港口","currentTime":"清晨","isGameOver":false,
		"options":[{"label":"","action":"我走"},{"label":"跑"},{"label":"停","action":"我停下"}]}`

	_, err := ParseScene(raw)
	var verr *SchemaValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{
		"options[0].label is missing or empty",
		"options[1].action is missing or empty",
	}, verr.Problems)
}

func TestParseSceneBlankLocation(t *testing.T) {
	raw := strings.Replace(sceneJSON(t, 3), `"十字路口"`, `"   "`, 1)
	_, err := ParseScene(raw)
	var verr *SchemaValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"currentLocation is missing or not a non-empty string"}, verr.Problems)
}

func TestParseSceneGameOverMustBeBool(t *testing.T) {
	raw := strings.Replace(sceneJSON(t, 3), `"isGameOver":false`, `"isGameOver":"no"`, 1)
	_, err := ParseScene(raw)
	var verr *SchemaValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "isGameOver")
}

func TestParseSceneStripsFences(t *testing.T) {
	for _, open := range []string{"```json\n", "```JSON\n", "```javascript\n", "```\n", "```"} {
		t.Run(strings.TrimSpace(open), func(t *testing.T) {
			scene, err := ParseScene(open + sceneJSON(t, 3) + "\n```")
			require.NoError(t, err)
			assert.Len(t, scene.Options, 3)
		})
	}
}

func TestParseSceneKeepsUnknownFields(t *testing.T) {
	raw := strings.Replace(sceneJSON(t, 3), `"isGameOver":false`, `"isGameOver":false,"weather":"暴雨"`, 1)
	scene, err := ParseScene(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `"暴雨"`, string(scene.Extra["weather"]))
}

func TestDescriptorMatchesValidator(t *testing.T) {
	d := Descriptor()
	assert.Equal(t, KindObject, d.Kind)
	assert.ElementsMatch(t, RequiredSceneKeys, d.Required)
	opts := d.Properties["options"]
	require.NotNil(t, opts)
	assert.Contains(t, opts.Description, fmt.Sprintf("Exactly %d", OptionCount))
	assert.ElementsMatch(t, []string{"label", "action"}, opts.Items.Required)

	// Callers may mutate their copy freely.
	d.Required = nil
	assert.NotEmpty(t, Descriptor().Required)
}
