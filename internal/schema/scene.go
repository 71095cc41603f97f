// Package schema defines the structured scene payload the model must
// return and validates raw model output against it.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tatianab/storyloom/internal/models"
)

// OptionCount is the number of options every scene must offer.
const OptionCount = 3

// StripFences removes a surrounding markdown code fence, which some models
// add even when asked for bare JSON.
func StripFences(text string) string {
	clean := strings.TrimSpace(text)
	if !strings.HasPrefix(clean, "```") {
		return clean
	}
	clean = strings.TrimPrefix(clean, "```")
	// Drop the info string (json, JSON, javascript...) up to the first newline.
	if i := strings.IndexByte(clean, '\n'); i >= 0 && !strings.ContainsAny(clean[:i], "{[") {
		clean = clean[i+1:]
	}
	clean = strings.TrimSuffix(strings.TrimSpace(clean), "```")
	return strings.TrimSpace(clean)
}

// ParseScene parses raw model output into a GameScene.
//
// Non-JSON input fails with *MalformedResponseError. JSON that breaks the
// scene contract fails with *SchemaValidationError listing every problem.
// Unknown fields are kept.
func ParseScene(raw string) (models.GameScene, error) {
	text := StripFences(raw)

	var root any
	if err := json.Unmarshal([]byte(text), &root); err != nil {
		return models.GameScene{}, &MalformedResponseError{Err: err}
	}

	obj, ok := root.(map[string]any)
	if !ok {
		return models.GameScene{}, &SchemaValidationError{
			Problems: []string{"response root must be a JSON object"},
		}
	}

	problems := validate(obj)
	if len(problems) > 0 {
		return models.GameScene{}, &SchemaValidationError{Problems: problems}
	}

	var scene models.GameScene
	if err := json.Unmarshal([]byte(text), &scene); err != nil {
		return models.GameScene{}, &SchemaValidationError{
			Problems: []string{fmt.Sprintf("field types do not match the scene schema: %v", err)},
		}
	}
	return scene, nil
}

func validate(obj map[string]any) []string {
	var problems []string

	for _, key := range []string{"currentLocation", "currentTime"} {
		if !nonEmptyString(obj[key]) {
			problems = append(problems, key+" is missing or not a non-empty string")
		}
	}

	if v, present := obj["isGameOver"]; present && v != nil {
		if _, ok := v.(bool); !ok {
			problems = append(problems, "isGameOver must be a boolean")
		}
	}

	options, ok := obj["options"].([]any)
	switch {
	case !ok:
		problems = append(problems, fmt.Sprintf("options must be an array of exactly %d entries", OptionCount))
	case len(options) != OptionCount:
		problems = append(problems, fmt.Sprintf("options must have exactly %d entries, got %d", OptionCount, len(options)))
	default:
		for i, item := range options {
			opt, ok := item.(map[string]any)
			if !ok {
				problems = append(problems, fmt.Sprintf("options[%d] must be an object", i))
				continue
			}
			if !nonEmptyString(opt["label"]) {
				problems = append(problems, fmt.Sprintf("options[%d].label is missing or empty", i))
			}
			if !nonEmptyString(opt["action"]) {
				problems = append(problems, fmt.Sprintf("options[%d].action is missing or empty", i))
			}
		}
	}

	return problems
}

func nonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}
