package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Provider identifies an LLM backend.
type Provider string

const (
	ProviderGemini Provider = "google-genai"
	ProviderOpenAI Provider = "openai-compatible"
)

// Providers lists every supported backend in display order.
var Providers = []Provider{ProviderGemini, ProviderOpenAI}

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	return p == ProviderGemini || p == ProviderOpenAI
}

// ParseProvider accepts the canonical identifiers as well as the short
// names "gemini" and "openai".
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "google-genai", "gemini", "google":
		return ProviderGemini, nil
	case "openai-compatible", "openai":
		return ProviderOpenAI, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// GameConfig is the immutable setup of a session.
type GameConfig struct {
	Theme       string `json:"theme"`
	Setting     string `json:"setting"`
	Protagonist string `json:"protagonist"`
	Style       string `json:"style"`
}

// GameOption is a choice offered to the player. Label is the button text,
// Action the first-person description sent upstream.
type GameOption struct {
	Label  string `json:"label"`
	Action string `json:"action"`
}

// CustomActionPrefix is prepended to free-text player input.
const CustomActionPrefix = "我决定："

// CustomOption turns free-text player input into an option.
func CustomOption(text string) GameOption {
	text = strings.TrimSpace(text)
	return GameOption{Label: text, Action: CustomActionPrefix + text}
}

// GameScene is one turn of validated model output.
type GameScene struct {
	Narrative       string       `json:"narrative"`
	SpeakerName     string       `json:"speakerName,omitempty"`
	Dialogue        string       `json:"dialogue,omitempty"`
	Options         []GameOption `json:"options"`
	IsGameOver      bool         `json:"isGameOver"`
	BackgroundMood  string       `json:"backgroundMood,omitempty"`
	UserChoice      string       `json:"userChoice,omitempty"`
	CurrencyUnit    string       `json:"currencyUnit,omitempty"`
	CurrencyAmount  *float64     `json:"currencyAmount,omitempty"`
	CurrentLocation string       `json:"currentLocation,omitempty"`
	CurrentTime     string       `json:"currentTime,omitempty"`
	GrantedItems    []string     `json:"grantedItems,omitempty"`

	// Extra holds fields the model returned that this version does not know.
	Extra map[string]json.RawMessage `json:"-"`
}

type sceneFields GameScene

var knownSceneKeys = map[string]bool{
	"narrative": true, "speakerName": true, "dialogue": true, "options": true,
	"isGameOver": true, "backgroundMood": true, "userChoice": true,
	"currencyUnit": true, "currencyAmount": true, "currentLocation": true,
	"currentTime": true, "grantedItems": true,
}

// UnmarshalJSON decodes the known fields and keeps the rest, compacted, in
// Extra. An empty grantedItems list decodes to nil.
func (s *GameScene) UnmarshalJSON(data []byte) error {
	var known sceneFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k, v := range all {
		if knownSceneKeys[k] {
			delete(all, k)
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return err
		}
		all[k] = buf.Bytes()
	}
	if len(known.GrantedItems) == 0 {
		known.GrantedItems = nil
	}
	*s = GameScene(known)
	if len(all) > 0 {
		s.Extra = all
	}
	return nil
}

// MarshalJSON writes the known fields followed by Extra.
func (s GameScene) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(sceneFields(s))
	if err != nil || len(s.Extra) == 0 {
		return data, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// InventoryItem is one slot of the player's inventory.
type InventoryItem struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	IsFavorite     bool   `json:"isFavorite"`
	PendingDiscard bool   `json:"pendingDiscard"`
}

// InventoryContext is the inventory summary sent along with a choice.
type InventoryContext struct {
	Favorites       []string `json:"favorites"`
	AllItems        []string `json:"allItems,omitempty"`
	PendingDiscards []string `json:"pendingDiscards,omitempty"`
	IsFull          bool     `json:"isFull"`
}

// WorldSettingRequest describes the world the player sketched.
type WorldSettingRequest struct {
	Theme       string `json:"theme"`
	Setting     string `json:"setting"`
	Style       string `json:"style"`
	Protagonist string `json:"protagonist,omitempty"`
}

// WorldSetting is the expanded world. Protagonist is only set when the
// request did not name one.
type WorldSetting struct {
	Setting     string `json:"setting"`
	Protagonist string `json:"protagonist,omitempty"`
}
