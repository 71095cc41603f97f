package models

import "encoding/json"

// ContextVersion is the current layout version of ChatContext payloads.
const ContextVersion = 1

// ChatContext is the provider-native conversation state, kept opaque.
// Only the adapter for Provider can interpret Payload.
type ChatContext struct {
	Provider Provider        `json:"provider"`
	Version  int             `json:"version"`
	Payload  json.RawMessage `json:"payload"`
}

// SaveSlotMeta is the part of a save that can be listed cheaply.
type SaveSlotMeta struct {
	ID        string   `json:"id"`
	Timestamp int64    `json:"timestamp"`
	Summary   string   `json:"summary"`
	Provider  Provider `json:"provider"`
}

// SaveSlot is a complete, independently loadable snapshot of a session.
type SaveSlot struct {
	SaveSlotMeta

	GameConfig   GameConfig      `json:"gameConfig"`
	SceneHistory []GameScene     `json:"sceneHistory"`
	ChatContext  ChatContext     `json:"chatContext"`
	Inventory    []InventoryItem `json:"inventory,omitempty"`
}

// CorruptedSaveMeta names a stored record that could not be decoded.
type CorruptedSaveMeta struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}
