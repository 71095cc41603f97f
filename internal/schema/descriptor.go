package schema

import "fmt"

// Kind is a backend-neutral JSON type.
type Kind string

const (
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
)

// Field describes one node of the scene schema. Adapters project it into
// their backend's native schema type.
type Field struct {
	Kind        Kind
	Description string
	Nullable    bool
	Properties  map[string]*Field
	Required    []string
	Items       *Field
}

// RequiredSceneKeys are the keys every scene must carry.
var RequiredSceneKeys = []string{"narrative", "options", "isGameOver", "currentLocation", "currentTime"}

// Descriptor returns a fresh copy of the scene schema.
func Descriptor() *Field {
	str := func(desc string, nullable bool) *Field {
		return &Field{Kind: KindString, Description: desc, Nullable: nullable}
	}
	return &Field{
		Kind: KindObject,
		Properties: map[string]*Field{
			"narrative":   str("Second-person narration of the scene. No dialogue.", false),
			"speakerName": str("Name of the speaking character.", true),
			"dialogue":    str("Pure spoken words only. NO quotes, NO action descriptions.", true),
			// Neither backend's schema type bounds array length, so the
			// option count rides in the description and ParseScene enforces it.
			"options": {
				Kind:        KindArray,
				Description: fmt.Sprintf("Exactly %d choices for the player.", OptionCount),
				Items: &Field{
					Kind: KindObject,
					Properties: map[string]*Field{
						"label":  str("Short button text, 3-6 chars.", false),
						"action": str("MUST start with 我. If speaking, MUST include quoted dialogue like 我说：「...」.", false),
					},
					Required: []string{"label", "action"},
				},
			},
			"isGameOver":      {Kind: KindBoolean},
			"backgroundMood":  str("Mood keyword or CSS colour for the scene.", false),
			"currencyUnit":    str("Currency unit, fixed for the whole story.", true),
			"currencyAmount":  {Kind: KindNumber, Description: "Money the protagonist holds.", Nullable: true},
			"currentLocation": str("Where the protagonist is right now.", false),
			"currentTime":     str("In-world time of day.", false),
			"grantedItems": {
				Kind:        KindArray,
				Description: "Names of items the protagonist obtains in this scene.",
				Nullable:    true,
				Items:       &Field{Kind: KindString},
			},
		},
		Required: append([]string(nil), RequiredSceneKeys...),
	}
}
