package openai

import (
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/tatianab/storyloom/internal/schema"
)

var jsonTypes = map[schema.Kind]jsonschema.DataType{
	schema.KindObject:  jsonschema.Object,
	schema.KindArray:   jsonschema.Array,
	schema.KindString:  jsonschema.String,
	schema.KindNumber:  jsonschema.Number,
	schema.KindBoolean: jsonschema.Boolean,
}

// sceneFormat requests the scene schema. Strict mode is off because it
// cannot express the optional fields.
func sceneFormat() *goopenai.ChatCompletionResponseFormat {
	def := toDefinition(schema.Descriptor())
	return &goopenai.ChatCompletionResponseFormat{
		Type: goopenai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &goopenai.ChatCompletionResponseFormatJSONSchema{
			Name:   "game_scene",
			Schema: &def,
			Strict: false,
		},
	}
}

func toDefinition(f *schema.Field) jsonschema.Definition {
	def := jsonschema.Definition{
		Type:        jsonTypes[f.Kind],
		Description: f.Description,
		Required:    f.Required,
	}
	if f.Items != nil {
		items := toDefinition(f.Items)
		def.Items = &items
	}
	if len(f.Properties) > 0 {
		def.Properties = make(map[string]jsonschema.Definition, len(f.Properties))
		for name, prop := range f.Properties {
			def.Properties[name] = toDefinition(prop)
		}
	}
	return def
}
