package gemini

import (
	"github.com/google/generative-ai-go/genai"

	"github.com/tatianab/storyloom/internal/schema"
)

var geminiTypes = map[schema.Kind]genai.Type{
	schema.KindObject:  genai.TypeObject,
	schema.KindArray:   genai.TypeArray,
	schema.KindString:  genai.TypeString,
	schema.KindNumber:  genai.TypeNumber,
	schema.KindBoolean: genai.TypeBoolean,
}

func sceneSchema() *genai.Schema {
	return toSchema(schema.Descriptor())
}

// toSchema projects the neutral descriptor onto genai.Schema.
func toSchema(f *schema.Field) *genai.Schema {
	out := &genai.Schema{
		Type:        geminiTypes[f.Kind],
		Description: f.Description,
		Nullable:    f.Nullable,
		Required:    f.Required,
	}
	if f.Items != nil {
		out.Items = toSchema(f.Items)
	}
	if len(f.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(f.Properties))
		for name, prop := range f.Properties {
			out.Properties[name] = toSchema(prop)
		}
	}
	return out
}
