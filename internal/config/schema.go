package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// JSONSchema reflects the Config struct into an indented JSON Schema
// document, keyed by the yaml field names users actually write.
func JSONSchema() ([]byte, error) {
	reflector := &jsonschema.Reflector{
		FieldNameTag:   "yaml",
		DoNotReference: true,
	}
	return json.MarshalIndent(reflector.Reflect(&Config{}), "", "  ")
}
