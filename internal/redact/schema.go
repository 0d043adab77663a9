package redact

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ProfileSchema reflects the JSON schema of profile files.
func ProfileSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(ProfileFile))
	schema.Title = "Self-echo redaction profiles"
	schema.Description = "Named profiles deciding which client-predicted metadata is withheld from the originating player"
	return schema
}

// MarshalProfileSchema renders ProfileSchema as indented JSON.
func MarshalProfileSchema() ([]byte, error) {
	data, err := json.MarshalIndent(ProfileSchema(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return append(data, '\n'), nil
}
