package config

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
)

const durationPattern = `^-?([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`

// JSONSchema describes the configuration file for editors and CI checks.
// Durations are Go duration strings such as "250ms" or "5s".
func JSONSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag:   "yaml",
		DoNotReference: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeOf(time.Duration(0)) {
				return &jsonschema.Schema{
					Type:        "string",
					Pattern:     durationPattern,
					Description: "Go duration, e.g. 250ms or 5s",
				}
			}
			return nil
		},
	}
	schema := r.Reflect(&Config{})
	schema.ID = "https://github.com/haasonsaas/servicedesk/config.schema.json"
	schema.Title = "servicedesk configuration"
	// Every field has a default except the sink URLs.
	schema.Required = []string{"sinks"}
	return json.MarshalIndent(schema, "", "  ")
}
