package reference

import (
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const datasetSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "array",
	"items": {
		"type": "object",
		"properties": {
			"text":  {"type": "string"},
			"ref":   {"type": "string"},
			"alias": {"type": "string"}
		}
	}
}`

var datasetSchema = jsonschema.MustCompileString("refs.mderb.schema.json", datasetSchemaJSON)

// validateShape checks a decoded JSON document against the dataset schema and
// flattens the failure into one readable line.
func validateShape(doc any) error {
	err := datasetSchema.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	var parts []string
	var walk func(*jsonschema.ValidationError)
	walk = func(node *jsonschema.ValidationError) {
		if len(node.Causes) == 0 {
			loc := strings.TrimSpace(node.InstanceLocation)
			if loc == "" {
				loc = "/"
			}
			parts = append(parts, fmt.Sprintf("%s: %s", loc, strings.TrimSpace(node.Message)))
			return
		}
		for _, c := range node.Causes {
			walk(c)
		}
	}
	walk(verr)
	return errors.New(strings.Join(parts, "; "))
}
