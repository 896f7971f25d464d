package orchestrator

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// projectMemorySchema describes the shape the bootstrap stage is expected to
// produce. Validation is advisory: the stage is opaque, so a mismatch is
// logged, never fatal.
const projectMemorySchema = `{
	"type": "object",
	"properties": {
		"global_beans":      {"type": "array"},
		"global_tables":     {"type": "array"},
		"global_dialogs":    {"type": "array"},
		"common_components": {"type": "array"},
		"styles":            {"type": "array"}
	}
}`

// validateProjectMemory checks a bootstrap snapshot against the expected
// schema and returns a describing error when it does not conform.
func validateProjectMemory(m map[string]interface{}) error {
	schemaLoader := gojsonschema.NewStringLoader(projectMemorySchema)
	docLoader := gojsonschema.NewGoLoader(m)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed to run: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, resErr := range result.Errors() {
		msgs = append(msgs, resErr.String())
	}
	return fmt.Errorf("project memory does not match schema: %s", strings.Join(msgs, "; "))
}
