/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package generator

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ResultSchema returns the JSON schema of Result, inlined without references
// so that it can be handed to services as a tool or response schema.
func ResultSchema() *jsonschema.Schema {
	r := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  true,
		DoNotReference:             true,
	}
	return r.Reflect(&Result{})
}

// ResultSchemaMap returns ResultSchema as a generic JSON object with the
// "$schema" and "$id" keys removed.
func ResultSchemaMap() (map[string]any, error) {
	b, err := json.Marshal(ResultSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m, nil
}
