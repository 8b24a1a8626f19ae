// Package prompt renders the instruction prompt sent to models when
// converting a natural-language request into a JSONata expression.
package prompt

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/slongfield/pyfmt"

	"github.com/sanonone/jsonqueryflow/pkg/schemalite"
)

// schemaJSON renders with sorted keys so the same schema always produces the
// same prompt.
var schemaJSON = sonic.Config{SortMapKeys: true}.Froze()

const template = `
You are a STRICT JSONata query generator.

You are given ONLY a JSON structure (no values).
The structure defines ALL valid fields and nesting.
The root of the JSON document is the input context.

JSON structure:
{schema}

User request:
"{request}"

OUTPUT REQUIREMENTS (MANDATORY):
- Output ONLY a JSONata expression
- Output MUST start with "$." when its required
- Do NOT wrap the output in quotes
- Do NOT escape characters
- Do NOT return JSON, text, or explanations
- Do NOT add markdown or code blocks
- Do NOT rename fields or invent new ones
- Use ONLY field names that exist in the JSON structure
- Preserve original field names exactly (case-sensitive)
- If mapping objects, keys MUST be existing field names
- If arrays exist, use JSONata mapping syntax correctly
- If a field is an array, return the array unless explicitly asked to flatten

IMPORTANT:
- The output must be directly executable as JSONata
- Return ONE single-line JSONata expression

Return ONLY the JSONata expression.
`

// Build embeds schema and request into the instruction template. schema is
// either a *schemalite.Schema or its already decoded wire form.
func Build(schema any, request string) (string, error) {
	if s, ok := schema.(*schemalite.Schema); ok {
		schema = s.Wire()
	}

	rendered, err := schemaJSON.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render schema: %w", err)
	}

	out, err := pyfmt.Fmt(template, map[string]any{
		"schema":  string(rendered),
		"request": request,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return out, nil
}
