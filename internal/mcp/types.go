package mcp

// --- Tool Arguments ---

type InferSchemaArgs struct {
	Value any `json:"value" jsonschema:"Any JSON value whose structure should be summarized"`
}

type InferSchemaResult struct {
	Schema any `json:"schema"`
}

type EvaluateQueryArgs struct {
	Expression string `json:"expression" jsonschema:"The JSONata expression to evaluate. Empty means identity ($)"`
	Input      any    `json:"input" jsonschema:"The JSON document the expression is evaluated against"`
}

// EvaluateQueryResult carries either the result or the evaluation error
// message, mirroring how query nodes surface failures.
type EvaluateQueryResult struct {
	Result any    `json:"result"`
	Error  string `json:"error,omitempty"`
}

type GenerateQueryArgs struct {
	Schema        any    `json:"schema" jsonschema:"Schema-lite of the input document (see infer_schema); field names only, no values"`
	Query         string `json:"query" jsonschema:"Natural-language description of the data to extract"`
	UseLocalModel bool   `json:"use_local_model,omitempty" jsonschema:"Try the local model before the remote ones"`
	Model         string `json:"model,omitempty" jsonschema:"Pin a remote model and disable fallback"`
}

type RunNodeArgs struct {
	NodeID string `json:"node_id" jsonschema:"ID of the query node to execute in the server graph"`
}

type RunNodeResult struct {
	// Results maps each downstream data node id to its new value.
	Results map[string]any `json:"results"`
}
