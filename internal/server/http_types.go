package server

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/sanonone/jsonqueryflow/pkg/graph"
	"github.com/sanonone/jsonqueryflow/pkg/orchestrator"
)

// Caller-supplied provider key headers, looked up in this order.
const (
	headerGoogAPIKey  = "x-goog-api-key"
	headerGoogleAIKey = "google-ai-key"
)

// maxBodyBytes bounds request bodies. Data node values travel in them.
const maxBodyBytes = 8 << 20

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// QueryRequest defines the body for POST /query.
type QueryRequest struct {
	Schema        any    `json:"schema"`
	Query         string `json:"query"`
	UseLocalModel bool   `json:"useLocalModel,omitempty"`
}

// queryRequestSchema describes QueryRequest. schema accepts any JSON value.
func queryRequestSchema() *jsonschema.Schema {
	minLen := 1
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"schema":        {},
			"query":         {Type: "string", MinLength: &minLen},
			"useLocalModel": {Type: "boolean"},
		},
		Required: []string{"schema", "query"},
	}
}

// GenerateNodeRequest defines the optional body for
// POST /graph/nodes/{id}/generate.
type GenerateNodeRequest struct {
	UseLocalModel bool   `json:"useLocalModel,omitempty"`
	Model         string `json:"model,omitempty"`
}

// GenerationResponse is returned by both generation endpoints.
type GenerationResponse struct {
	orchestrator.Result
	Message string `json:"message"`
}

func newGenerationResponse(res orchestrator.Result) GenerationResponse {
	msg := fmt.Sprintf("Expression generated by %s", res.ModelID)
	if res.UsedFallback {
		msg = fmt.Sprintf("Expression generated by %s after %d fallback(s)", res.ModelID, res.RetryCount)
	}
	return GenerationResponse{Result: res, Message: msg}
}

// CreateNodeRequest defines the body for POST /graph/nodes. Data is decoded
// according to Kind; null or absent means the kind's defaults.
type CreateNodeRequest struct {
	Kind     string          `json:"kind"`
	Position graph.Position  `json:"position"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// CreateNodeResponse carries the fresh node id.
type CreateNodeResponse struct {
	ID string `json:"id"`
}

// EchoResponse is the body of POST /jsonata.
type EchoResponse struct {
	Received any `json:"received"`
}
