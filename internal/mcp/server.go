// Package mcp exposes schema inference, expression evaluation, generation and
// graph execution as Model Context Protocol tools.
package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sanonone/jsonqueryflow/pkg/engine"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

func NewMCPServer(eng *engine.Engine, gen engine.Generator, opts ...Option) *mcp.Server {
	service := NewService(eng, gen, opts...)

	s := mcp.NewServer(&mcp.Implementation{
		Name:    "JSON Query Flow",
		Version: Version,
	}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "infer_schema",
		Description: "Summarize the structure of a JSON value (types and field names, no values).",
	}, service.InferSchema)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "evaluate_query",
		Description: "Evaluate a JSONata expression against a JSON document. Evaluation errors are returned in the 'error' field.",
	}, service.EvaluateQuery)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "generate_query",
		Description: "Turn a natural-language request into a JSONata expression for a document with the given schema.",
	}, service.GenerateQuery)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "run_query_node",
		Description: "Execute a query node of the server graph and return the values written downstream.",
	}, service.RunNode)

	return s
}
