package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/time/rate"

	"github.com/sanonone/jsonqueryflow/pkg/engine"
	"github.com/sanonone/jsonqueryflow/pkg/graph"
	"github.com/sanonone/jsonqueryflow/pkg/orchestrator"
	"github.com/sanonone/jsonqueryflow/pkg/prompt"
	"github.com/sanonone/jsonqueryflow/pkg/query"
	"github.com/sanonone/jsonqueryflow/pkg/schemalite"
)

// ErrRateLimited is returned by generate_query when the shared limiter has
// no tokens left.
var ErrRateLimited = errors.New("rate limit exceeded")

type Service struct {
	engine    *engine.Engine
	evaluator query.Evaluator
	generator engine.Generator
	limiter   *rate.Limiter
}

// Option configures a Service.
type Option func(*Service)

// WithLimiter bounds generate_query with l. Pass the limiter of the HTTP
// server so both surfaces draw from the same budget. Nil disables it.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// NewService wires the tool handlers. generator may be nil, in which case
// generate_query reports an error.
func NewService(eng *engine.Engine, gen engine.Generator, opts ...Option) *Service {
	s := &Service{
		engine:    eng,
		evaluator: query.NewJSONata(),
		generator: gen,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- Tool Handlers ---

func (s *Service) InferSchema(ctx context.Context, req *mcp.CallToolRequest, args InferSchemaArgs) (*mcp.CallToolResult, InferSchemaResult, error) {
	return nil, InferSchemaResult{Schema: schemalite.Infer(args.Value).Wire()}, nil
}

func (s *Service) EvaluateQuery(ctx context.Context, req *mcp.CallToolRequest, args EvaluateQueryArgs) (*mcp.CallToolResult, EvaluateQueryResult, error) {
	out, err := s.evaluator.Evaluate(args.Expression, args.Input)
	if err != nil {
		// A broken expression is a normal outcome, not a tool failure.
		return nil, EvaluateQueryResult{Error: err.Error()}, nil
	}
	return nil, EvaluateQueryResult{Result: out}, nil
}

func (s *Service) GenerateQuery(ctx context.Context, req *mcp.CallToolRequest, args GenerateQueryArgs) (*mcp.CallToolResult, orchestrator.Result, error) {
	if s.generator == nil {
		return nil, orchestrator.Result{}, engine.ErrNoGenerator
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, orchestrator.Result{}, errors.New("query must not be empty")
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return nil, orchestrator.Result{}, ErrRateLimited
	}

	// 1. Prompt
	text, err := prompt.Build(args.Schema, args.Query)
	if err != nil {
		return nil, orchestrator.Result{}, err
	}

	// 2. Models
	res, err := s.generator.Generate(ctx, text, orchestrator.Options{
		PreferLocal: args.UseLocalModel,
		ModelID:     args.Model,
	})
	if err != nil {
		return nil, orchestrator.Result{}, fmt.Errorf("generation failed: %w", err)
	}
	return nil, res, nil
}

func (s *Service) RunNode(ctx context.Context, req *mcp.CallToolRequest, args RunNodeArgs) (*mcp.CallToolResult, RunNodeResult, error) {
	if err := s.engine.Run(ctx, args.NodeID); err != nil {
		return nil, RunNodeResult{}, err
	}

	results := map[string]any{}
	s.engine.Store().View(func(tx *graph.Tx) {
		for _, e := range tx.Outgoing(args.NodeID) {
			n, ok := tx.Node(e.Target)
			if !ok {
				continue
			}
			if d, ok := n.DataNode(); ok {
				results[n.ID] = d.Value
			}
		}
	})
	return nil, RunNodeResult{Results: results}, nil
}
