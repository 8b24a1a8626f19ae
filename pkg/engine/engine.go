// Package engine executes query nodes of a graph and writes AI generated
// expressions back onto them.
//
// Running a query node reads the first upstream data node, evaluates the
// node's expression against it and writes the result into every downstream
// derived-data node, creating one when there is none. Evaluation failures are
// written as {"error": message} rather than returned.
//
// Basic usage:
//
//	store := graph.New(graph.WithSeedValue(doc))
//	eng := engine.New(store)
//	out := store.Connect(graph.ConnectRequest{Source: graph.SeedNodeID})
//	if err := eng.Run(ctx, out.NodeID); err != nil {
//	    log.Fatal(err)
//	}
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sanonone/jsonqueryflow/pkg/graph"
	"github.com/sanonone/jsonqueryflow/pkg/metrics"
	"github.com/sanonone/jsonqueryflow/pkg/orchestrator"
	"github.com/sanonone/jsonqueryflow/pkg/prompt"
	"github.com/sanonone/jsonqueryflow/pkg/query"
	"github.com/sanonone/jsonqueryflow/pkg/schemalite"
)

var (
	// ErrNotQueryNode is returned when Run or Generate target a data node.
	ErrNotQueryNode = errors.New("not a query node")
	// ErrNodeRemoved is returned when a query node disappeared while its
	// expression was being generated. The generated result is discarded.
	ErrNodeRemoved = errors.New("query node was removed")
	// ErrNoGenerator is returned by Generate when no Generator is wired.
	ErrNoGenerator = errors.New("no expression generator configured")
	// ErrEmptyRequest is returned by Generate when the node has no
	// natural-language text.
	ErrEmptyRequest = errors.New("query node has no natural-language request")
)

// ResultLabel is the label given to data nodes that receive a query result.
const ResultLabel = "Result"

// Generator synthesizes an expression from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts orchestrator.Options) (orchestrator.Result, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithEvaluator replaces the JSONata evaluator.
func WithEvaluator(ev query.Evaluator) Option {
	return func(e *Engine) { e.eval = ev }
}

// WithGenerator wires the AI generation path.
func WithGenerator(g Generator) Option {
	return func(e *Engine) { e.gen = g }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine runs query nodes of one graph.
type Engine struct {
	store  *graph.Store
	eval   query.Evaluator
	gen    Generator
	logger *slog.Logger

	// running serializes Run calls per query node.
	running *keyedMutex
}

// New creates an Engine over store.
func New(store *graph.Store, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		eval:    query.NewJSONata(),
		logger:  slog.Default(),
		running: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the graph the engine runs against.
func (e *Engine) Store() *graph.Store {
	return e.store
}

// Run executes the query node id. It only fails when id does not name a
// query node or ctx is done before the run starts; a broken expression is
// reported through the downstream nodes.
//
// Concurrent runs of the same node are serialized.
func (e *Engine) Run(ctx context.Context, id string) error {
	unlock := e.running.Lock(id)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	// 1. Mark running and capture the inputs.
	var (
		expression string
		input      any = map[string]any{}
	)
	err := e.store.Update(func(tx *graph.Tx) error {
		q, err := queryNode(tx, id)
		if err != nil {
			return err
		}
		if err := tx.PatchNodeData(id, graph.Patch{"isRunning": true}); err != nil {
			return err
		}
		expression = q.Expression

		if up, ok := upstreamData(tx, id); ok {
			d, _ := up.DataNode()
			if d.Value != nil {
				input = d.Value
			}
			// Cached for the AI path; evaluation does not use it.
			if _, err := tx.Schema(up.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// 2. Evaluate outside the graph lock.
	result, evalErr := e.eval.Evaluate(expression, input)
	outcome := "ok"
	if evalErr != nil {
		outcome = "error"
		result = map[string]any{"error": evalErr.Error()}
		e.logger.Debug("query evaluation failed", "node", id, "expression", expression, "error", evalErr)
	}
	metrics.QueryRuns.WithLabelValues(outcome).Inc()

	// 3. Write results, creating a target if needed, in one transition.
	return e.store.Update(func(tx *graph.Tx) error {
		if _, ok := tx.Node(id); !ok {
			e.logger.Debug("query node removed during run, result discarded", "node", id)
			return nil
		}

		targets := downstreamData(tx, id)
		if len(targets) == 0 {
			out := tx.Expand(id, nil)
			if out.NodeID == "" {
				return fmt.Errorf("create result node for %s: no node created", id)
			}
			if out.EdgeID == "" {
				e.logger.Warn("result node created without an edge", "node", id, "target", out.NodeID)
			}
			targets = []string{out.NodeID}
		}

		for _, t := range targets {
			if err := tx.PatchNodeData(t, graph.Patch{"value": result, "label": ResultLabel}); err != nil {
				return err
			}
		}
		return tx.PatchNodeData(id, graph.Patch{"isRunning": false})
	})
}

// GenerateOptions selects the generation path.
type GenerateOptions struct {
	PreferLocal bool
	ModelID     string
	APIKey      string
}

// Generate synthesizes an expression for the query node id from its
// natural-language text and the schema of its upstream data, and stores it as
// the node's expression. If the node is removed while the model call is in
// flight, the result is returned together with ErrNodeRemoved and nothing is
// written.
func (e *Engine) Generate(ctx context.Context, id string, opts GenerateOptions) (orchestrator.Result, error) {
	if e.gen == nil {
		return orchestrator.Result{}, ErrNoGenerator
	}

	// 1. Read the request and the upstream schema.
	var (
		request string
		schema  *schemalite.Schema
	)
	err := e.store.Update(func(tx *graph.Tx) error {
		q, err := queryNode(tx, id)
		if err != nil {
			return err
		}
		request = q.NaturalLanguageText

		if up, ok := upstreamData(tx, id); ok {
			schema, err = tx.Schema(up.ID)
			return err
		}
		schema = schemalite.Infer(map[string]any{})
		return nil
	})
	if err != nil {
		return orchestrator.Result{}, err
	}
	if request == "" {
		return orchestrator.Result{}, ErrEmptyRequest
	}

	// 2. Build the prompt and call the models.
	text, err := prompt.Build(schema, request)
	if err != nil {
		return orchestrator.Result{}, err
	}
	res, err := e.gen.Generate(ctx, text, orchestrator.Options{
		PreferLocal: opts.PreferLocal,
		ModelID:     opts.ModelID,
		APIKey:      opts.APIKey,
	})
	if err != nil {
		return orchestrator.Result{}, err
	}

	// 3. Write back only if the node still exists.
	err = e.store.Update(func(tx *graph.Tx) error {
		if _, err := queryNode(tx, id); err != nil {
			return ErrNodeRemoved
		}
		return tx.PatchNodeData(id, graph.Patch{"expression": res.Expression})
	})
	if errors.Is(err, ErrNodeRemoved) {
		e.logger.Info("Generated expression discarded, node removed", "node", id, "model", res.ModelID)
	}
	return res, err
}

func queryNode(tx *graph.Tx, id string) (graph.QueryNodeData, error) {
	n, ok := tx.Node(id)
	if !ok {
		return graph.QueryNodeData{}, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, id)
	}
	q, ok := n.QueryNode()
	if !ok {
		return graph.QueryNodeData{}, fmt.Errorf("%w: %s is a %s node", ErrNotQueryNode, id, n.Kind)
	}
	return q, nil
}

// upstreamData returns the first data node feeding id, in edge creation
// order. Other upstream nodes are ignored.
func upstreamData(tx *graph.Tx, id string) (graph.Node, bool) {
	for _, e := range tx.Incoming(id) {
		if n, ok := tx.Node(e.Source); ok && n.Kind.IsData() {
			return n, true
		}
	}
	return graph.Node{}, false
}

// downstreamData returns the ids of every derived-data node fed by id.
func downstreamData(tx *graph.Tx, id string) []string {
	var out []string
	seen := map[string]bool{}
	for _, e := range tx.Outgoing(id) {
		n, ok := tx.Node(e.Target)
		if !ok || n.Kind != graph.KindDerivedData || seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		out = append(out, n.ID)
	}
	return out
}
