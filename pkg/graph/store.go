// Package graph owns the node/edge graph edited by the user.
//
// A Store holds one graph. Every mutation runs under a single writer lock, so
// readers always observe either the state before or after a mutation, never a
// partially applied one. Multi-step operations that must be observed as one
// transition (create a node, wire it, write into it) run inside Update.
//
// Basic usage:
//
//	s := graph.New()
//	out := s.Connect(graph.ConnectRequest{Source: graph.SeedNodeID})
//	snap := s.Snapshot()
package graph

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/btree"

	"github.com/sanonone/jsonqueryflow/pkg/metrics"
	"github.com/sanonone/jsonqueryflow/pkg/schemalite"
)

// SeedNodeID is the id of the source-data node every new graph starts with.
const SeedNodeID = "main-data"

// autoExpandOffset is where an auto-created node lands relative to its source
// when the caller gives no drop position.
var autoExpandOffset = Position{X: 200, Y: 0}

// IDGenerator returns a fresh id starting with prefix.
type IDGenerator func(prefix string) string

// Option configures a Store.
type Option func(*Store)

// WithRules replaces the default connection rules.
func WithRules(r ConnectionRules) Option {
	return func(s *Store) { s.rules = r }
}

// WithIDGenerator replaces the uuid based id generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(s *Store) { s.newID = gen }
}

// WithSeedValue sets the JSON value of the seed node.
func WithSeedValue(v any) Option {
	return func(s *Store) { s.seedValue = v }
}

// WithLogger sets the logger used for mutation diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is the single owner of a graph.
type Store struct {
	mu sync.RWMutex

	// nodes is ordered by id so snapshots are stable.
	nodes *btree.Map[string, Node]
	// edges keeps insertion order; upstream resolution depends on it.
	edges   []Edge
	edgeIDs map[string]struct{}

	rules     ConnectionRules
	newID     IDGenerator
	seedValue any
	logger    *slog.Logger
}

// New creates a graph holding one seed source-data node.
func New(opts ...Option) *Store {
	s := &Store{
		nodes:   btree.NewMap[string, Node](0),
		edgeIDs: make(map[string]struct{}),
		rules:   DefaultRules(),
		newID:   shortUUID,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	seed := DefaultData(KindSourceData).(DataNodeData)
	seed.Value = s.seedValue
	s.nodes.Set(SeedNodeID, Node{ID: SeedNodeID, Kind: KindSourceData, Data: seed})
	metrics.GraphNodes.Set(float64(s.nodes.Len()))

	return s
}

func shortUUID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Rules returns the connection rules in effect.
func (s *Store) Rules() ConnectionRules {
	return s.rules
}

// View runs fn with a read-only transaction. Calling a mutating method on tx
// panics.
func (s *Store) View(fn func(tx *Tx)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&Tx{s: s})
}

// Update runs fn with exclusive access to the graph. All changes fn makes are
// visible to other callers at once, when Update returns.
//
// fn must not call back into Store methods; use the Tx instead.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := fn(&Tx{s: s, writable: true})
	metrics.GraphNodes.Set(float64(s.nodes.Len()))
	return err
}

// Snapshot returns a copy of all nodes (by id) and edges (by creation order).
func (s *Store) Snapshot() Graph {
	var g Graph
	s.View(func(tx *Tx) {
		g = Graph{Nodes: tx.Nodes(), Edges: tx.Edges()}
	})
	return g
}

// Node returns a copy of the node with the given id.
func (s *Store) Node(id string) (Node, bool) {
	var (
		n  Node
		ok bool
	)
	s.View(func(tx *Tx) { n, ok = tx.Node(id) })
	return n, ok
}

// AddNode creates a node and returns its fresh id. A nil data uses the
// kind's defaults.
func (s *Store) AddNode(kind Kind, pos Position, data NodeData) (string, error) {
	var id string
	err := s.Update(func(tx *Tx) error {
		var err error
		id, err = tx.AddNode(kind, pos, data)
		return err
	})
	return id, err
}

// RemoveNode deletes a node and every edge touching it. It is a no-op for an
// unknown id.
func (s *Store) RemoveNode(id string) {
	_ = s.Update(func(tx *Tx) error {
		tx.RemoveNode(id)
		return nil
	})
}

// PatchNodeData shallow-merges patch into the node's data. It is a no-op for
// an unknown id. Patching "value" on a data node clears its cached schema.
func (s *Store) PatchNodeData(id string, patch Patch) error {
	return s.Update(func(tx *Tx) error {
		return tx.PatchNodeData(id, patch)
	})
}

// Connect handles a user drag gesture. See Tx.Connect.
func (s *Store) Connect(req ConnectRequest) Outcome {
	var out Outcome
	_ = s.Update(func(tx *Tx) error {
		out = tx.Connect(req)
		return nil
	})
	return out
}

// OnNodesChange applies a batch of UI node deltas atomically.
func (s *Store) OnNodesChange(changes []NodeChange) {
	_ = s.Update(func(tx *Tx) error {
		tx.ApplyNodeChanges(changes)
		return nil
	})
}

// OnEdgesChange applies a batch of UI edge deltas atomically.
func (s *Store) OnEdgesChange(changes []EdgeChange) {
	_ = s.Update(func(tx *Tx) error {
		tx.ApplyEdgeChanges(changes)
		return nil
	})
}

// Schema returns the schema-lite of a data node's value, computing and
// caching it on first use.
func (s *Store) Schema(id string) (*schemalite.Schema, error) {
	var sc *schemalite.Schema
	err := s.Update(func(tx *Tx) error {
		var err error
		sc, err = tx.Schema(id)
		return err
	})
	return sc, err
}

// Tx is a view of the graph inside View or Update.
type Tx struct {
	s        *Store
	writable bool
}

func (tx *Tx) mustWrite() {
	if !tx.writable {
		panic("graph: mutation inside a read-only transaction")
	}
}

// Rules returns the connection rules in effect.
func (tx *Tx) Rules() ConnectionRules {
	return tx.s.rules
}

// Node returns the node with the given id.
func (tx *Tx) Node(id string) (Node, bool) {
	return tx.s.nodes.Get(id)
}

// Nodes returns all nodes ordered by id.
func (tx *Tx) Nodes() []Node {
	return tx.s.nodes.Values()
}

// Edges returns all edges in creation order.
func (tx *Tx) Edges() []Edge {
	out := make([]Edge, len(tx.s.edges))
	copy(out, tx.s.edges)
	return out
}

// Outgoing returns the edges whose source is id, in creation order.
func (tx *Tx) Outgoing(id string) []Edge {
	var out []Edge
	for _, e := range tx.s.edges {
		if e.Source == id {
			out = append(out, e)
		}
	}
	return out
}

// Incoming returns the edges whose target is id, in creation order.
func (tx *Tx) Incoming(id string) []Edge {
	var out []Edge
	for _, e := range tx.s.edges {
		if e.Target == id {
			out = append(out, e)
		}
	}
	return out
}

// AddNode inserts a node with a fresh id.
func (tx *Tx) AddNode(kind Kind, pos Position, data NodeData) (string, error) {
	tx.mustWrite()

	if _, err := ParseKind(string(kind)); err != nil {
		return "", err
	}
	if data == nil {
		data = DefaultData(kind)
	}
	if !dataMatchesKind(kind, data) {
		return "", fmt.Errorf("%w: %T is not a payload for %s", ErrInvalidKind, data, kind)
	}

	id := tx.freshNodeID(kind)
	tx.s.nodes.Set(id, Node{ID: id, Kind: kind, Position: pos, Data: data})
	return id, nil
}

func (tx *Tx) freshNodeID(kind Kind) string {
	prefix := "source-"
	switch kind {
	case KindQuery:
		prefix = "query-"
	case KindDerivedData:
		prefix = "json-data-"
	}
	for {
		id := tx.s.newID(prefix)
		if _, taken := tx.s.nodes.Get(id); !taken {
			return id
		}
	}
}

// RemoveNode deletes a node and the edges touching it. It reports whether
// the node existed.
func (tx *Tx) RemoveNode(id string) bool {
	tx.mustWrite()

	if _, ok := tx.s.nodes.Delete(id); !ok {
		return false
	}

	kept := tx.s.edges[:0]
	for _, e := range tx.s.edges {
		if e.Source == id || e.Target == id {
			delete(tx.s.edgeIDs, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	tx.s.edges = kept
	return true
}

// PatchNodeData shallow-merges patch into the node's data.
func (tx *Tx) PatchNodeData(id string, patch Patch) error {
	tx.mustWrite()

	n, ok := tx.s.nodes.Get(id)
	if !ok {
		return nil
	}
	data, err := patch.apply(n.Data)
	if err != nil {
		return err
	}
	n.Data = data
	tx.s.nodes.Set(id, n)
	return nil
}

// Schema returns the cached schema-lite of a data node, computing it if the
// cache is empty. In a read-only transaction the result is not cached.
func (tx *Tx) Schema(id string) (*schemalite.Schema, error) {
	n, ok := tx.s.nodes.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	d, ok := n.DataNode()
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %s node", ErrInvalidKind, id, n.Kind)
	}
	if d.SchemaCache != nil {
		return d.SchemaCache, nil
	}

	sc := schemalite.Infer(d.Value)
	if tx.writable {
		d.SchemaCache = sc
		n.Data = d
		tx.s.nodes.Set(id, n)
	}
	return sc, nil
}

// addEdge appends e unless an edge with the same id already exists.
func (tx *Tx) addEdge(e Edge) bool {
	if _, dup := tx.s.edgeIDs[e.ID]; dup {
		return false
	}
	tx.s.edgeIDs[e.ID] = struct{}{}
	tx.s.edges = append(tx.s.edges, e)
	return true
}

// removeEdge deletes the edge with the given id.
func (tx *Tx) removeEdge(id string) bool {
	if _, ok := tx.s.edgeIDs[id]; !ok {
		return false
	}
	delete(tx.s.edgeIDs, id)
	for i, e := range tx.s.edges {
		if e.ID == id {
			tx.s.edges = append(tx.s.edges[:i], tx.s.edges[i+1:]...)
			break
		}
	}
	return true
}

// edgeID derives an edge id from its endpoints so that repeating the same
// connection yields the same id. Parts are escaped so ':' only ever appears
// as the separator.
func edgeID(source, sourceHandle, target, targetHandle string) string {
	parts := []string{source, sourceHandle, target, targetHandle}
	for i, p := range parts {
		parts[i] = url.QueryEscape(p)
	}
	return "e-" + strings.Join(parts, ":")
}
