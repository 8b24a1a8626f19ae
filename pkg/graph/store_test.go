package graph

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/jsonqueryflow/pkg/schemalite"
)

// sequentialIDs returns an id generator producing prefix1, prefix2, ...
func sequentialIDs() IDGenerator {
	var (
		mu sync.Mutex
		n  int
	)
	return func(prefix string) string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

// assertConnected checks that every edge references two live nodes.
func assertConnected(t *testing.T, g Graph) {
	t.Helper()
	ids := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		ids[n.ID] = true
	}
	for _, e := range g.Edges {
		assert.True(t, ids[e.Source], "edge %s has dangling source %s", e.ID, e.Source)
		assert.True(t, ids[e.Target], "edge %s has dangling target %s", e.ID, e.Target)
	}
}

func TestNewSeedsSourceNode(t *testing.T) {
	s := New(WithSeedValue(map[string]any{"a": 1.0}))

	g := s.Snapshot()
	require.Len(t, g.Nodes, 1)
	assert.Empty(t, g.Edges)

	seed := g.Nodes[0]
	assert.Equal(t, SeedNodeID, seed.ID)
	assert.Equal(t, KindSourceData, seed.Kind)
	d, ok := seed.DataNode()
	require.True(t, ok)
	assert.Equal(t, "Source", d.Label)
	assert.Equal(t, map[string]any{"a": 1.0}, d.Value)
	assert.Nil(t, d.SchemaCache)
}

func TestAddNode(t *testing.T) {
	s := New(WithIDGenerator(sequentialIDs()))

	qid, err := s.AddNode(KindQuery, Position{X: 1, Y: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, "query-1", qid)

	did, err := s.AddNode(KindDerivedData, Position{}, DataNodeData{Label: "out"})
	require.NoError(t, err)
	assert.Equal(t, "json-data-2", did)

	q, ok := s.Node(qid)
	require.True(t, ok)
	qd, ok := q.QueryNode()
	require.True(t, ok)
	assert.Equal(t, "$", qd.Expression)
	assert.Equal(t, Position{X: 1, Y: 2}, q.Position)

	_, err = s.AddNode(KindQuery, Position{}, DataNodeData{})
	assert.ErrorIs(t, err, ErrInvalidKind)

	_, err = s.AddNode(Kind("widget"), Position{}, nil)
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestAddNodeSkipsTakenIDs(t *testing.T) {
	calls := 0
	gen := func(prefix string) string {
		calls++
		if calls == 1 {
			return SeedNodeID
		}
		return prefix + "fresh"
	}
	s := New(WithIDGenerator(gen))

	id, err := s.AddNode(KindSourceData, Position{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "source-fresh", id)
	assert.Equal(t, 2, calls)
}

func TestDefaultIDsAreUnique(t *testing.T) {
	s := New()
	seen := map[string]bool{SeedNodeID: true}
	for i := 0; i < 200; i++ {
		id, err := s.AddNode(KindQuery, Position{}, nil)
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
		assert.Regexp(t, `^query-[0-9a-f]{8}$`, id)
	}
}

func TestRemoveNodeCascades(t *testing.T) {
	s := New(WithIDGenerator(sequentialIDs()))

	// main-data -> q1 -> d2, main-data -> q3
	q1 := s.Connect(ConnectRequest{Source: SeedNodeID}).NodeID
	d2 := s.Connect(ConnectRequest{Source: q1}).NodeID
	q3 := s.Connect(ConnectRequest{Source: SeedNodeID}).NodeID
	require.NotEmpty(t, d2)
	require.NotEmpty(t, q3)
	require.Len(t, s.Snapshot().Edges, 3)

	before := s.Snapshot()
	s.RemoveNode(q1)
	after := s.Snapshot()

	assert.Len(t, after.Nodes, len(before.Nodes)-1)
	// q1 touched two edges.
	assert.Len(t, after.Edges, len(before.Edges)-2)
	assertConnected(t, after)

	// Removing an absent node changes nothing.
	s.RemoveNode("nope")
	assert.Equal(t, after, s.Snapshot())
}

func TestPatchNodeData(t *testing.T) {
	s := New(WithSeedValue(map[string]any{"a": 1.0}))

	sc, err := s.Schema(SeedNodeID)
	require.NoError(t, err)
	assert.Equal(t, schemalite.TagObject, sc.Tag)

	n, _ := s.Node(SeedNodeID)
	d, _ := n.DataNode()
	require.NotNil(t, d.SchemaCache, "schema should be cached after first read")

	t.Run("value clears schema cache", func(t *testing.T) {
		require.NoError(t, s.PatchNodeData(SeedNodeID, Patch{"value": []any{"x"}}))
		n, _ := s.Node(SeedNodeID)
		d, _ := n.DataNode()
		assert.Equal(t, []any{"x"}, d.Value)
		assert.Nil(t, d.SchemaCache)
		assert.Equal(t, "Source", d.Label, "patch is a shallow merge")

		sc, err := s.Schema(SeedNodeID)
		require.NoError(t, err)
		assert.Equal(t, schemalite.TagArray, sc.Tag)
	})

	t.Run("absent node is a no-op", func(t *testing.T) {
		before := s.Snapshot()
		require.NoError(t, s.PatchNodeData("ghost", Patch{"label": "x"}))
		assert.Equal(t, before, s.Snapshot())
	})

	t.Run("bad field leaves node untouched", func(t *testing.T) {
		before := s.Snapshot()
		err := s.PatchNodeData(SeedNodeID, Patch{"label": "renamed", "expression": "$"})
		assert.ErrorIs(t, err, ErrInvalidPatch)
		assert.Equal(t, before, s.Snapshot())
	})

	t.Run("query fields", func(t *testing.T) {
		qid, err := s.AddNode(KindQuery, Position{}, nil)
		require.NoError(t, err)
		require.NoError(t, s.PatchNodeData(qid, Patch{"naturalLanguageText": "all names", "isRunning": true}))
		n, _ := s.Node(qid)
		q, _ := n.QueryNode()
		assert.Equal(t, "all names", q.NaturalLanguageText)
		assert.True(t, q.IsRunning)
		assert.Equal(t, "$", q.Expression)

		err = s.PatchNodeData(qid, Patch{"isRunning": "yes"})
		assert.ErrorIs(t, err, ErrInvalidPatch)
	})
}

func TestSchemaErrors(t *testing.T) {
	s := New()
	qid, err := s.AddNode(KindQuery, Position{}, nil)
	require.NoError(t, err)

	_, err = s.Schema("ghost")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	_, err = s.Schema(qid)
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestViewIsReadOnly(t *testing.T) {
	s := New()
	assert.Panics(t, func() {
		s.View(func(tx *Tx) {
			_, _ = tx.AddNode(KindQuery, Position{}, nil)
		})
	})
}

func TestUpdateIsAtomicForReaders(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// A writer that always adds a node and wires it in the same transaction.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.Connect(ConnectRequest{Source: SeedNodeID})
		}
		close(stop)
	}()

	// Readers must never see a query node without its incoming edge.
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				g := s.Snapshot()
				wired := map[string]bool{}
				for _, e := range g.Edges {
					wired[e.Target] = true
				}
				for _, n := range g.Nodes {
					if n.Kind == KindQuery && !wired[n.ID] {
						t.Errorf("observed unwired query node %s", n.ID)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, s.Snapshot().Nodes, 201)
}

func TestNodeJSONRoundTrip(t *testing.T) {
	s := New(WithIDGenerator(sequentialIDs()), WithSeedValue([]any{1.0}))
	qid := s.Connect(ConnectRequest{Source: SeedNodeID}).NodeID
	require.NoError(t, s.PatchNodeData(qid, Patch{"expression": "$sum($)"}))

	g := s.Snapshot()
	b, err := json.Marshal(g)
	require.NoError(t, err)

	var back Graph
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, g, back)
}

func TestDecodeData(t *testing.T) {
	d, err := DecodeData(KindQuery, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultData(KindQuery), d)

	d, err = DecodeData(KindDerivedData, []byte(`{"value":{"x":true},"schemaCache":"bogus"}`))
	require.NoError(t, err)
	dd := d.(DataNodeData)
	assert.Equal(t, map[string]any{"x": true}, dd.Value)
	assert.Equal(t, "New Data Node", dd.Label)
	assert.Nil(t, dd.SchemaCache)

	_, err = DecodeData(KindQuery, []byte(`{"expression":1}`))
	assert.Error(t, err)
}
