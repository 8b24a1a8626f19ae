package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestApplyNodeChanges(t *testing.T) {
	s := New(WithIDGenerator(sequentialIDs()))
	qid := s.Connect(ConnectRequest{Source: SeedNodeID}).NodeID
	did := s.Connect(ConnectRequest{Source: qid}).NodeID

	s.OnNodesChange([]NodeChange{
		{Type: ChangePosition, ID: SeedNodeID, Position: &Position{X: -10, Y: 5}},
		{Type: ChangeSelect, ID: did, Selected: ptr(true)},
		{Type: ChangePosition, ID: "ghost", Position: &Position{X: 1}},
		{Type: "dimensions", ID: qid},
	})

	seed, _ := s.Node(SeedNodeID)
	assert.Equal(t, Position{X: -10, Y: 5}, seed.Position)
	d, _ := s.Node(did)
	assert.True(t, d.Selected)
	assert.Len(t, s.Snapshot().Nodes, 3)
}

func TestApplyNodeChangesRemoveCascades(t *testing.T) {
	s := New(WithIDGenerator(sequentialIDs()))
	qid := s.Connect(ConnectRequest{Source: SeedNodeID}).NodeID
	s.Connect(ConnectRequest{Source: qid})
	require.Len(t, s.Snapshot().Edges, 2)

	s.OnNodesChange([]NodeChange{{Type: ChangeRemove, ID: qid}})

	g := s.Snapshot()
	assert.Len(t, g.Nodes, 2)
	assert.Empty(t, g.Edges)
	assertConnected(t, g)
}

func TestApplyEdgeChanges(t *testing.T) {
	s := New(WithIDGenerator(sequentialIDs()))
	qid := s.Connect(ConnectRequest{Source: SeedNodeID}).NodeID
	out := s.Connect(ConnectRequest{Source: qid})
	g := s.Snapshot()
	require.Len(t, g.Edges, 2)
	first := g.Edges[0].ID

	s.OnEdgesChange([]EdgeChange{
		{Type: ChangeSelect, ID: first, Selected: ptr(true)},
		{Type: ChangeRemove, ID: out.EdgeID},
		{Type: ChangeRemove, ID: "ghost"},
	})

	g = s.Snapshot()
	require.Len(t, g.Edges, 1)
	assert.Equal(t, first, g.Edges[0].ID)
	assert.True(t, g.Edges[0].Selected)
	// Removing an edge never removes nodes.
	assert.Len(t, g.Nodes, 3)

	// The removed edge can be recreated.
	again := s.Connect(ConnectRequest{Source: qid, Target: out.NodeID})
	assert.Equal(t, OutcomeConnected, again.Kind)
}
