package graph

// Change types emitted by the rendering layer.
const (
	ChangePosition = "position"
	ChangeSelect   = "select"
	ChangeRemove   = "remove"
)

// NodeChange is one UI-driven node delta.
type NodeChange struct {
	Type     string    `json:"type"`
	ID       string    `json:"id"`
	Position *Position `json:"position,omitempty"`
	Selected *bool     `json:"selected,omitempty"`
}

// EdgeChange is one UI-driven edge delta.
type EdgeChange struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Selected *bool  `json:"selected,omitempty"`
}

// ApplyNodeChanges applies deltas in order. Changes naming unknown nodes and
// unknown change types are skipped. Removals cascade to edges.
func (tx *Tx) ApplyNodeChanges(changes []NodeChange) {
	tx.mustWrite()

	for _, c := range changes {
		if c.Type == ChangeRemove {
			tx.RemoveNode(c.ID)
			continue
		}

		n, ok := tx.s.nodes.Get(c.ID)
		if !ok {
			continue
		}
		switch c.Type {
		case ChangePosition:
			if c.Position == nil {
				continue
			}
			n.Position = *c.Position
		case ChangeSelect:
			if c.Selected == nil {
				continue
			}
			n.Selected = *c.Selected
		default:
			tx.s.logger.Debug("ignoring node change", "type", c.Type, "id", c.ID)
			continue
		}
		tx.s.nodes.Set(c.ID, n)
	}
}

// ApplyEdgeChanges applies deltas in order.
func (tx *Tx) ApplyEdgeChanges(changes []EdgeChange) {
	tx.mustWrite()

	for _, c := range changes {
		switch c.Type {
		case ChangeRemove:
			tx.removeEdge(c.ID)
		case ChangeSelect:
			if c.Selected == nil {
				continue
			}
			for i := range tx.s.edges {
				if tx.s.edges[i].ID == c.ID {
					tx.s.edges[i].Selected = *c.Selected
					break
				}
			}
		default:
			tx.s.logger.Debug("ignoring edge change", "type", c.Type, "id", c.ID)
		}
	}
}
