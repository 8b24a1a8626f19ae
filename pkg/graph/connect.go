package graph

// OutcomeKind describes what a Connect call did.
type OutcomeKind string

const (
	OutcomeNoop      OutcomeKind = "noop"
	OutcomeConnected OutcomeKind = "connected"
	OutcomeExpanded  OutcomeKind = "expanded"
)

// ConnectRequest is a drag gesture from a source handle, optionally ending on
// a target handle. Drop is where the gesture ended on an empty canvas.
type ConnectRequest struct {
	Source       string    `json:"source"`
	SourceHandle string    `json:"sourceHandle,omitempty"`
	Target       string    `json:"target,omitempty"`
	TargetHandle string    `json:"targetHandle,omitempty"`
	Drop         *Position `json:"position,omitempty"`
}

// Outcome reports the effect of a Connect call. EdgeID is empty when no edge
// was created; NodeID is only set when a node was auto-created.
type Outcome struct {
	Kind   OutcomeKind `json:"outcome"`
	EdgeID string      `json:"edgeId,omitempty"`
	NodeID string      `json:"nodeId,omitempty"`
}

// Connect applies a drag gesture:
//
//   - both endpoints exist: add the edge if the rules allow it
//   - no resolvable target and a data source: create a query node and wire it
//   - no resolvable target and a query source: create a derived-data node and wire it
//
// Anything else is a no-op. Rule violations are not errors.
func (tx *Tx) Connect(req ConnectRequest) Outcome {
	tx.mustWrite()

	src, ok := tx.Node(req.Source)
	if !ok {
		return Outcome{Kind: OutcomeNoop}
	}

	if req.Target != "" {
		if dst, ok := tx.Node(req.Target); ok {
			return tx.connectDirect(src, req.SourceHandle, dst, req.TargetHandle)
		}
		// An unresolved target gets no second edge: it would dangle.
		tx.s.logger.Debug("connect target not found, expanding", "source", req.Source, "target", req.Target)
	}

	return tx.expand(src, req.Drop)
}

func (tx *Tx) connectDirect(src Node, sourceHandle string, dst Node, targetHandle string) Outcome {
	if !tx.s.rules.Allows(src, sourceHandle, dst, targetHandle) {
		tx.s.logger.Debug("connect rejected by rules",
			"source", src.ID, "source_kind", src.Kind,
			"target", dst.ID, "target_kind", dst.Kind)
		return Outcome{Kind: OutcomeNoop}
	}

	e := Edge{
		ID:           edgeID(src.ID, sourceHandle, dst.ID, targetHandle),
		Source:       src.ID,
		SourceHandle: sourceHandle,
		Target:       dst.ID,
		TargetHandle: targetHandle,
	}
	if !tx.addEdge(e) {
		return Outcome{Kind: OutcomeNoop, EdgeID: e.ID}
	}
	return Outcome{Kind: OutcomeConnected, EdgeID: e.ID}
}

// expand creates the natural successor of src and wires src to it.
func (tx *Tx) expand(src Node, drop *Position) Outcome {
	var kind Kind
	switch {
	case src.Kind.IsData():
		kind = KindQuery
	case src.Kind == KindQuery:
		kind = KindDerivedData
	default:
		return Outcome{Kind: OutcomeNoop}
	}

	pos := Position{X: src.Position.X + autoExpandOffset.X, Y: src.Position.Y + autoExpandOffset.Y}
	if drop != nil {
		pos = *drop
	}

	id, err := tx.AddNode(kind, pos, nil)
	if err != nil {
		return Outcome{Kind: OutcomeNoop}
	}

	out := Outcome{Kind: OutcomeExpanded, NodeID: id}
	if tx.s.rules.CanConnect(src.Kind, kind) {
		e := Edge{ID: edgeID(src.ID, "", id, ""), Source: src.ID, Target: id}
		if tx.addEdge(e) {
			out.EdgeID = e.ID
		}
	}
	return out
}

// Expand creates a successor node for src as if the user had dropped a wire
// from it on the empty canvas.
func (tx *Tx) Expand(source string, drop *Position) Outcome {
	tx.mustWrite()

	src, ok := tx.Node(source)
	if !ok {
		return Outcome{Kind: OutcomeNoop}
	}
	return tx.expand(src, drop)
}
