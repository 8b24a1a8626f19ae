package graph

import "slices"

// Handle identifiers used by the rendering layer.
const (
	HandleSourceData  = "data-node-handle"
	HandleDerivedData = "json-data-node-handle"
	HandleQueryTarget = "query-target"
	HandleDataTarget  = "json-data-node-target"
)

// ConnectionRules decides which edges may be created.
//
// Rules are checked when an edge is created only. Existing edges are never
// re-validated.
type ConnectionRules struct {
	// AllowOut maps a source kind to the target kinds it may connect to.
	AllowOut map[Kind][]Kind
	// SourceHandles lists the handles a source kind may connect from.
	SourceHandles map[Kind][]string
	// TargetHandle is the handle a target kind must be connected on, if any.
	TargetHandle map[Kind]string
}

// DefaultRules returns the data -> query -> derived-data wiring.
func DefaultRules() ConnectionRules {
	return ConnectionRules{
		AllowOut: map[Kind][]Kind{
			KindSourceData:  {KindQuery},
			KindDerivedData: {KindQuery},
			KindQuery:       {KindDerivedData},
		},
		SourceHandles: map[Kind][]string{
			KindSourceData:  {HandleSourceData},
			KindDerivedData: {HandleDerivedData},
			KindQuery:       {HandleSourceData},
		},
		TargetHandle: map[Kind]string{
			KindQuery:       HandleQueryTarget,
			KindDerivedData: HandleDataTarget,
		},
	}
}

// CanConnect reports whether a node of kind src may feed a node of kind dst.
func (r ConnectionRules) CanConnect(src, dst Kind) bool {
	return slices.Contains(r.AllowOut[src], dst)
}

// SourceHandleAllowed reports whether handle is a valid outgoing handle for
// kind. An unspecified handle is always allowed.
func (r ConnectionRules) SourceHandleAllowed(kind Kind, handle string) bool {
	if handle == "" {
		return true
	}
	return slices.Contains(r.SourceHandles[kind], handle)
}

// TargetHandleAllowed reports whether handle matches the handle required on
// kind. An unspecified handle, or a kind without a requirement, always passes.
func (r ConnectionRules) TargetHandleAllowed(kind Kind, handle string) bool {
	if handle == "" {
		return true
	}
	required, ok := r.TargetHandle[kind]
	if !ok {
		return true
	}
	return required == handle
}

// Allows checks a full direct connection request.
func (r ConnectionRules) Allows(src Node, sourceHandle string, dst Node, targetHandle string) bool {
	return r.CanConnect(src.Kind, dst.Kind) &&
		r.SourceHandleAllowed(src.Kind, sourceHandle) &&
		r.TargetHandleAllowed(dst.Kind, targetHandle)
}
