package graph

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sanonone/jsonqueryflow/pkg/query"
	"github.com/sanonone/jsonqueryflow/pkg/schemalite"
)

var (
	ErrNodeNotFound = errors.New("node not found")
	ErrInvalidKind  = errors.New("invalid node kind")
	ErrInvalidPatch = errors.New("invalid node patch")
)

// Kind is the type tag of a node.
type Kind string

const (
	KindSourceData  Kind = "source-data"
	KindDerivedData Kind = "derived-data"
	KindQuery       Kind = "query"
)

// IsData reports whether nodes of this kind hold a JSON value.
func (k Kind) IsData() bool {
	return k == KindSourceData || k == KindDerivedData
}

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindSourceData, KindDerivedData, KindQuery:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// Position is a display coordinate. The engine only uses it to place
// auto-created nodes next to their source.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData is the kind-specific payload of a node. It is either a
// DataNodeData or a QueryNodeData.
type NodeData interface {
	isNodeData()
}

// DataNodeData is the payload of source-data and derived-data nodes.
type DataNodeData struct {
	Value       any                `json:"value"`
	SchemaCache *schemalite.Schema `json:"schemaCache"`
	Label       string             `json:"label"`
}

func (DataNodeData) isNodeData() {}

// QueryNodeData is the payload of query nodes.
type QueryNodeData struct {
	Expression          string `json:"expression"`
	NaturalLanguageText string `json:"naturalLanguageText"`
	IsRunning           bool   `json:"isRunning"`
	Label               string `json:"label"`
}

func (QueryNodeData) isNodeData() {}

// Node is a graph vertex.
type Node struct {
	ID       string   `json:"id"`
	Kind     Kind     `json:"type"`
	Position Position `json:"position"`
	Selected bool     `json:"selected,omitempty"`
	Data     NodeData `json:"data"`
}

// UnmarshalJSON decodes the payload variant selected by the node type.
func (n *Node) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID       string          `json:"id"`
		Kind     Kind            `json:"type"`
		Position Position        `json:"position"`
		Selected bool            `json:"selected"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	kind, err := ParseKind(string(raw.Kind))
	if err != nil {
		return err
	}
	data, err := DecodeData(kind, raw.Data)
	if err != nil {
		return err
	}
	*n = Node{ID: raw.ID, Kind: kind, Position: raw.Position, Selected: raw.Selected, Data: data}
	return nil
}

// DecodeData decodes a JSON payload for a node of the given kind. An empty
// payload yields the kind's defaults.
func DecodeData(kind Kind, b []byte) (NodeData, error) {
	if len(b) == 0 || string(b) == "null" {
		return DefaultData(kind), nil
	}
	if kind == KindQuery {
		d := DefaultData(kind).(QueryNodeData)
		if err := json.Unmarshal(b, &d); err != nil {
			return nil, fmt.Errorf("decode query node data: %w", err)
		}
		return d, nil
	}

	// schemaCache is derived; a client copy is never trusted.
	var d struct {
		Value any     `json:"value"`
		Label *string `json:"label"`
	}
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("decode data node data: %w", err)
	}
	out := DefaultData(kind).(DataNodeData)
	out.Value = d.Value
	if d.Label != nil {
		out.Label = *d.Label
	}
	return out, nil
}

// DataNode returns the payload of a data node.
func (n Node) DataNode() (DataNodeData, bool) {
	d, ok := n.Data.(DataNodeData)
	return d, ok
}

// QueryNode returns the payload of a query node.
func (n Node) QueryNode() (QueryNodeData, bool) {
	d, ok := n.Data.(QueryNodeData)
	return d, ok
}

// Edge is a directed connection between two node handles.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle,omitempty"`
	Selected     bool   `json:"selected,omitempty"`
}

// Graph is a consistent point-in-time copy of the store contents.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// DefaultData returns the payload a freshly created node of kind starts with.
func DefaultData(kind Kind) NodeData {
	switch kind {
	case KindQuery:
		return QueryNodeData{Label: "New Query Node", Expression: query.DefaultExpression}
	case KindDerivedData:
		return DataNodeData{Label: "New Data Node"}
	default:
		return DataNodeData{Label: "Source"}
	}
}

// dataMatchesKind reports whether data is the payload variant for kind.
func dataMatchesKind(kind Kind, data NodeData) bool {
	switch data.(type) {
	case DataNodeData:
		return kind.IsData()
	case QueryNodeData:
		return kind == KindQuery
	}
	return false
}

// Patch is a partial update shallow-merged into a node's data. Keys use the
// JSON field names of the payload ("value", "label", "expression", ...).
type Patch map[string]any

// apply merges p into data and returns the new payload. Every key is checked
// before anything is applied, so a rejected patch leaves the node untouched.
func (p Patch) apply(data NodeData) (NodeData, error) {
	switch d := data.(type) {
	case DataNodeData:
		for key, v := range p {
			switch key {
			case "value":
				d.Value = v
				// The cached schema describes the old value.
				if _, keep := p["schemaCache"]; !keep {
					d.SchemaCache = nil
				}
			case "label":
				s, ok := v.(string)
				if !ok {
					return data, fmt.Errorf("%w: %s must be a string", ErrInvalidPatch, key)
				}
				d.Label = s
			case "schemaCache":
				switch sc := v.(type) {
				case nil:
					d.SchemaCache = nil
				case *schemalite.Schema:
					d.SchemaCache = sc
				default:
					return data, fmt.Errorf("%w: schemaCache can only be cleared", ErrInvalidPatch)
				}
			default:
				return data, fmt.Errorf("%w: unknown data node field %q", ErrInvalidPatch, key)
			}
		}
		return d, nil

	case QueryNodeData:
		for key, v := range p {
			switch key {
			case "expression", "naturalLanguageText", "label":
				s, ok := v.(string)
				if !ok {
					return data, fmt.Errorf("%w: %s must be a string", ErrInvalidPatch, key)
				}
				switch key {
				case "expression":
					d.Expression = s
				case "naturalLanguageText":
					d.NaturalLanguageText = s
				default:
					d.Label = s
				}
			case "isRunning":
				b, ok := v.(bool)
				if !ok {
					return data, fmt.Errorf("%w: isRunning must be a boolean", ErrInvalidPatch)
				}
				d.IsRunning = b
			default:
				return data, fmt.Errorf("%w: unknown query node field %q", ErrInvalidPatch, key)
			}
		}
		return d, nil
	}
	return data, fmt.Errorf("%w: unsupported node data %T", ErrInvalidPatch, data)
}
