package diagram

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
)

// ErrUnknownOperation is returned when State is asked to apply an operation
// type it does not know.
var ErrUnknownOperation = errors.New("unknown operation type")

// Node is a materialized diagram node.
type Node struct {
	ID     string          `json:"id"`
	X      float64         `json:"x"`
	Y      float64         `json:"y"`
	Width  int             `json:"width"`
	Height int             `json:"height"`
	Data   json.RawMessage `json:"data,omitempty"`
	Attrs  map[string]any  `json:"attrs,omitempty"`
}

// Edge is a materialized diagram edge.
type Edge struct {
	ID       string          `json:"id"`
	SourceID string          `json:"sourceId"`
	TargetID string          `json:"targetId"`
	Kind     string          `json:"kind"`
	Labels   json.RawMessage `json:"labels,omitempty"`
	Mult     json.RawMessage `json:"mult,omitempty"`
	Attrs    map[string]any  `json:"attrs,omitempty"`
}

// State is the full materialized content of a diagram. Operations are
// applied in sequence order and the last write to a field wins. Updates to
// entities that do not exist are no-ops. It is not safe for concurrent use.
type State struct {
	Nodes map[string]Node
	Edges map[string]Edge
}

// NewState returns an empty diagram.
func NewState() *State {
	return &State{
		Nodes: make(map[string]Node),
		Edges: make(map[string]Edge),
	}
}

// Apply executes one operation.
func (s *State) Apply(op Operation) error {
	switch o := op.(type) {
	case NodeCreateOp:
		s.Nodes[o.ID] = Node{ID: o.ID, X: float64(o.X), Y: float64(o.Y), Width: o.Width, Height: o.Height, Data: compact(o.Data)}
	case NodeUpdateOp:
		if n, ok := s.Nodes[o.ID]; ok {
			s.Nodes[o.ID] = patchNode(n, o.Patch)
		}
	case NodeMoveOp:
		if n, ok := s.Nodes[o.ID]; ok {
			n.X, n.Y = o.X, o.Y
			s.Nodes[o.ID] = n
		}
	case NodeDeleteOp:
		delete(s.Nodes, o.ID)

		for id, e := range s.Edges {
			if e.SourceID == o.ID || e.TargetID == o.ID {
				delete(s.Edges, id)
			}
		}
	case EdgeCreateOp:
		s.Edges[o.ID] = Edge{
			ID:       o.ID,
			SourceID: o.SourceID,
			TargetID: o.TargetID,
			Kind:     o.RelationKind,
			Labels:   compact(o.Labels),
			Mult:     compact(o.Mult),
		}
	case EdgeUpdateOp:
		if e, ok := s.Edges[o.ID]; ok {
			s.Edges[o.ID] = patchEdge(e, o.Patch)
		}
	case EdgeDeleteOp:
		delete(s.Edges, o.ID)
	default:
		return ErrUnknownOperation
	}

	return nil
}

func patchNode(n Node, p Patch) Node {
	for k, v := range p {
		switch k {
		case "x":
			n.X = toFloat(v, n.X)
		case "y":
			n.Y = toFloat(v, n.Y)
		case "width":
			n.Width = toInt(v, n.Width)
		case "height":
			n.Height = toInt(v, n.Height)
		case "data":
			n.Data = toRaw(v)
		default:
			n.Attrs = setAttr(n.Attrs, k, v)
		}
	}

	return n
}

func patchEdge(e Edge, p Patch) Edge {
	for k, v := range p {
		switch k {
		case "sourceId":
			e.SourceID = toString(v, e.SourceID)
		case "targetId":
			e.TargetID = toString(v, e.TargetID)
		case "kind":
			e.Kind = toString(v, e.Kind)
		case "labels":
			e.Labels = toRaw(v)
		case "mult":
			e.Mult = toRaw(v)
		default:
			e.Attrs = setAttr(e.Attrs, k, v)
		}
	}

	return e
}

func setAttr(attrs map[string]any, k string, v any) map[string]any {
	// attrs may be shared with a previous copy of the entity
	out := make(map[string]any, len(attrs)+1)
	for ak, av := range attrs {
		out[ak] = av
	}

	if v == nil {
		delete(out, k)
	} else {
		out[k] = v
	}

	if len(out) == 0 {
		return nil
	}

	return out
}

func toInt(v any, fallback int) int {
	switch n := v.(type) {
	case float64:
		return int(math.Round(n))
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return int(math.Round(f))
		}
	}

	return fallback
}

func toFloat(v any, fallback float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}

	return fallback
}

func toString(v any, fallback string) string {
	if s, ok := v.(string); ok {
		return s
	}

	return fallback
}

func toRaw(v any) json.RawMessage {
	if v == nil {
		return nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}

	return raw
}

func compact(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}

	return toRaw(v)
}

type stateJSON struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// MarshalJSON encodes the state with entities sorted by id so equal states
// always produce identical bytes.
func (s *State) MarshalJSON() ([]byte, error) {
	out := stateJSON{
		Nodes: make([]Node, 0, len(s.Nodes)),
		Edges: make([]Edge, 0, len(s.Edges)),
	}

	for _, n := range s.Nodes {
		out.Nodes = append(out.Nodes, n)
	}

	for _, e := range s.Edges {
		out.Edges = append(out.Edges, e)
	}

	sort.Slice(out.Nodes, func(i, j int) bool { return out.Nodes[i].ID < out.Nodes[j].ID })
	sort.Slice(out.Edges, func(i, j int) bool { return out.Edges[i].ID < out.Edges[j].ID })

	return json.Marshal(out)
}

// UnmarshalJSON restores a state previously encoded with MarshalJSON.
func (s *State) UnmarshalJSON(data []byte) error {
	var in stateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	s.Nodes = make(map[string]Node, len(in.Nodes))
	s.Edges = make(map[string]Edge, len(in.Edges))

	for _, n := range in.Nodes {
		s.Nodes[n.ID] = n
	}

	for _, e := range in.Edges {
		s.Edges[e.ID] = e
	}

	return nil
}
