package diagram

import (
	"encoding/json"
	"fmt"

	"github.com/serroba/online-diagrams/internal/apperr"
)

// ErrInvalidOperation is returned when a mutation fails boundary validation.
var ErrInvalidOperation = fmt.Errorf("invalid operation: %w", apperr.ErrValidation)

// Kind identifies a mutating operation on one entity family.
type Kind string

const (
	NodeCreate Kind = "node:create"
	NodeUpdate Kind = "node:update"
	NodeMove   Kind = "node:move"
	NodeDelete Kind = "node:delete"
	EdgeCreate Kind = "edge:create"
	EdgeUpdate Kind = "edge:update"
	EdgeDelete Kind = "edge:delete"
)

// Kinds lists every mutating operation kind.
var Kinds = []Kind{NodeCreate, NodeUpdate, NodeMove, NodeDelete, EdgeCreate, EdgeUpdate, EdgeDelete}

var eventTypes = map[Kind]string{
	NodeCreate: "node:created",
	NodeUpdate: "node:updated",
	NodeMove:   "node:moved",
	NodeDelete: "node:deleted",
	EdgeCreate: "edge:created",
	EdgeUpdate: "edge:updated",
	EdgeDelete: "edge:deleted",
}

// Valid reports whether k is a known operation kind.
func (k Kind) Valid() bool {
	_, ok := eventTypes[k]

	return ok
}

// EventType returns the peer event name emitted once an operation of this
// kind has been applied, e.g. "node:moved".
func (k Kind) EventType() string {
	return eventTypes[k]
}

// Operation is the tagged union of mutations. The unexported validate method
// seals it to the types declared in this package.
type Operation interface {
	Kind() Kind
	EntityID() string
	validate() error
}

// Patch is a partial field update.
type Patch map[string]any

// NodeCreateOp places a new node on the canvas.
type NodeCreateOp struct {
	ID     string          `json:"id"`
	X      int             `json:"x"`
	Y      int             `json:"y"`
	Width  int             `json:"width"`
	Height int             `json:"height"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// NodeUpdateOp patches node fields.
type NodeUpdateOp struct {
	ID    string `json:"id"`
	Patch Patch  `json:"patch"`
}

// NodeMoveOp repositions a node. Drag positions may be fractional.
type NodeMoveOp struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// NodeDeleteOp removes a node and every edge attached to it.
type NodeDeleteOp struct {
	ID string `json:"id"`
}

// EdgeCreateOp connects two nodes.
type EdgeCreateOp struct {
	ID           string          `json:"id"`
	SourceID     string          `json:"sourceId"`
	TargetID     string          `json:"targetId"`
	RelationKind string          `json:"kind"`
	Labels       json.RawMessage `json:"labels,omitempty"`
	Mult         json.RawMessage `json:"mult,omitempty"`
}

// EdgeUpdateOp patches edge fields.
type EdgeUpdateOp struct {
	ID    string `json:"id"`
	Patch Patch  `json:"patch"`
}

// EdgeDeleteOp removes an edge.
type EdgeDeleteOp struct {
	ID string `json:"id"`
}

func (NodeCreateOp) Kind() Kind { return NodeCreate }
func (NodeUpdateOp) Kind() Kind { return NodeUpdate }
func (NodeMoveOp) Kind() Kind   { return NodeMove }
func (NodeDeleteOp) Kind() Kind { return NodeDelete }
func (EdgeCreateOp) Kind() Kind { return EdgeCreate }
func (EdgeUpdateOp) Kind() Kind { return EdgeUpdate }
func (EdgeDeleteOp) Kind() Kind { return EdgeDelete }

func (o NodeCreateOp) EntityID() string { return o.ID }
func (o NodeUpdateOp) EntityID() string { return o.ID }
func (o NodeMoveOp) EntityID() string   { return o.ID }
func (o NodeDeleteOp) EntityID() string { return o.ID }
func (o EdgeCreateOp) EntityID() string { return o.ID }
func (o EdgeUpdateOp) EntityID() string { return o.ID }
func (o EdgeDeleteOp) EntityID() string { return o.ID }

func (o NodeCreateOp) validate() error {
	if o.Width < 0 || o.Height < 0 {
		return fmt.Errorf("%w: width and height must not be negative", ErrInvalidOperation)
	}

	return nil
}

func (o NodeUpdateOp) validate() error { return o.Patch.validate() }
func (NodeMoveOp) validate() error     { return nil }
func (NodeDeleteOp) validate() error   { return nil }

func (o EdgeCreateOp) validate() error {
	if o.SourceID == "" || o.TargetID == "" {
		return fmt.Errorf("%w: sourceId and targetId are required", ErrInvalidOperation)
	}

	if o.RelationKind == "" {
		return fmt.Errorf("%w: kind is required", ErrInvalidOperation)
	}

	return nil
}

func (o EdgeUpdateOp) validate() error { return o.Patch.validate() }
func (EdgeDeleteOp) validate() error   { return nil }

func (p Patch) validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: patch must not be empty", ErrInvalidOperation)
	}

	if _, ok := p["id"]; ok {
		return fmt.Errorf("%w: patch must not change id", ErrInvalidOperation)
	}

	return nil
}

// Validate checks the common fields and the kind specific ones.
func Validate(op Operation) error {
	if op == nil {
		return fmt.Errorf("%w: missing operation", ErrInvalidOperation)
	}

	if op.EntityID() == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidOperation)
	}

	return op.validate()
}

// DecodeOperation parses the stored payload of an operation of the given kind.
func DecodeOperation(kind Kind, payload []byte) (Operation, error) {
	var (
		op  Operation
		err error
	)

	switch kind {
	case NodeCreate:
		op, err = decodeAs[NodeCreateOp](payload)
	case NodeUpdate:
		op, err = decodeAs[NodeUpdateOp](payload)
	case NodeMove:
		op, err = decodeAs[NodeMoveOp](payload)
	case NodeDelete:
		op, err = decodeAs[NodeDeleteOp](payload)
	case EdgeCreate:
		op, err = decodeAs[EdgeCreateOp](payload)
	case EdgeUpdate:
		op, err = decodeAs[EdgeUpdateOp](payload)
	case EdgeDelete:
		op, err = decodeAs[EdgeDeleteOp](payload)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, kind)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOperation, err.Error())
	}

	return op, nil
}

func decodeAs[T Operation](payload []byte) (Operation, error) {
	var op T
	if err := json.Unmarshal(payload, &op); err != nil {
		return nil, err
	}

	return op, nil
}
