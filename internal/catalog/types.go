// Package catalog maintains the locally cached set of node type schemas
// advertised by the remote engine. The registry is replaced wholesale on
// every refresh and read through an immutable snapshot, so foreground
// validation never observes a half-updated catalog.
package catalog

import (
	"github.com/zclconf/go-cty/cty"
)

// DataKind classifies what flows through a port.
type DataKind string

const (
	KindAny       DataKind = "any"
	KindTensor    DataKind = "tensor"
	KindScalar    DataKind = "scalar"
	KindEnum      DataKind = "enum"
	KindReference DataKind = "reference"
)

func (k DataKind) valid() bool {
	switch k {
	case KindAny, KindTensor, KindScalar, KindEnum, KindReference:
		return true
	}
	return false
}

// Element dtypes understood for tensor and scalar ports.
var validDtypes = map[string]struct{}{
	"float16": {}, "float32": {}, "float64": {},
	"int32": {}, "int64": {},
	"uint8": {}, "uint16": {},
	"bool": {},
	"any":  {},
}

// PortSchema describes one typed connection point on a node type.
type PortSchema struct {
	Name string
	Kind DataKind

	// Dtype is the element type for tensor and scalar ports ("any" accepts
	// every element type).
	Dtype string

	// Shape constrains tensor ports. nil means unconstrained; a dimension
	// of -1 is a wildcard. Rank 0 (an empty, non-nil slice) is a scalar
	// tensor.
	Shape []int64

	// EnumValues is the admissible value set for enum ports.
	EnumValues []string

	// RefCategory names the category a reference port points at.
	RefCategory string

	Optional bool

	// Multi allows more than one incoming edge on an input port. The
	// attachment order of those edges is significant and preserved.
	Multi bool

	Description string
}

// Constraints restricts the values a parameter may take.
type Constraints struct {
	OneOf []string
	Min   *float64
	Max   *float64
}

// ParamSchema describes one declared parameter of a node type.
type ParamSchema struct {
	Name string

	// KindName is the wire spelling of the parameter type, e.g. "string"
	// or "list(number)". Type is its parsed cty form.
	KindName string
	Type     cty.Type

	// Default is cty.NilVal when the parameter has no default.
	Default cty.Value

	Constraints Constraints
	Description string
}

// NodeTypeSchema is the immutable description of one operator type. It is
// created by the synchronizer and read-only everywhere else.
type NodeTypeSchema struct {
	TypeName    string
	Category    string
	Description string
	Inputs      []PortSchema
	Outputs     []PortSchema
	Params      []ParamSchema
}

// Input returns the input port schema with the given name.
func (s *NodeTypeSchema) Input(name string) (*PortSchema, bool) {
	for i := range s.Inputs {
		if s.Inputs[i].Name == name {
			return &s.Inputs[i], true
		}
	}
	return nil, false
}

// Output returns the output port schema with the given name.
func (s *NodeTypeSchema) Output(name string) (*PortSchema, bool) {
	for i := range s.Outputs {
		if s.Outputs[i].Name == name {
			return &s.Outputs[i], true
		}
	}
	return nil, false
}

// Param returns the parameter schema with the given name.
func (s *NodeTypeSchema) Param(name string) (*ParamSchema, bool) {
	for i := range s.Params {
		if s.Params[i].Name == name {
			return &s.Params[i], true
		}
	}
	return nil, false
}
